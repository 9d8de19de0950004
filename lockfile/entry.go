package lockfile

import (
	"strings"

	"github.com/git-pkgs/resolve/internal/core"
)

// DefaultRegistry is the registry assumed when an entry does not name one.
const DefaultRegistry = core.DefaultRegistry

// Entry is one locked package record. The zero value of each optional field
// stands for "equal to its computable default": UID defaults to Version,
// Registry to DefaultRegistry, and Name to the name segment of the owning
// pattern.
type Entry struct {
	Name     string
	Version  string
	UID      string
	Resolved string
	Registry string

	Permissions          map[string]bool
	Dependencies         map[string]string
	PeerDependencies     map[string]string
	OptionalDependencies map[string]string
}

// PatternName returns the name segment of a request pattern, including any
// scope prefix: "@scope/foo@^1.0.0" yields "@scope/foo".
func PatternName(pattern string) string {
	rest := pattern
	var scope string
	if after, ok := strings.CutPrefix(pattern, "@"); ok {
		i := strings.Index(after, "/")
		if i < 0 {
			return pattern
		}
		scope = pattern[:i+2]
		rest = after[i+1:]
	}
	if i := strings.Index(rest, "@"); i >= 0 {
		return scope + rest[:i]
	}
	return pattern
}

// PatternRange returns the range segment of a request pattern, or "" when the
// pattern carries none.
func PatternRange(pattern string) string {
	name := PatternName(pattern)
	if len(name) < len(pattern) {
		return pattern[len(name)+1:]
	}
	return ""
}

// Explode fills every defaulted field of e in place, using pattern to infer a
// missing name. After Explode the entry is fully populated.
func (e *Entry) Explode(pattern string) {
	if e.UID == "" {
		e.UID = e.Version
	}
	if e.Registry == "" {
		e.Registry = DefaultRegistry
	}
	if e.Name == "" {
		e.Name = PatternName(pattern)
	}
}

// Implode returns a copy of e with every field that equals its computable
// default blanked, keeping the serialized form compact. Explode and Implode
// are inverses up to defaulted fields: Explode(Implode(p, e)) == Explode(e).
func (e *Entry) Implode(pattern string) *Entry {
	c := *e
	if c.UID == c.Version {
		c.UID = ""
	}
	if c.Registry == DefaultRegistry {
		c.Registry = ""
	}
	if c.Name == PatternName(pattern) {
		c.Name = ""
	}
	return &c
}
