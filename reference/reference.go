// Package reference parses and formats resolved package references.
//
// A resolved reference has the form "name@version-uid.tgz", optionally
// prefixed with a scope: "@scope/name@1.2.3-abc.tgz". The uid is the final
// "-"-delimited segment before the ".tgz" suffix; the version is everything
// between the "@" after the name and that segment. A symmetric tail of the
// form "version-version", produced when the uid defaulted to the version, is
// recognized as a whole so hyphenated versions still round-trip. Parse and
// String are mutual inverses.
package reference

import (
	"errors"
	"fmt"
	"strings"
)

const suffix = ".tgz"

// ErrMalformed is returned when a string cannot be parsed as a reference.
var ErrMalformed = errors.New("malformed package reference")

// Reference is the structured form of a resolved package identifier.
type Reference struct {
	Scope   string // without the leading "@"
	Name    string
	Version string
	UID     string
}

// New builds a reference from a possibly-scoped full name. An empty uid
// defaults to the version.
func New(fullName, version, uid string) *Reference {
	r := &Reference{Version: version, UID: uid}
	if r.UID == "" {
		r.UID = version
	}
	if after, ok := strings.CutPrefix(fullName, "@"); ok {
		if scope, name, ok := strings.Cut(after, "/"); ok {
			r.Scope = scope
			r.Name = name
			return r
		}
	}
	r.Name = fullName
	return r
}

// Parse parses a resolved reference string.
func Parse(s string) (*Reference, error) {
	rest := s
	var scope string
	if after, ok := strings.CutPrefix(rest, "@"); ok {
		i := strings.Index(after, "/")
		if i <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		scope = after[:i]
		rest = after[i+1:]
	}

	rest, ok := strings.CutSuffix(rest, suffix)
	if !ok {
		return nil, fmt.Errorf("%w: %q lacks %s suffix", ErrMalformed, s, suffix)
	}

	name, tail, ok := strings.Cut(rest, "@")
	if !ok || name == "" || strings.ContainsAny(name, "/:") {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	if v, ok := splitDefaultUID(tail); ok {
		return &Reference{Scope: scope, Name: name, Version: v, UID: v}, nil
	}

	j := strings.LastIndex(tail, "-")
	if j <= 0 || j == len(tail)-1 {
		return nil, fmt.Errorf("%w: %q has no uid segment", ErrMalformed, s)
	}

	return &Reference{
		Scope:   scope,
		Name:    name,
		Version: tail[:j],
		UID:     tail[j+1:],
	}, nil
}

// splitDefaultUID detects the "version-version" shape a defaulted uid
// produces. Splitting such a tail at its last "-" misreads any hyphenated
// version ("2.0.0-beta1-2.0.0-beta1" would come apart mid-version), so the
// symmetric shape takes precedence over the generic split.
func splitDefaultUID(tail string) (string, bool) {
	if len(tail) < 3 || len(tail)%2 == 0 {
		return "", false
	}
	mid := len(tail) / 2
	if tail[mid] != '-' || tail[:mid] != tail[mid+1:] {
		return "", false
	}
	return tail[:mid], true
}

// ParseBase parses a reference that may be embedded at the end of a URL-like
// string, e.g. "https://registry.example/foo@1.2.3-abc.tgz".
func ParseBase(s string) (*Reference, error) {
	if r, err := Parse(s); err == nil {
		return r, nil
	}
	if i := strings.LastIndex(s, "/@"); i >= 0 {
		return Parse(s[i+1:])
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return Parse(s[i+1:])
	}
	return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
}

// FullName returns the name with its scope prefix, when present.
func (r *Reference) FullName() string {
	if r.Scope != "" {
		return "@" + r.Scope + "/" + r.Name
	}
	return r.Name
}

// String formats the reference back into its canonical string form.
func (r *Reference) String() string {
	return fmt.Sprintf("%s@%s-%s%s", r.FullName(), r.Version, r.UID, suffix)
}

// PURL returns the package-url form of the reference, e.g.
// "pkg:npm/%40scope/name@1.2.3".
func (r *Reference) PURL(ecosystem string) string {
	if ecosystem == "" {
		ecosystem = "npm"
	}
	if r.Scope != "" {
		return fmt.Sprintf("pkg:%s/%%40%s/%s@%s", ecosystem, r.Scope, r.Name, r.Version)
	}
	return fmt.Sprintf("pkg:%s/%s@%s", ecosystem, r.Name, r.Version)
}
