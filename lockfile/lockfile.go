// Package lockfile implements the lock data model: parsing and serialization
// of the persisted lock text format, alias-aware pattern lookup, the
// minimal/full entry transforms, and the deterministic canonicalization pass
// that folds resolved packages into one deduplicated lockfile object.
package lockfile

import (
	"sort"

	"github.com/git-pkgs/resolve/internal/core"
)

// maxAliasHops caps alias-chain traversal so a cyclic lockfile cannot hang
// lookup.
const maxAliasHops = 32

// node is one stored binding: either a concrete entry or an alias to another
// pattern.
type node struct {
	alias string
	entry *Entry
}

// Lockfile is the mapping from request pattern to lock entry.
type Lockfile struct {
	cache map[string]*node
}

// New returns an empty lockfile.
func New() *Lockfile {
	return &Lockfile{cache: make(map[string]*node)}
}

// Set binds a pattern to a concrete entry.
func (l *Lockfile) Set(pattern string, e *Entry) {
	l.cache[pattern] = &node{entry: e}
}

// SetAlias binds a pattern to another pattern.
func (l *Lockfile) SetAlias(pattern, target string) {
	l.cache[pattern] = &node{alias: target}
}

// Lookup resolves a pattern to its entry, following alias chains up to
// maxAliasHops. On a hit the entry is exploded in place so callers always see
// a fully populated record. Returns nil when the pattern is unbound or the
// chain is cyclic or too long.
func (l *Lockfile) Lookup(pattern string) *Entry {
	seen := 0
	for {
		n, ok := l.cache[pattern]
		if !ok {
			return nil
		}
		if n.entry != nil {
			n.entry.Explode(pattern)
			return n.entry
		}
		seen++
		if seen > maxAliasHops {
			return nil
		}
		pattern = n.alias
	}
}

// Forget removes a pattern's binding, typically because its resolution was
// found stale.
func (l *Lockfile) Forget(pattern string) {
	delete(l.cache, pattern)
}

// Len reports how many patterns are bound, aliases included.
func (l *Lockfile) Len() int {
	return len(l.cache)
}

// Object is a canonical pattern -> entry mapping ready for serialization.
// Patterns whose content shares a remote identity map to the same *Entry.
type Object map[string]*Entry

// Build folds resolved packages into a canonical Object. Patterns are
// processed in lexicographic order, so among patterns sharing a remote
// identity the lexicographically first owns the canonical entry and later
// ones alias it; this is what makes serialized output reproducible across
// runs with different resolution orders. Entries are imploded so defaulted
// fields stay out of the output.
//
// Build fails with MissingRemoteError or MissingReferenceError when a record
// lacks the descriptor fields identity is computed from; these indicate an
// inconsistent resolution graph and abort the whole pass.
func Build(resolved map[string]*core.Manifest) (Object, error) {
	patterns := make([]string, 0, len(resolved))
	for p := range resolved {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	out := make(Object, len(patterns))
	owners := make(map[string]*Entry)

	for _, pattern := range patterns {
		m := resolved[pattern]
		if m.Remote == nil {
			return nil, &core.MissingRemoteError{Pattern: pattern}
		}
		if m.Remote.Reference == "" && m.Remote.Resolved == "" {
			return nil, &core.MissingReferenceError{Pattern: pattern}
		}

		key, hasIdentity := m.Remote.IdentityKey()
		if hasIdentity {
			if owner, ok := owners[key]; ok {
				// A later pattern naming the package explicitly backfills a
				// name the owner's pattern left implicit.
				if owner.Name == "" && m.Name != PatternName(pattern) {
					owner.Name = m.Name
				}
				out[pattern] = owner
				continue
			}
		}

		e := entryFromManifest(m)
		e = e.Implode(pattern)
		out[pattern] = e
		if hasIdentity {
			owners[key] = e
		}
	}

	return out, nil
}

func entryFromManifest(m *core.Manifest) *Entry {
	return &Entry{
		Name:                 m.Name,
		Version:              m.Version,
		UID:                  m.UID,
		Resolved:             m.Remote.Resolved,
		Registry:             m.Remote.Registry,
		Permissions:          m.Permissions,
		Dependencies:         m.Dependencies,
		PeerDependencies:     m.PeerDependencies,
		OptionalDependencies: m.OptionalDependencies,
	}
}
