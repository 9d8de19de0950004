// Package core provides the shared data model for the resolution-and-lock core.
package core

// DefaultRegistry is the registry assumed when a record does not name one.
const DefaultRegistry = "npm"

// RemoteDescriptor describes where the content for a resolved package lives.
// A resolver constructs it once; it is never modified afterwards.
type RemoteDescriptor struct {
	Type      string // "tarball", "copy", ...
	Registry  string
	Hash      string // content digest declared by the catalog
	Reference string // canonical reference string, e.g. "foo@1.2.3-abc.tgz"
	Resolved  string // download URL, when known at resolution time
}

// IdentityKey returns the key used to detect that two patterns resolved to
// identical content. It prefers the resolved URL, falls back to
// reference#hash, and reports false when the descriptor carries neither
// (such content is never deduplicated).
func (r *RemoteDescriptor) IdentityKey() (string, bool) {
	if r.Resolved != "" {
		return r.Resolved, true
	}
	if r.Reference != "" {
		return r.Reference + "#" + r.Hash, true
	}
	return "", false
}

// Manifest is the subset of a package descriptor the core operates on.
// Full manifest parsing and validation happen upstream.
type Manifest struct {
	Name    string
	Version string
	UID     string // build identifier; equals Version when the catalog declares none

	Dependencies         map[string]string
	PeerDependencies     map[string]string
	OptionalDependencies map[string]string
	Permissions          map[string]bool

	Remote *RemoteDescriptor
}
