// Package resolve implements the resolution-and-lock core of a package
// manager: a lockfile data model with merge-conflict reconciliation, a
// pluggable resolver protocol with version and toolchain constraint solving,
// and a verified fetch pipeline.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/resolve"
//		"github.com/git-pkgs/resolve/solver"
//	)
//
//	vr := solver.NewVersionResolver(catalog)
//	session := resolve.NewSession(resolve.WithResolvers(vr))
//	if err := session.Resolve(context.Background(), "left-pad@^1.3.0"); err != nil {
//		log.Fatal(err)
//	}
//
//	lock, err := session.Lock()
//	if err != nil {
//		log.Fatal(err)
//	}
//	os.WriteFile("resolve.lock", lock.Serialize(), 0o644)
//
// To resolve against an existing lockfile, parse it first and hand it to the
// version resolver:
//
//	lf, outcome, err := resolve.ParseLockfile(data)
//	vr := solver.NewVersionResolver(catalog, solver.WithLockfile(lf))
package resolve

import (
	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/resolve/internal/core"
	"github.com/git-pkgs/resolve/lockfile"
	"github.com/git-pkgs/resolve/reference"
)

// Re-export types from internal/core
type (
	// Manifest is the subset of a package descriptor the core operates on.
	Manifest = core.Manifest

	// RemoteDescriptor describes where resolved package content lives.
	RemoteDescriptor = core.RemoteDescriptor
)

// Re-export lockfile types
type (
	// Lockfile is a parsed lockfile: a pattern-keyed cache of entries and
	// aliases.
	Lockfile = lockfile.Lockfile

	// LockEntry is one locked package record.
	LockEntry = lockfile.Entry

	// LockObject is the serializable pattern-to-entry mapping a resolution
	// produces.
	LockObject = lockfile.Object

	// ParseOutcome reports how a lockfile parse went: clean, merged from
	// conflict markers, or conflicted.
	ParseOutcome = lockfile.ParseOutcome

	// Reference is a structured package content reference.
	Reference = reference.Reference
)

// Re-export constants
const (
	DefaultRegistry = core.DefaultRegistry

	ParseClean      = lockfile.OutcomeClean
	ParseMerged     = lockfile.OutcomeMerged
	ParseConflicted = lockfile.OutcomeConflicted
)

// Re-export errors
var (
	ErrInvariant          = core.ErrInvariant
	ErrMalformedReference = reference.ErrMalformed
)

// Error types
type (
	MissingReferenceError = core.MissingReferenceError
	MissingRemoteError    = core.MissingRemoteError
	LockParseError        = lockfile.ParseError
)

// ParseLockfile parses lockfile text, reconciling git merge markers when
// present.
func ParseLockfile(data []byte) (*Lockfile, ParseOutcome, error) {
	return lockfile.Parse(data)
}

// BuildLock derives the lock object for a completed resolution. The input
// maps each requested pattern to the manifest it resolved to.
func BuildLock(resolved map[string]*Manifest) (LockObject, error) {
	return lockfile.Build(resolved)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
// Supports both package PURLs (pkg:npm/left-pad) and version PURLs
// (pkg:npm/left-pad@1.3.0).
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}
