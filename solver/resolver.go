// Package solver implements the exotic resolver protocol and its
// version-constraint instance: picking exactly one catalog version for a
// requested range, optionally narrowed by a toolchain-compatibility
// constraint, with a distinct outcome when only the narrowing caused the
// miss.
package solver

import (
	"context"

	"github.com/git-pkgs/resolve/internal/core"
	"github.com/git-pkgs/resolve/lockfile"
)

// Request is one resolution request handed to an exotic resolver.
type Request struct {
	Pattern string
	Name    string
	Range   string

	// Parents is the chain of requesting package names, outermost first,
	// carried into error messages.
	Parents []string
}

// NewRequest builds a request by splitting the pattern into its name and
// range segments.
func NewRequest(pattern string, parents ...string) Request {
	return Request{
		Pattern: pattern,
		Name:    lockfile.PatternName(pattern),
		Range:   lockfile.PatternRange(pattern),
		Parents: parents,
	}
}

// Exotic is the protocol shared by resolvers for non-default-registry
// package sources.
type Exotic interface {
	// IsApplicable reports whether this resolver handles the pattern.
	IsApplicable(pattern string) bool

	// Resolve picks content for the request and returns its manifest.
	Resolve(ctx context.Context, req Request) (*core.Manifest, error)

	// IsLockEntryOutdated reports whether an existing lock entry no longer
	// satisfies the requested range under the given toolchain version.
	IsLockEntryOutdated(entry *lockfile.Entry, requestedRange, toolchainVersion string) bool
}

// Match returns the first resolver that handles the pattern.
func Match(pattern string, resolvers ...Exotic) (Exotic, bool) {
	for _, r := range resolvers {
		if r.IsApplicable(pattern) {
			return r, true
		}
	}
	return nil, false
}
