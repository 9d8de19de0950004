package solver

import (
	"context"
	"strings"

	"github.com/git-pkgs/resolve/internal/core"
	"github.com/git-pkgs/resolve/lockfile"
)

// TarballResolver handles patterns whose range segment is a direct archive
// URL, e.g. "foo@https://example.com/foo.tgz#<hash>". The URL fragment, when
// present, carries the expected content hash.
type TarballResolver struct{}

// NewTarballResolver creates a tarball-URL resolver.
func NewTarballResolver() *TarballResolver {
	return &TarballResolver{}
}

var tarballSuffixes = []string{".tgz", ".tar.gz", ".tar"}

// IsApplicable reports whether the pattern's range is an http(s) archive URL.
func (r *TarballResolver) IsApplicable(pattern string) bool {
	rng := lockfile.PatternRange(pattern)
	if !strings.HasPrefix(rng, "http://") && !strings.HasPrefix(rng, "https://") {
		return false
	}
	rng, _, _ = strings.Cut(rng, "#")
	for _, s := range tarballSuffixes {
		if strings.HasSuffix(rng, s) {
			return true
		}
	}
	return false
}

// Resolve builds a manifest pointing straight at the archive URL. The version
// is unknown until the content is fetched and its manifest read; identity
// comes from the URL itself.
func (r *TarballResolver) Resolve(_ context.Context, req Request) (*core.Manifest, error) {
	url, hash, _ := strings.Cut(req.Range, "#")
	return &core.Manifest{
		Name: req.Name,
		Remote: &core.RemoteDescriptor{
			Type:      "tarball",
			Hash:      hash,
			Reference: url,
			Resolved:  url,
		},
	}, nil
}

// IsLockEntryOutdated reports whether the entry's resolved URL no longer
// matches the requested one.
func (r *TarballResolver) IsLockEntryOutdated(e *lockfile.Entry, requestedRange, _ string) bool {
	url, _, _ := strings.Cut(requestedRange, "#")
	return e.Resolved != url
}
