package solver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/git-pkgs/resolve/lockfile"
)

type countingCatalog struct {
	entries map[string][]CatalogEntry
	calls   int
}

func (c *countingCatalog) Candidates(_ context.Context, name string) ([]CatalogEntry, error) {
	c.calls++
	return c.entries[name], nil
}

func TestResolveBasic(t *testing.T) {
	// Ecosystem order prefers 2.0.0-beta1; its pre-release tag is masked
	// while matching "*" but retained in the result.
	catalog := &countingCatalog{entries: map[string][]CatalogEntry{
		"foo": {
			{Version: "1.0.0"},
			{Version: "1.1.0"},
			{Version: "2.0.0-beta1"},
		},
	}}

	r := NewVersionResolver(catalog)
	m, err := r.Resolve(context.Background(), NewRequest("foo@*"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if m.Version != "2.0.0-beta1" {
		t.Errorf("Version = %q, want %q", m.Version, "2.0.0-beta1")
	}
	if m.Remote == nil || m.Remote.Reference != "foo@2.0.0-beta1-2.0.0-beta1.tgz" {
		t.Errorf("Remote = %+v", m.Remote)
	}
}

func TestResolveToolchainNarrowing(t *testing.T) {
	catalog := &countingCatalog{entries: map[string][]CatalogEntry{
		"foo": {
			{Version: "1.0.0", PeerConstraints: map[string]string{"toolchain": "^1.0"}},
			{Version: "1.1.0", PeerConstraints: map[string]string{"toolchain": "^1.0"}},
		},
	}}

	r := NewVersionResolver(catalog,
		WithToolchain(Toolchain{Name: "toolchain", Version: "2.0.0"}))

	_, err := r.Resolve(context.Background(), NewRequest("foo@*", "app", "lib"))
	var narrowed *ToolchainError
	if !errors.As(err, &narrowed) {
		t.Fatalf("Resolve = %v, want *ToolchainError", err)
	}

	var plain *NoVersionError
	if errors.As(err, &plain) {
		t.Error("ToolchainError must not double as NoVersionError")
	}
	if got := narrowed.Error(); !strings.Contains(got, "app > lib") {
		t.Errorf("error lacks parent path: %q", got)
	}
}

func TestResolveTrueAbsence(t *testing.T) {
	catalog := &countingCatalog{entries: map[string][]CatalogEntry{
		"foo": {
			{Version: "1.0.0"},
			{Version: "1.1.0"},
		},
	}}

	for _, toolchain := range []Toolchain{{}, {Name: "toolchain", Version: "2.0.0"}} {
		r := NewVersionResolver(catalog, WithToolchain(toolchain))
		_, err := r.Resolve(context.Background(), NewRequest("foo@>=5.0.0"))
		var notFound *NoVersionError
		if !errors.As(err, &notFound) {
			t.Fatalf("Resolve (toolchain=%+v) = %v, want *NoVersionError", toolchain, err)
		}
	}
}

func TestResolveToolchainEligibleCandidate(t *testing.T) {
	catalog := &countingCatalog{entries: map[string][]CatalogEntry{
		"foo": {
			{Version: "1.0.0"},
			{Version: "1.1.0", PeerConstraints: map[string]string{"toolchain": "^1.0"}},
		},
	}}

	r := NewVersionResolver(catalog,
		WithToolchain(Toolchain{Name: "toolchain", Version: "2.0.0"}))

	// 1.1.0 is filtered out; 1.0.0 declares nothing and stays eligible.
	m, err := r.Resolve(context.Background(), NewRequest("foo@*"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if m.Version != "1.0.0" {
		t.Errorf("Version = %q, want %q", m.Version, "1.0.0")
	}
}

func TestResolvePrereleaseRangeUnmasked(t *testing.T) {
	catalog := &countingCatalog{entries: map[string][]CatalogEntry{
		"foo": {
			{Version: "2.0.0-beta1"},
			{Version: "2.0.0-beta2"},
		},
	}}

	r := NewVersionResolver(catalog)
	m, err := r.Resolve(context.Background(), NewRequest("foo@>=2.0.0-beta1"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if m.Version != "2.0.0-beta2" {
		t.Errorf("Version = %q, want %q", m.Version, "2.0.0-beta2")
	}
}

func TestResolveUsesLockedEntry(t *testing.T) {
	lock := lockfile.New()
	lock.Set("foo@^1.0.0", &lockfile.Entry{Version: "1.2.3"})

	catalog := &countingCatalog{entries: map[string][]CatalogEntry{}}
	r := NewVersionResolver(catalog, WithLockfile(lock))

	m, err := r.Resolve(context.Background(), NewRequest("foo@^1.0.0"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if m.Version != "1.2.3" {
		t.Errorf("Version = %q, want locked %q", m.Version, "1.2.3")
	}
	if catalog.calls != 0 {
		t.Errorf("catalog consulted %d times for a current lock entry", catalog.calls)
	}
}

func TestResolveUsesLockedPrereleaseEntry(t *testing.T) {
	lock := lockfile.New()
	lock.Set("foo@2.0.0-beta1", &lockfile.Entry{Version: "2.0.0-beta1"})

	catalog := &countingCatalog{entries: map[string][]CatalogEntry{}}
	r := NewVersionResolver(catalog, WithLockfile(lock))

	m, err := r.Resolve(context.Background(), NewRequest("foo@2.0.0-beta1"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if m.Version != "2.0.0-beta1" {
		t.Errorf("Version = %q, want locked %q", m.Version, "2.0.0-beta1")
	}
	if catalog.calls != 0 {
		t.Errorf("catalog consulted %d times for a current lock entry", catalog.calls)
	}
}

func TestResolveForgetsOutdatedEntry(t *testing.T) {
	lock := lockfile.New()
	lock.Set("foo@^2.0.0", &lockfile.Entry{Version: "1.2.3"})

	catalog := &countingCatalog{entries: map[string][]CatalogEntry{
		"foo": {{Version: "2.1.0"}},
	}}
	r := NewVersionResolver(catalog, WithLockfile(lock))

	m, err := r.Resolve(context.Background(), NewRequest("foo@^2.0.0"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if m.Version != "2.1.0" {
		t.Errorf("Version = %q, want %q", m.Version, "2.1.0")
	}
	if lock.Lookup("foo@^2.0.0") != nil {
		t.Error("outdated entry still present after re-resolution")
	}
}

func TestIsLockEntryOutdated(t *testing.T) {
	r := NewVersionResolver(nil, WithToolchain(Toolchain{Name: "toolchain"}))

	tests := []struct {
		name      string
		entry     lockfile.Entry
		rng       string
		toolchain string
		want      bool
	}{
		{
			name:  "current entry",
			entry: lockfile.Entry{Name: "foo", Version: "1.2.3", UID: "1.2.3"},
			rng:   "^1.0.0",
			want:  false,
		},
		{
			name:  "current prerelease entry with defaulted uid",
			entry: lockfile.Entry{Name: "foo", Version: "2.0.0-beta1", UID: "2.0.0-beta1"},
			rng:   "2.0.0-beta1",
			want:  false,
		},
		{
			name:  "range moved on",
			entry: lockfile.Entry{Name: "foo", Version: "1.2.3", UID: "1.2.3"},
			rng:   "^2.0.0",
			want:  true,
		},
		{
			name: "unparsable resolved identity is never trusted",
			entry: lockfile.Entry{
				Name: "foo", Version: "1.2.3", UID: "1.2.3",
				Resolved: "https://registry.example/not-a-reference.zip",
			},
			rng:  "^1.0.0",
			want: true,
		},
		{
			name: "toolchain constraint no longer satisfied",
			entry: lockfile.Entry{
				Name: "foo", Version: "1.2.3", UID: "1.2.3",
				PeerDependencies: map[string]string{"toolchain": "^1.0"},
			},
			rng:       "^1.0.0",
			toolchain: "2.0.0",
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsLockEntryOutdated(&tt.entry, tt.rng, tt.toolchain); got != tt.want {
				t.Errorf("IsLockEntryOutdated = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsApplicable(t *testing.T) {
	r := NewVersionResolver(nil)

	tests := []struct {
		pattern string
		want    bool
	}{
		{"foo@^1.0.0", true},
		{"foo@*", true},
		{"foo", true},
		{"@scope/foo@>=1.0.0 <2.0.0", true},
		{"foo@https://example.com/foo.tgz", false},
	}

	for _, tt := range tests {
		if got := r.IsApplicable(tt.pattern); got != tt.want {
			t.Errorf("IsApplicable(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	version := NewVersionResolver(nil)
	tarball := NewTarballResolver()

	r, ok := Match("foo@https://example.com/foo.tgz#abc", tarball, version)
	if !ok || r != Exotic(tarball) {
		t.Errorf("Match picked %T", r)
	}

	r, ok = Match("foo@^1.0.0", tarball, version)
	if !ok || r != Exotic(version) {
		t.Errorf("Match picked %T", r)
	}
}

func TestTarballResolver(t *testing.T) {
	r := NewTarballResolver()
	req := NewRequest("foo@https://example.com/foo-1.0.0.tgz#deadbeef")

	m, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if m.Remote.Resolved != "https://example.com/foo-1.0.0.tgz" {
		t.Errorf("Resolved = %q", m.Remote.Resolved)
	}
	if m.Remote.Hash != "deadbeef" {
		t.Errorf("Hash = %q", m.Remote.Hash)
	}

	entry := &lockfile.Entry{Version: "1.0.0", Resolved: "https://example.com/foo-1.0.0.tgz"}
	if r.IsLockEntryOutdated(entry, req.Range, "") {
		t.Error("matching URL reported outdated")
	}
	if !r.IsLockEntryOutdated(entry, "https://example.com/foo-2.0.0.tgz", "") {
		t.Error("changed URL not reported outdated")
	}
}

