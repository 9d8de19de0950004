package solver

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"

	"github.com/git-pkgs/resolve/internal/core"
	"github.com/git-pkgs/resolve/lockfile"
	"github.com/git-pkgs/resolve/reference"
)

// Toolchain identifies the installed toolchain candidates are checked
// against. A candidate declaring a peer constraint for Toolchain.Name is
// eligible only if Version satisfies that constraint.
type Toolchain struct {
	Name    string
	Version string
}

// VersionResolver resolves semantic-version range patterns against a version
// catalog, narrowed by an optional toolchain constraint.
type VersionResolver struct {
	catalog   Catalog
	lock      *lockfile.Lockfile
	toolchain Toolchain
	prefer    func(a, b string) bool
	logger    *log.Logger
}

// VersionOption configures a VersionResolver.
type VersionOption func(*VersionResolver)

// WithLockfile lets the resolver return previously locked entries without
// touching the catalog.
func WithLockfile(l *lockfile.Lockfile) VersionOption {
	return func(r *VersionResolver) {
		r.lock = l
	}
}

// WithToolchain sets the installed toolchain used to filter candidates.
func WithToolchain(t Toolchain) VersionOption {
	return func(r *VersionResolver) {
		r.toolchain = t
	}
}

// WithOrdering overrides the descending candidate order. prefer reports
// whether version a outranks version b in the package ecosystem's total
// order; the default is generic semantic-version precedence.
func WithOrdering(prefer func(a, b string) bool) VersionOption {
	return func(r *VersionResolver) {
		r.prefer = prefer
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(l *log.Logger) VersionOption {
	return func(r *VersionResolver) {
		r.logger = l
	}
}

// NewVersionResolver creates a resolver backed by the given catalog.
func NewVersionResolver(catalog Catalog, opts ...VersionOption) *VersionResolver {
	r := &VersionResolver{
		catalog: catalog,
		prefer:  semverPrefer,
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsApplicable reports whether the pattern's range segment parses as a
// semantic-version range. Patterns without a range request any version.
func (r *VersionResolver) IsApplicable(pattern string) bool {
	rng := lockfile.PatternRange(pattern)
	if rng == "" {
		return true
	}
	_, err := semver.NewConstraint(rng)
	return err == nil
}

// Resolve picks exactly one catalog version for the request. A locked entry
// that is still current is returned without consulting the catalog.
func (r *VersionResolver) Resolve(ctx context.Context, req Request) (*core.Manifest, error) {
	if r.lock != nil {
		if e := r.lock.Lookup(req.Pattern); e != nil {
			if !r.IsLockEntryOutdated(e, req.Range, r.toolchain.Version) {
				r.logger.Debugf("using locked %s@%s for %s", e.Name, e.Version, req.Pattern)
				return manifestFromEntry(e), nil
			}
			r.lock.Forget(req.Pattern)
		}
	}

	candidates, err := r.catalog.Candidates(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("fetching candidates for %s: %w", req.Name, err)
	}

	pick, out := r.solve(req.Range, candidates, r.toolchain.Version)
	switch out {
	case solved:
	case noneForToolchain:
		return nil, &ToolchainError{Name: req.Name, Range: req.Range, Toolchain: r.toolchain, Parents: req.Parents}
	default:
		return nil, &NoVersionError{Name: req.Name, Range: req.Range, Parents: req.Parents}
	}

	uid := pick.UID
	if uid == "" {
		uid = pick.Version
	}
	ref := reference.New(req.Name, pick.Version, uid)
	r.logger.Debugf("resolved %s to %s", req.Pattern, ref)

	return &core.Manifest{
		Name:                 req.Name,
		Version:              pick.Version,
		UID:                  uid,
		Dependencies:         pick.Dependencies,
		PeerDependencies:     pick.PeerDependencies,
		OptionalDependencies: pick.OptionalDependencies,
		Remote: &core.RemoteDescriptor{
			Type:      "tarball",
			Registry:  core.DefaultRegistry,
			Hash:      pick.Hash,
			Reference: ref.String(),
			Resolved:  pick.Tarball,
		},
	}, nil
}

// IsLockEntryOutdated re-runs the constraint check against a one-candidate
// catalog built from the entry. An entry carrying a resolved identity that
// cannot be parsed back into a structured reference is never trusted; an
// entry without one is judged on its own version and uid.
func (r *VersionResolver) IsLockEntryOutdated(e *lockfile.Entry, requestedRange, toolchainVersion string) bool {
	version, uid := e.Version, e.UID
	if uid == "" {
		uid = version
	}
	if e.Resolved != "" {
		ref, err := reference.ParseBase(e.Resolved)
		if err != nil {
			return true
		}
		version, uid = ref.Version, ref.UID
	}

	candidate := CatalogEntry{
		Version:         version,
		UID:             uid,
		PeerConstraints: e.PeerDependencies,
	}
	_, out := r.solve(requestedRange, []CatalogEntry{candidate}, toolchainVersion)
	return out != solved
}

type outcome int

const (
	solved outcome = iota
	noneForToolchain
	none
)

// solve evaluates the requested range over the candidates and reports the
// three-way outcome: a winning candidate, a miss caused only by the
// toolchain filter, or a plain miss.
func (r *VersionResolver) solve(rng string, candidates []CatalogEntry, toolchainVersion string) (*CatalogEntry, outcome) {
	if rng == "" {
		rng = "*"
	}
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return nil, none
	}

	// When the requested range does not itself reference a pre-release,
	// candidates' pre-release tags are masked off for matching so "any
	// released version" ranges still admit tagged candidates. The full
	// version is what gets reported.
	mask := !rangeWantsPrerelease(rng)

	ordered := make([]CatalogEntry, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return r.prefer(ordered[i].Version, ordered[j].Version)
	})

	match := func(skipFilter bool) *CatalogEntry {
		for i := range ordered {
			cand := &ordered[i]
			if !skipFilter && !r.eligible(cand, toolchainVersion) {
				continue
			}
			v, err := semver.NewVersion(cand.Version)
			if err != nil {
				continue
			}
			if mask && v.Prerelease() != "" {
				stripped, err := v.SetPrerelease("")
				if err != nil {
					continue
				}
				stripped, err = stripped.SetMetadata("")
				if err != nil {
					continue
				}
				v = &stripped
			}
			if constraint.Check(v) {
				return cand
			}
		}
		return nil
	}

	if pick := match(false); pick != nil {
		return pick, solved
	}
	if toolchainVersion != "" {
		if pick := match(true); pick != nil {
			return pick, noneForToolchain
		}
	}
	return nil, none
}

// eligible applies the toolchain filter. Candidates that declare no
// constraint for the installed toolchain always pass; a malformed
// declaration is treated as unsatisfied.
func (r *VersionResolver) eligible(c *CatalogEntry, toolchainVersion string) bool {
	if toolchainVersion == "" || r.toolchain.Name == "" {
		return true
	}
	declared, ok := c.PeerConstraints[r.toolchain.Name]
	if !ok || declared == "" {
		return true
	}
	constraint, err := semver.NewConstraint(declared)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(toolchainVersion)
	if err != nil {
		return false
	}
	return constraint.Check(v)
}

// rangeWantsPrerelease reports whether the range itself references a
// pre-release version.
func rangeWantsPrerelease(rng string) bool {
	cleaned := strings.NewReplacer("||", " ", ",", " ").Replace(rng)
	for _, tok := range strings.Fields(cleaned) {
		tok = strings.TrimLeft(tok, "^~><= ")
		tok = strings.TrimPrefix(tok, "v")
		if tok == "" || tok == "-" {
			continue
		}
		v, err := semver.NewVersion(tok)
		if err != nil {
			continue
		}
		if v.Prerelease() != "" {
			return true
		}
	}
	return false
}

func semverPrefer(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return va.GreaterThan(vb)
}

func manifestFromEntry(e *lockfile.Entry) *core.Manifest {
	return &core.Manifest{
		Name:                 e.Name,
		Version:              e.Version,
		UID:                  e.UID,
		Permissions:          e.Permissions,
		Dependencies:         e.Dependencies,
		PeerDependencies:     e.PeerDependencies,
		OptionalDependencies: e.OptionalDependencies,
		Remote: &core.RemoteDescriptor{
			Type:      "tarball",
			Registry:  e.Registry,
			Reference: reference.New(e.Name, e.Version, e.UID).String(),
			Resolved:  e.Resolved,
		},
	}
}
