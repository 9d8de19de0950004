package resolve

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/resolve/fetch"
	"github.com/git-pkgs/resolve/internal/core"
	"github.com/git-pkgs/resolve/lockfile"
	"github.com/git-pkgs/resolve/solver"
)

// Session drives one resolution run: it walks requested patterns and their
// transitive dependencies through the configured resolvers, accumulates the
// resolved manifests, and can derive a lock object or materialize the
// content on disk.
//
// Resolve may be called repeatedly; later calls see earlier results. Methods
// are safe for concurrent use.
type Session struct {
	resolvers   []solver.Exotic
	pipeline    *fetch.Pipeline
	concurrency int
	logger      *log.Logger

	mu       sync.Mutex
	resolved map[string]*core.Manifest
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithResolvers sets the resolvers consulted for each pattern, in order.
func WithResolvers(resolvers ...solver.Exotic) SessionOption {
	return func(s *Session) {
		s.resolvers = resolvers
	}
}

// WithPipeline sets the fetch pipeline Install uses.
func WithPipeline(p *fetch.Pipeline) SessionOption {
	return func(s *Session) {
		s.pipeline = p
	}
}

// WithConcurrency caps how many fetches Install runs in parallel.
func WithConcurrency(n int) SessionOption {
	return func(s *Session) {
		s.concurrency = n
	}
}

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *log.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// NewSession creates a session. Without WithResolvers it can only resolve
// nothing; callers wire at least one resolver.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		concurrency: 8,
		logger:      log.New(io.Discard),
		resolved:    make(map[string]*core.Manifest),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve resolves the given patterns and their transitive dependencies.
// Patterns may be name@range pairs or Package URLs (pkg:npm/left-pad@1.3.0).
// A pattern already resolved in this session is not resolved again.
func (s *Session) Resolve(ctx context.Context, patterns ...string) error {
	type item struct {
		pattern string
		parents []string
	}

	queue := make([]item, 0, len(patterns))
	for _, p := range patterns {
		queue = append(queue, item{pattern: p})
	}

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		pattern, err := normalizePattern(it.pattern)
		if err != nil {
			return err
		}

		s.mu.Lock()
		_, done := s.resolved[pattern]
		s.mu.Unlock()
		if done {
			continue
		}

		r, ok := solver.Match(pattern, s.resolvers...)
		if !ok {
			return fmt.Errorf("no resolver handles %q", pattern)
		}

		m, err := r.Resolve(ctx, solver.NewRequest(pattern, it.parents...))
		if err != nil {
			return err
		}
		s.logger.Debugf("resolved %s to %s@%s", pattern, m.Name, m.Version)

		s.mu.Lock()
		s.resolved[pattern] = m
		s.mu.Unlock()

		parents := append(append([]string(nil), it.parents...), m.Name)
		for name, rng := range m.Dependencies {
			queue = append(queue, item{pattern: name + "@" + rng, parents: parents})
		}
		for name, rng := range m.OptionalDependencies {
			queue = append(queue, item{pattern: name + "@" + rng, parents: parents})
		}
	}
	return nil
}

// Resolved returns a copy of the pattern-to-manifest results so far.
func (s *Session) Resolved() map[string]*Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Manifest, len(s.resolved))
	for k, v := range s.resolved {
		out[k] = v
	}
	return out
}

// Lock derives the lock object for the session's resolution results.
func (s *Session) Lock() (LockObject, error) {
	return lockfile.Build(s.Resolved())
}

// Install materializes every resolved package under root, one directory per
// name and version, verifying each download against its declared hash.
// Packages resolved from multiple patterns to identical content are fetched
// once.
func (s *Session) Install(ctx context.Context, root string) error {
	if s.pipeline == nil {
		return fmt.Errorf("no fetch pipeline configured")
	}

	seen := make(map[string]struct{})
	var jobs []fetch.Job
	for _, m := range s.Resolved() {
		if m.Remote == nil {
			continue
		}
		key, ok := m.Remote.IdentityKey()
		if !ok {
			key = m.Name + "@" + m.Version
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		resolved := m.Remote.Resolved
		if resolved == "" {
			resolved = m.Remote.Reference
		}
		jobs = append(jobs, fetch.Job{
			Resolved: resolved,
			Hash:     m.Remote.Hash,
			Dest:     filepath.Join(root, filepath.FromSlash(m.Name), m.Version),
		})
	}

	s.logger.Infof("installing %d packages into %s", len(jobs), root)
	return s.pipeline.FetchAll(ctx, jobs, s.concurrency)
}

// normalizePattern turns a Package URL into the name@range form; anything
// else passes through unchanged.
func normalizePattern(pattern string) (string, error) {
	if len(pattern) < 4 || pattern[:4] != "pkg:" {
		return pattern, nil
	}
	p, err := ParsePURL(pattern)
	if err != nil {
		return "", fmt.Errorf("parsing pattern %q: %w", pattern, err)
	}
	name := p.FullName()
	if p.Version == "" {
		return name, nil
	}
	return name + "@" + p.Version, nil
}
