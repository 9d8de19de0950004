package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/resolve/reference"
)

// Meta is the package metadata needed to materialize content: where to
// download it from and what embedded overrides and patches to apply
// afterwards.
type Meta struct {
	URL     string
	Files   []File
	Patches []Patch
}

// File is a verbatim name/content override written into the destination
// after extraction.
type File struct {
	Name    string
	Content []byte
}

// Patch is an embedded patch applied to the extracted content.
type Patch struct {
	Name    string
	Content []byte
}

// MetaSource looks up fetch metadata for a structured package reference. It
// is the pipeline's view of the package catalog/repository.
type MetaSource interface {
	Lookup(ctx context.Context, ref *reference.Reference) (*Meta, error)
}

// Patcher applies one patch file inside a directory.
type Patcher interface {
	Apply(ctx context.Context, patchFile, dir string) error
}

// ExecPatcher applies patches by invoking the external patch tool.
type ExecPatcher struct {
	// Strip is the -p argument; defaults to 1.
	Strip int
}

func (p ExecPatcher) Apply(ctx context.Context, patchFile, dir string) error {
	strip := p.Strip
	if strip == 0 {
		strip = 1
	}
	cmd := exec.CommandContext(ctx, "patch", fmt.Sprintf("-p%d", strip), "--batch", "-i", patchFile)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("applying patch: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Result reports a completed fetch.
type Result struct {
	// Hash is the digest computed over the downloaded bytes, in the shape of
	// the declared checksum ("" URL-less packages download nothing and report
	// no hash).
	Hash string
	// Location is the destination directory the content was materialized in.
	Location string
}

// Pipeline materializes resolved package content on disk. Steps within one
// fetch are strictly sequential; fetches for different destination
// directories are independent and safe to run in parallel. A destination
// abandoned mid-fetch is in an unverified state and must be re-fetched, not
// resumed.
type Pipeline struct {
	source     MetaSource
	downloader Downloader
	patcher    Patcher
	logger     *log.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithDownloader sets the downloader used for streaming content.
func WithDownloader(d Downloader) PipelineOption {
	return func(p *Pipeline) {
		p.downloader = d
	}
}

// WithPatcher sets the patch-apply step.
func WithPatcher(pa Patcher) PipelineOption {
	return func(p *Pipeline) {
		p.patcher = pa
	}
}

// WithPipelineLogger sets the pipeline's logger.
func WithPipelineLogger(l *log.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a pipeline backed by the given metadata source.
func NewPipeline(source MetaSource, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		source:  source,
		patcher: ExecPatcher{},
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.downloader == nil {
		p.downloader = NewCircuitBreakerDownloader(NewFetcher())
	}
	return p
}

// Close releases resources held by the pipeline's downloader, such as the
// fetcher's background DNS refresh.
func (p *Pipeline) Close() {
	if closer, ok := p.downloader.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Fetch materializes the content for a resolved reference into dest,
// verifying it against expectedHash when one is supplied. On a checksum
// mismatch nothing is unpacked and an IntegrityError is returned.
func (p *Pipeline) Fetch(ctx context.Context, resolved, expectedHash, dest string) (*Result, error) {
	meta, err := p.lookup(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}

	var hash string
	if meta.URL != "" {
		hash, err = p.download(ctx, meta.URL, expectedHash, dest)
		if err != nil {
			return nil, err
		}
	}

	if err := p.writeOverrides(dest, meta.Files); err != nil {
		return nil, err
	}
	if err := p.applyPatches(ctx, dest, meta.Patches); err != nil {
		return nil, err
	}

	p.logger.Debugf("fetched %s into %s", resolved, dest)
	return &Result{Hash: hash, Location: dest}, nil
}

// lookup resolves fetch metadata. Structured references go through the
// metadata source; a resolved string that is itself a download URL (tarball
// sources) is used directly.
func (p *Pipeline) lookup(ctx context.Context, resolved string) (*Meta, error) {
	if u, uerr := url.Parse(resolved); uerr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return &Meta{URL: resolved}, nil
	}
	ref, err := reference.Parse(resolved)
	if err != nil {
		return nil, err
	}
	if p.source == nil {
		return nil, fmt.Errorf("no metadata source configured for %s", ref)
	}
	meta, err := p.source.Lookup(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", ref, err)
	}
	return meta, nil
}

// download streams the URL to a temporary file while computing the digest,
// verifies it, and extracts the archive into dest with the top-level path
// component stripped.
func (p *Pipeline) download(ctx context.Context, srcURL, expectedHash, dest string) (string, error) {
	dl, err := p.downloader.Fetch(ctx, srcURL)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", srcURL, err)
	}
	defer dl.Body.Close()

	tmp, err := os.CreateTemp("", "resolve-fetch-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	d := newDigest(expectedHash)
	_, err = io.Copy(io.MultiWriter(tmp, d), dl.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("streaming %s: %w", srcURL, err)
	}

	hash := d.Sum()
	if expectedHash != "" && hash != expectedHash {
		return "", &IntegrityError{URL: srcURL, Expected: expectedHash, Actual: hash}
	}

	filename := path.Base(srcURL)
	if u, err := url.Parse(srcURL); err == nil {
		filename = path.Base(u.Path)
	}
	if err := extract(tmpName, dest, DetectFormat(filename), 1); err != nil {
		return "", fmt.Errorf("extracting %s: %w", filename, err)
	}
	return hash, nil
}

// writeOverrides writes embedded override files, creating intermediate
// directories as needed. Files are written in name order.
func (p *Pipeline) writeOverrides(dest string, files []File) error {
	ordered := make([]File, len(files))
	copy(ordered, files)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	for _, f := range ordered {
		target, err := securePath(dest, f.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, f.Content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// applyPatches writes each patch to a temporary file inside dest, invokes
// the patch-apply step, and removes the temporary file whether or not the
// patch succeeded.
func (p *Pipeline) applyPatches(ctx context.Context, dest string, patches []Patch) error {
	for _, patch := range patches {
		tmp, err := os.CreateTemp(dest, ".patch-*")
		if err != nil {
			return err
		}
		tmpName := tmp.Name()
		_, werr := tmp.Write(patch.Content)
		if cerr := tmp.Close(); werr == nil {
			werr = cerr
		}

		var aerr error
		if werr == nil {
			aerr = p.patcher.Apply(ctx, tmpName, dest)
		}
		os.Remove(tmpName)

		if werr != nil {
			return werr
		}
		if aerr != nil {
			return fmt.Errorf("patch %s: %w", patch.Name, aerr)
		}
	}
	return nil
}

// Job is one fetch in a bulk run.
type Job struct {
	Resolved string
	Hash     string
	Dest     string
}

// FetchAll runs fetches in parallel with at most limit in flight. Jobs must
// target disjoint destination directories; duplicates are rejected before
// any fetch starts. The first error cancels the remaining fetches.
func (p *Pipeline) FetchAll(ctx context.Context, jobs []Job, limit int) error {
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if _, dup := seen[j.Dest]; dup {
			return fmt.Errorf("duplicate destination directory %q", j.Dest)
		}
		seen[j.Dest] = struct{}{}
	}

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, j := range jobs {
		g.Go(func() error {
			_, err := p.Fetch(ctx, j.Resolved, j.Hash, j.Dest)
			return err
		})
	}
	return g.Wait()
}

// IsIntegrityError reports whether err is a checksum mismatch.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
