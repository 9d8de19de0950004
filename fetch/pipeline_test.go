package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/git-pkgs/resolve/reference"
)

// buildTgz builds a gzipped tarball with a single top-level directory, the
// layout registries publish packages in.
func buildTgz(t *testing.T, topDir string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	if err := tw.WriteHeader(&tar.Header{
		Name:     topDir + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name:     topDir + "/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

type staticSource struct {
	meta *Meta
}

func (s *staticSource) Lookup(_ context.Context, _ *reference.Reference) (*Meta, error) {
	return s.meta, nil
}

type recordingPatcher struct {
	applied []string
	seen    []bool // whether the patch file existed when Apply ran
	fail    bool
}

func (r *recordingPatcher) Apply(_ context.Context, patchFile, dir string) error {
	r.applied = append(r.applied, patchFile)
	_, err := os.Stat(patchFile)
	r.seen = append(r.seen, err == nil)
	if r.fail {
		return errors.New("hunk failed")
	}
	return nil
}

func serveArchive(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPipelineFetch(t *testing.T) {
	archive := buildTgz(t, "package", map[string]string{
		"manifest.json": `{"name":"foo"}`,
		"lib/index.js":  "module.exports = 42\n",
	})
	server := serveArchive(t, archive)

	source := &staticSource{meta: &Meta{URL: server.URL + "/foo-1.2.3.tgz"}}
	p := NewPipeline(source)

	dest := t.TempDir()
	res, err := p.Fetch(context.Background(), "foo@1.2.3-abc.tgz", sha1Hex(archive), dest)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if res.Hash != sha1Hex(archive) {
		t.Errorf("Hash = %q, want %q", res.Hash, sha1Hex(archive))
	}
	if res.Location != dest {
		t.Errorf("Location = %q, want %q", res.Location, dest)
	}

	// The top-level path component is stripped.
	for _, name := range []string{"manifest.json", "lib/index.js"} {
		if _, err := os.Stat(filepath.Join(dest, name)); err != nil {
			t.Errorf("missing extracted file %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "package")); !os.IsNotExist(err) {
		t.Error("top-level directory was not stripped")
	}
}

func TestPipelineIntegrityMismatch(t *testing.T) {
	archive := buildTgz(t, "package", map[string]string{"manifest.json": "{}"})
	server := serveArchive(t, archive)

	source := &staticSource{meta: &Meta{URL: server.URL + "/foo-1.2.3.tgz"}}
	p := NewPipeline(source)

	dest := t.TempDir()
	wrong := sha1Hex([]byte("something else"))
	_, err := p.Fetch(context.Background(), "foo@1.2.3-abc.tgz", wrong, dest)

	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("Fetch = %v, want *IntegrityError", err)
	}
	if ie.Expected != wrong || ie.Actual != sha1Hex(archive) {
		t.Errorf("IntegrityError = %+v", *ie)
	}

	// Nothing may be unpacked on a mismatch.
	entries, readErr := os.ReadDir(dest)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("destination contains %d entries after integrity failure", len(entries))
	}
}

func TestPipelineSRIChecksum(t *testing.T) {
	archive := buildTgz(t, "package", map[string]string{"manifest.json": "{}"})
	server := serveArchive(t, archive)

	source := &staticSource{meta: &Meta{URL: server.URL + "/foo-1.2.3.tgz"}}
	p := NewPipeline(source)

	d := newDigest("sha256-")
	_, _ = d.Write(archive)
	expected := d.Sum()

	res, err := p.Fetch(context.Background(), "foo@1.2.3-abc.tgz", expected, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if res.Hash != expected {
		t.Errorf("Hash = %q, want %q", res.Hash, expected)
	}
}

func TestPipelineOverrides(t *testing.T) {
	archive := buildTgz(t, "package", map[string]string{"manifest.json": "{}"})
	server := serveArchive(t, archive)

	source := &staticSource{meta: &Meta{
		URL: server.URL + "/foo-1.2.3.tgz",
		Files: []File{
			{Name: "deep/nested/override.txt", Content: []byte("override content")},
			{Name: "manifest.json", Content: []byte(`{"name":"patched"}`)},
		},
	}}
	p := NewPipeline(source)

	dest := t.TempDir()
	if _, err := p.Fetch(context.Background(), "foo@1.2.3-abc.tgz", "", dest); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "deep", "nested", "override.txt"))
	if err != nil {
		t.Fatalf("override not written: %v", err)
	}
	if string(got) != "override content" {
		t.Errorf("override content = %q", got)
	}

	// Overrides win over extracted files of the same name.
	got, _ = os.ReadFile(filepath.Join(dest, "manifest.json"))
	if string(got) != `{"name":"patched"}` {
		t.Errorf("manifest.json = %q, want override", got)
	}
}

func TestPipelinePatches(t *testing.T) {
	archive := buildTgz(t, "package", map[string]string{"manifest.json": "{}"})
	server := serveArchive(t, archive)

	source := &staticSource{meta: &Meta{
		URL:     server.URL + "/foo-1.2.3.tgz",
		Patches: []Patch{{Name: "fix.patch", Content: []byte("--- a\n+++ b\n")}},
	}}
	patcher := &recordingPatcher{}
	p := NewPipeline(source, WithPatcher(patcher))

	dest := t.TempDir()
	if _, err := p.Fetch(context.Background(), "foo@1.2.3-abc.tgz", "", dest); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if len(patcher.applied) != 1 {
		t.Fatalf("patcher invoked %d times, want 1", len(patcher.applied))
	}
	if !patcher.seen[0] {
		t.Error("patch file did not exist when Apply ran")
	}
	if _, err := os.Stat(patcher.applied[0]); !os.IsNotExist(err) {
		t.Error("temporary patch file not removed after apply")
	}
}

func TestPipelinePatchFailureStillCleansUp(t *testing.T) {
	archive := buildTgz(t, "package", map[string]string{"manifest.json": "{}"})
	server := serveArchive(t, archive)

	source := &staticSource{meta: &Meta{
		URL:     server.URL + "/foo-1.2.3.tgz",
		Patches: []Patch{{Name: "fix.patch", Content: []byte("garbage")}},
	}}
	patcher := &recordingPatcher{fail: true}
	p := NewPipeline(source, WithPatcher(patcher))

	_, err := p.Fetch(context.Background(), "foo@1.2.3-abc.tgz", "", t.TempDir())
	if err == nil {
		t.Fatal("expected patch failure to propagate")
	}
	if _, statErr := os.Stat(patcher.applied[0]); !os.IsNotExist(statErr) {
		t.Error("temporary patch file survived a failed apply")
	}
}

func TestPipelineDirectURL(t *testing.T) {
	archive := buildTgz(t, "pkg", map[string]string{"readme.md": "hi"})
	server := serveArchive(t, archive)

	// Tarball-resolved packages carry the URL itself; no metadata source
	// lookup happens.
	p := NewPipeline(nil)
	dest := t.TempDir()
	if _, err := p.Fetch(context.Background(), server.URL+"/foo-1.0.0.tgz", "", dest); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "readme.md")); err != nil {
		t.Errorf("missing extracted file: %v", err)
	}
}

func TestPipelineMetadataWithoutURL(t *testing.T) {
	source := &staticSource{meta: &Meta{
		Files: []File{{Name: "only.txt", Content: []byte("no download")}},
	}}
	p := NewPipeline(source)

	dest := t.TempDir()
	res, err := p.Fetch(context.Background(), "foo@1.0.0-abc.tgz", "", dest)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if res.Hash != "" {
		t.Errorf("Hash = %q, want empty for URL-less package", res.Hash)
	}
	if _, err := os.Stat(filepath.Join(dest, "only.txt")); err != nil {
		t.Errorf("override not written: %v", err)
	}
}

func TestFetchAll(t *testing.T) {
	archive := buildTgz(t, "pkg", map[string]string{"f.txt": "x"})
	server := serveArchive(t, archive)

	p := NewPipeline(nil)
	root := t.TempDir()
	jobs := []Job{
		{Resolved: server.URL + "/a-1.0.0.tgz", Dest: filepath.Join(root, "a")},
		{Resolved: server.URL + "/b-1.0.0.tgz", Dest: filepath.Join(root, "b")},
		{Resolved: server.URL + "/c-1.0.0.tgz", Dest: filepath.Join(root, "c")},
	}

	if err := p.FetchAll(context.Background(), jobs, 2); err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	for _, j := range jobs {
		if _, err := os.Stat(filepath.Join(j.Dest, "f.txt")); err != nil {
			t.Errorf("missing %s: %v", j.Dest, err)
		}
	}
}

func TestFetchAllRejectsDuplicateDest(t *testing.T) {
	p := NewPipeline(nil)
	dest := t.TempDir()
	jobs := []Job{
		{Resolved: "https://example.com/a.tgz", Dest: dest},
		{Resolved: "https://example.com/b.tgz", Dest: dest},
	}

	if err := p.FetchAll(context.Background(), jobs, 0); err == nil {
		t.Error("expected duplicate destination to be rejected")
	}
}
