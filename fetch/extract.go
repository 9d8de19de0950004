package fetch

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Format identifies an archive format.
type Format int

const (
	FormatGzip Format = iota
	FormatBzip2
	FormatXz
	FormatZip
	FormatTar
)

func (f Format) String() string {
	switch f {
	case FormatGzip:
		return "gzip"
	case FormatBzip2:
		return "bzip2"
	case FormatXz:
		return "xz"
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// DetectFormat guesses the archive format from a filename suffix. Unknown
// suffixes fall back to gzip rather than failing; a mislabeled archive then
// surfaces as a decompression error instead of being rejected up front.
func DetectFormat(filename string) Format {
	switch strings.ToLower(path.Ext(filename)) {
	case ".zip":
		return FormatZip
	case ".bz2", ".tbz", ".tbz2":
		return FormatBzip2
	case ".xz", ".txz":
		return FormatXz
	case ".tar":
		return FormatTar
	default:
		return FormatGzip
	}
}

// extract unpacks the archive at src into dest with the given number of
// leading path components stripped.
func extract(src, dest string, format Format, strip int) error {
	if format == FormatZip {
		return extractZip(src, dest, strip)
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case FormatTar:
		r = f
	case FormatBzip2:
		br, err := bzip2.NewReader(f, nil)
		if err != nil {
			return fmt.Errorf("opening bzip2 stream: %w", err)
		}
		defer br.Close()
		r = br
	case FormatXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening xz stream: %w", err)
		}
		r = xr
	default:
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gr.Close()
		r = gr
	}

	return extractTar(r, dest, strip)
}

func extractTar(r io.Reader, dest string, strip int) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar stream: %w", err)
		}

		name, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}
		target, err := securePath(dest, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)&0o777); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := secureLinkTarget(name, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func extractZip(src, dest string, strip int) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("opening zip archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		name, ok := stripComponents(f.Name, strip)
		if !ok {
			continue
		}
		target, err := securePath(dest, name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, f.Mode()&0o777)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// stripComponents drops the first n leading path components. Entries fully
// consumed by stripping (such as the top-level directory itself) are
// skipped.
func stripComponents(name string, n int) (string, bool) {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	parts := strings.Split(name, "/")
	if len(parts) <= n {
		return "", false
	}
	return path.Join(parts[n:]...), true
}

// secureLinkTarget rejects symlink targets that resolve outside the
// destination. The target is interpreted relative to the entry's directory;
// a link that escapes could redirect later writes outside the destination.
func secureLinkTarget(name, linkname string) error {
	if path.IsAbs(linkname) || filepath.IsAbs(filepath.FromSlash(linkname)) {
		return fmt.Errorf("symlink %q targets absolute path %q", name, linkname)
	}
	resolved := path.Join(path.Dir(name), linkname)
	if !filepath.IsLocal(filepath.FromSlash(resolved)) {
		return fmt.Errorf("symlink %q escapes destination: %q", name, linkname)
	}
	return nil
}

// securePath joins name onto dest, rejecting entries that would escape it.
func securePath(dest, name string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return filepath.Join(dest, filepath.FromSlash(name)), nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	w, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
