package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"

	appErr "github.com/visualtesting/engine/pkg/errors"
)

// Extract unpacks a gzipped tarball into dest. If every entry in the archive
// lives under a single top-level directory, that wrapper is stripped so the
// files land directly under dest.
func Extract(r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create extract dir failed")
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInvalid, "archive is not gzip")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return appErr.Wrap(err, appErr.CodeInvalid, "read tar entry failed")
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		// IsLocal rejects absolute paths and parent-dir climbs without
		// tripping over names that merely start with dots
		if !filepath.IsLocal(name) {
			return appErr.New(appErr.CodeInvalid, "tar entry escapes destination").WithMeta("entry", hdr.Name)
		}
		target := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrap(err, appErr.CodeInternal, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return appErr.Wrap(err, appErr.CodeInternal, "create dir failed")
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		default:
			// symlinks, devices etc. have no business in a screenshot tarball
			continue
		}
	}

	return collapseWrapperDir(dest)
}

func writeFile(target string, r io.Reader) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create file failed")
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write file failed")
	}
	return nil
}

// collapseWrapperDir moves the children of a lone top-level directory up into
// dest and removes it. Tarballs produced by archiving a directory rather than
// its contents otherwise nest everything one level too deep.
func collapseWrapperDir(dest string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "read extract dir failed")
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	wrapper := filepath.Join(dest, entries[0].Name())
	children, err := os.ReadDir(wrapper)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "read wrapper dir failed")
	}
	for _, child := range children {
		from := filepath.Join(wrapper, child.Name())
		to := filepath.Join(dest, child.Name())
		if err := os.Rename(from, to); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "unwrap entry failed")
		}
	}
	if err := os.Remove(wrapper); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "remove wrapper dir failed")
	}
	return nil
}
