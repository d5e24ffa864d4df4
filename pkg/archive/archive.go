// Package archive creates and unpacks the archive formats the connector
// advertises to the client. It is a plain utility: callers hand it resolved
// absolute paths, it never touches the volume layer.
package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Format is an archive container format.
type Format int

const (
	Zip Format = iota
	Tar
)

// Ext returns the filename extension for the format.
func (f Format) Ext() string {
	switch f {
	case Tar:
		return "tar"
	default:
		return "zip"
	}
}

// createFormats maps the mime types accepted by the archive command to their
// container format.
var createFormats = map[string]Format{
	"application/zip":   Zip,
	"application/x-tar": Tar,
}

// FormatForMime resolves an archive mime type to its format.
func FormatForMime(mime string) (Format, bool) {
	f, ok := createFormats[mime]
	return f, ok
}

// CreateMimes lists the mime types Create supports, for the capability
// advertisement.
func CreateMimes() []string {
	return []string{"application/zip", "application/x-tar"}
}

// ExtractMimes lists the mime types Extract supports.
func ExtractMimes() []string {
	return []string{"application/zip", "application/x-tar"}
}

// Create packs the given source paths (files or directories, recursively)
// into a new archive at dest. Entry names are relative to each source's
// parent directory, so unpacking reproduces the selected nodes themselves,
// not their absolute paths.
func Create(ctx context.Context, dest string, sources []string, format Format) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	switch format {
	case Tar:
		err = writeTar(ctx, out, sources)
	default:
		err = writeZip(ctx, out, sources)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}

func writeZip(ctx context.Context, out *os.File, sources []string) error {
	w := zip.NewWriter(out)
	err := eachEntry(ctx, sources, func(name, path string, info fs.FileInfo) error {
		if info.IsDir() {
			_, err := w.Create(name + "/")
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate
		entry, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		return copyFile(entry, path)
	})
	if err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func writeTar(ctx context.Context, out *os.File, sources []string) error {
	w := tar.NewWriter(out)
	err := eachEntry(ctx, sources, func(name, path string, info fs.FileInfo) error {
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}
		if err := w.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return copyFile(w, path)
	})
	if err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// eachEntry walks every source and invokes fn with the archive entry name and
// the on-disk path. The context is checked between entries so a cancelled
// request stops a long pack early.
func eachEntry(ctx context.Context, sources []string, fn func(name, path string, info fs.FileInfo) error) error {
	for _, source := range sources {
		base := filepath.Dir(source)
		err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return fn(filepath.ToSlash(rel), path, info)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// Extract unpacks the archive at src into the dest directory, which must
// already exist. The container format is derived from the file extension.
// Entry names that would escape dest are rejected.
func Extract(ctx context.Context, src, dest string) error {
	switch {
	case strings.HasSuffix(src, ".zip"):
		return extractZip(ctx, src, dest)
	case strings.HasSuffix(src, ".tar"):
		return extractTar(ctx, src, dest)
	default:
		return fmt.Errorf("unsupported archive %q", filepath.Base(src))
	}
}

func extractZip(ctx context.Context, src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := entryPath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		in, err := f.Open()
		if err != nil {
			return err
		}
		err = writeEntry(path, in, f.Mode())
		in.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(ctx context.Context, src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	r := tar.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		path, err := entryPath(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := writeEntry(path, r, fs.FileMode(header.Mode)); err != nil {
				return err
			}
		default:
			// Symlinks and special files are skipped: the connector never
			// creates them and unpacking foreign ones is a traversal risk.
		}
	}
}

// entryPath joins an archive entry name onto dest, refusing names that would
// land outside it.
func entryPath(dest, name string) (string, error) {
	name = filepath.FromSlash(name)
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("illegal entry path %q", name)
	}
	return filepath.Join(dest, name), nil
}

func writeEntry(path string, in io.Reader, mode fs.FileMode) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
