package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestFormatForMime(t *testing.T) {
	tests := []struct {
		mime string
		want Format
		ok   bool
	}{
		{"application/zip", Zip, true},
		{"application/x-tar", Tar, true},
		{"application/x-rar", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		f, ok := FormatForMime(tt.mime)
		assert.Equal(t, tt.ok, ok, "mime %q", tt.mime)
		if ok {
			assert.Equal(t, tt.want, f)
		}
	}

	assert.Equal(t, "zip", Zip.Ext())
	assert.Equal(t, "tar", Tar.Ext())
}

func TestCreateAndExtractRoundtrip(t *testing.T) {
	for _, format := range []Format{Zip, Tar} {
		t.Run(format.Ext(), func(t *testing.T) {
			src := t.TempDir()
			writeTree(t, src, map[string]string{
				"docs/a.txt":     "alpha",
				"docs/sub/b.txt": "beta",
				"single.txt":     "gamma",
			})

			dest := filepath.Join(t.TempDir(), "bundle."+format.Ext())
			sources := []string{
				filepath.Join(src, "docs"),
				filepath.Join(src, "single.txt"),
			}
			require.NoError(t, Create(context.Background(), dest, sources, format))
			require.FileExists(t, dest)

			out := t.TempDir()
			require.NoError(t, Extract(context.Background(), dest, out))

			// Entry names are relative to each source's parent, so the
			// selected nodes themselves come back, not their full paths.
			for rel, want := range map[string]string{
				"docs/a.txt":     "alpha",
				"docs/sub/b.txt": "beta",
				"single.txt":     "gamma",
			} {
				data, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(rel)))
				require.NoError(t, err, "entry %s", rel)
				assert.Equal(t, want, string(data))
			}
		})
	}
}

func TestCreate(t *testing.T) {
	t.Run("MissingSourceLeavesNoArchiveBehind", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "bundle.zip")
		err := Create(context.Background(), dest, []string{"/does/not/exist"}, Zip)
		require.Error(t, err)
		assert.NoFileExists(t, dest, "failed packs are cleaned up")
	})

	t.Run("CancelledContextStopsPacking", func(t *testing.T) {
		src := t.TempDir()
		writeTree(t, src, map[string]string{"a.txt": "x"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		dest := filepath.Join(t.TempDir(), "bundle.zip")
		err := Create(ctx, dest, []string{filepath.Join(src, "a.txt")}, Zip)
		require.ErrorIs(t, err, context.Canceled)
		assert.NoFileExists(t, dest)
	})
}

func TestExtract(t *testing.T) {
	t.Run("UnknownExtensionFails", func(t *testing.T) {
		err := Extract(context.Background(), "/tmp/file.rar", t.TempDir())
		assert.Error(t, err)
	})

	t.Run("ZipTraversalEntriesAreRejected", func(t *testing.T) {
		var buf bytes.Buffer
		w := zip.NewWriter(&buf)
		entry, err := w.Create("../escape.txt")
		require.NoError(t, err)
		_, err = entry.Write([]byte("pwned"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		src := filepath.Join(t.TempDir(), "evil.zip")
		require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

		dest := t.TempDir()
		err = Extract(context.Background(), src, dest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "illegal entry path")
		assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape.txt"))
	})

	t.Run("TarSymlinksAreSkipped", func(t *testing.T) {
		var buf bytes.Buffer
		w := tar.NewWriter(&buf)
		require.NoError(t, w.WriteHeader(&tar.Header{
			Name:     "link",
			Typeflag: tar.TypeSymlink,
			Linkname: "/etc/passwd",
		}))
		require.NoError(t, w.WriteHeader(&tar.Header{
			Name:     "ok.txt",
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     2,
		}))
		_, err := w.Write([]byte("ok"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		src := filepath.Join(t.TempDir(), "links.tar")
		require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

		dest := t.TempDir()
		require.NoError(t, Extract(context.Background(), src, dest))
		assert.FileExists(t, filepath.Join(dest, "ok.txt"))
		assert.NoFileExists(t, filepath.Join(dest, "link"))
	})
}
