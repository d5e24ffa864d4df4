package fs

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/elfinderd/pkg/volume"
)

func encodeTarget(rel string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rel))
}

func newTestVolume(t *testing.T) *Volume {
	t.Helper()
	v, err := New("L", t.TempDir())
	require.NoError(t, err)
	return v
}

func writeFile(t *testing.T, v *Volume, rel, content string) {
	t.Helper()
	p := filepath.Join(v.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestNew(t *testing.T) {
	t.Run("CreatesMissingRoot", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "deep", "files")
		v, err := New("L", root)
		require.NoError(t, err)
		assert.DirExists(t, v.Root())
	})

	t.Run("RequiresID", func(t *testing.T) {
		_, err := New("", t.TempDir())
		assert.Error(t, err)
	})
}

func TestGetInfo(t *testing.T) {
	v := newTestVolume(t)
	ctx := context.Background()

	t.Run("Root", func(t *testing.T) {
		info, err := v.GetInfo(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "L_", info.Hash)
		assert.Empty(t, info.Phash, "the root has no parent")
		assert.Equal(t, filepath.Base(v.Root()), info.Name)
		assert.True(t, info.IsDir())
	})

	t.Run("File", func(t *testing.T) {
		writeFile(t, v, "docs/readme.txt", "hello world")
		info, err := v.GetInfo(ctx, encodeTarget("docs/readme.txt"))
		require.NoError(t, err)
		assert.Equal(t, "readme.txt", info.Name)
		assert.Equal(t, "L_"+encodeTarget("docs"), info.Phash)
		assert.Equal(t, int64(11), info.Size)
		assert.Equal(t, "text/plain", info.Mime)
		assert.False(t, info.IsDir())
	})

	t.Run("DirectoryWithSubdirSetsDirsFlag", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(v.Root(), "docs", "sub"), 0o755))
		info, err := v.GetInfo(ctx, encodeTarget("docs"))
		require.NoError(t, err)
		assert.Equal(t, 1, info.Dirs)
		assert.Zero(t, info.Size, "directories report zero size")
	})

	t.Run("RejectsEscapingTarget", func(t *testing.T) {
		_, err := v.GetInfo(ctx, encodeTarget("../outside"))
		assert.Error(t, err)
	})

	t.Run("RejectsUndecodableTarget", func(t *testing.T) {
		_, err := v.GetInfo(ctx, "!!not-base64!!")
		assert.Error(t, err)
	})
}

func TestGetTree(t *testing.T) {
	v := newTestVolume(t)
	ctx := context.Background()
	writeFile(t, v, "a/x.txt", "x")
	writeFile(t, v, "a/b/y.txt", "y")
	writeFile(t, v, "top.txt", "t")

	t.Run("ChildrenOnly", func(t *testing.T) {
		nodes, err := v.GetTree(ctx, encodeTarget("a"), false, false)
		require.NoError(t, err)
		names := nodeNames(nodes)
		assert.Equal(t, []string{"b", "x.txt"}, names, "directory order is name-sorted")
	})

	t.Run("WithAncestorsAndSiblings", func(t *testing.T) {
		nodes, err := v.GetTree(ctx, encodeTarget("a/b"), true, true)
		require.NoError(t, err)
		names := nodeNames(nodes)
		// children of a/b, then ancestors with their siblings up to the root.
		assert.Contains(t, names, "y.txt")
		assert.Contains(t, names, "a")
		assert.Contains(t, names, "x.txt")
		assert.Contains(t, names, "top.txt")
	})
}

func nodeNames(nodes []volume.NodeInfo) []string {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names
}

func TestMkdirMkfile(t *testing.T) {
	v := newTestVolume(t)
	ctx := context.Background()

	info, err := v.Mkdir(ctx, "photos", "")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.DirExists(t, filepath.Join(v.Root(), "photos"))

	info, err = v.Mkfile(ctx, "note.txt", encodeTarget("photos"))
	require.NoError(t, err)
	assert.Equal(t, "note.txt", info.Name)
	assert.FileExists(t, filepath.Join(v.Root(), "photos", "note.txt"))

	t.Run("ExistingNameFails", func(t *testing.T) {
		_, err := v.Mkdir(ctx, "photos", "")
		assert.Error(t, err)
		_, err = v.Mkfile(ctx, "note.txt", encodeTarget("photos"))
		assert.Error(t, err)
	})

	t.Run("InvalidNamesFail", func(t *testing.T) {
		for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
			_, err := v.Mkdir(ctx, name, "")
			assert.Error(t, err, "name %q must be rejected", name)
		}
	})
}

func TestRename(t *testing.T) {
	v := newTestVolume(t)
	ctx := context.Background()
	writeFile(t, v, "old.txt", "data")

	out, err := v.Rename(ctx, "new.txt", encodeTarget("old.txt"))
	require.NoError(t, err)

	added := out["added"].([]volume.NodeInfo)
	require.Len(t, added, 1)
	assert.Equal(t, "new.txt", added[0].Name)
	assert.Equal(t, []string{"L_" + encodeTarget("old.txt")}, out["removed"])
	assert.FileExists(t, filepath.Join(v.Root(), "new.txt"))
	assert.NoFileExists(t, filepath.Join(v.Root(), "old.txt"))

	t.Run("RootCannotBeRenamed", func(t *testing.T) {
		_, err := v.Rename(ctx, "other", "")
		assert.Error(t, err)
	})
}

func TestPaste(t *testing.T) {
	ctx := context.Background()

	t.Run("CopyKeepsSource", func(t *testing.T) {
		v := newTestVolume(t)
		writeFile(t, v, "src/deep/file.txt", "payload")
		require.NoError(t, os.Mkdir(filepath.Join(v.Root(), "dst"), 0o755))

		out, err := v.Paste(ctx, []string{encodeTarget("src/deep")}, encodeTarget("src"), encodeTarget("dst"), false)
		require.NoError(t, err)

		added := out["added"].([]volume.NodeInfo)
		require.Len(t, added, 1)
		assert.Equal(t, "deep", added[0].Name)
		assert.NotContains(t, out, "removed")
		assert.FileExists(t, filepath.Join(v.Root(), "dst", "deep", "file.txt"))
		assert.FileExists(t, filepath.Join(v.Root(), "src", "deep", "file.txt"))
	})

	t.Run("CutMovesSource", func(t *testing.T) {
		v := newTestVolume(t)
		writeFile(t, v, "src/file.txt", "payload")
		require.NoError(t, os.Mkdir(filepath.Join(v.Root(), "dst"), 0o755))

		out, err := v.Paste(ctx, []string{encodeTarget("src/file.txt")}, encodeTarget("src"), encodeTarget("dst"), true)
		require.NoError(t, err)

		assert.Equal(t, []string{"L_" + encodeTarget("src/file.txt")}, out["removed"])
		assert.FileExists(t, filepath.Join(v.Root(), "dst", "file.txt"))
		assert.NoFileExists(t, filepath.Join(v.Root(), "src", "file.txt"))
	})
}

func TestRemove(t *testing.T) {
	v := newTestVolume(t)
	ctx := context.Background()
	writeFile(t, v, "dir/file.txt", "x")

	t.Run("RemovesRecursively", func(t *testing.T) {
		hash, err := v.Remove(ctx, encodeTarget("dir"))
		require.NoError(t, err)
		assert.Equal(t, "L_"+encodeTarget("dir"), hash)
		assert.NoDirExists(t, filepath.Join(v.Root(), "dir"))
	})

	t.Run("MissingNodeFails", func(t *testing.T) {
		_, err := v.Remove(ctx, encodeTarget("gone"))
		assert.Error(t, err)
	})

	t.Run("RootIsProtected", func(t *testing.T) {
		_, err := v.Remove(ctx, "")
		assert.Error(t, err)
		assert.DirExists(t, v.Root())
	})
}

func TestUpload(t *testing.T) {
	v := newTestVolume(t)
	ctx := context.Background()

	files := multipartFiles(t, map[string]string{
		"report.txt":          "quarterly",
		"../../sneaky/pw.txt": "stolen",
	})

	out, err := v.Upload(ctx, files, "")
	require.NoError(t, err)

	added := out["added"].([]volume.NodeInfo)
	require.Len(t, added, 2)
	assert.FileExists(t, filepath.Join(v.Root(), "report.txt"))
	// Path components in the client-supplied filename are stripped.
	assert.FileExists(t, filepath.Join(v.Root(), "pw.txt"))
	assert.NoDirExists(t, filepath.Join(v.Root(), "sneaky"))
}

// multipartFiles builds real multipart.FileHeader values by writing a form
// and parsing it back, the same way the transport layer produces them.
func multipartFiles(t *testing.T, files map[string]string) []*multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("upload[]", name)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	form, err := multipart.NewReader(&buf, mw.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { form.RemoveAll() })
	return form.File["upload[]"]
}

func TestOpen(t *testing.T) {
	v := newTestVolume(t)
	ctx := context.Background()
	writeFile(t, v, "readme.txt", "hello")

	t.Run("StreamsFileContent", func(t *testing.T) {
		content, err := v.Open(ctx, encodeTarget("readme.txt"))
		require.NoError(t, err)
		defer content.Reader.Close()

		data, err := io.ReadAll(content.Reader)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
		assert.Equal(t, "readme.txt", content.Name)
		assert.Equal(t, int64(5), content.Size)
	})

	t.Run("RejectsDirectories", func(t *testing.T) {
		_, err := v.Open(ctx, "")
		assert.Error(t, err)
	})
}

func TestAbsolutePath(t *testing.T) {
	v := newTestVolume(t)

	assert.Equal(t, v.Root(), v.AbsolutePath(""))
	assert.Equal(t, filepath.Join(v.Root(), "a", "b"), v.AbsolutePath(encodeTarget("a/b")))
	assert.Empty(t, v.AbsolutePath("!!bad!!"), "undecodable targets yield no path")
	assert.Empty(t, v.AbsolutePath(encodeTarget("../escape")))
}
