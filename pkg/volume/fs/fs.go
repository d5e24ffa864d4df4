// Package fs implements a volume driver rooted in a local filesystem
// directory.
//
// Local targets are the URL-safe base64 encoding of the slash-separated path
// relative to the volume root ("" addresses the root itself). The encoding
// keeps targets opaque and free of the connector's hash separator ambiguity:
// base64url may emit underscores, but volume ids never do, so splitting an
// identifier on the first underscore is always unambiguous.
//
// Every operation is confined to the root: decoded paths are rejected when
// they would escape it.
package fs

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/marmos91/elfinderd/pkg/volume"
)

// Volume is a filesystem-backed volume driver.
type Volume struct {
	id   string
	root string
}

// New creates a filesystem volume with the given id, rooted at root. The
// root directory is created if it does not exist.
func New(id, root string) (*Volume, error) {
	if id == "" {
		return nil, fmt.Errorf("fs volume: id is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fs volume: invalid root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("fs volume: failed to create root: %w", err)
	}
	return &Volume{id: id, root: abs}, nil
}

// ID returns the volume id.
func (v *Volume) ID() string { return v.id }

// Root returns the absolute root directory of the volume.
func (v *Volume) Root() string { return v.root }

func (v *Volume) encode(rel string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rel))
}

func (v *Volume) decode(target string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(target)
	if err != nil {
		return "", fmt.Errorf("invalid target %q: %w", target, err)
	}
	rel := path.Clean(string(raw))
	if rel == "." {
		rel = ""
	}
	if rel != "" && !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("target %q escapes the volume root", target)
	}
	return rel, nil
}

// hash returns the full node identifier for a root-relative path.
func (v *Volume) hash(rel string) string {
	return v.id + "_" + v.encode(rel)
}

func (v *Volume) path(rel string) string {
	return filepath.Join(v.root, filepath.FromSlash(rel))
}

func parentOf(rel string) string {
	parent := path.Dir(rel)
	if parent == "." || parent == "/" {
		return ""
	}
	return parent
}

// nodeInfo builds the wire record for one root-relative path.
func (v *Volume) nodeInfo(rel string) (volume.NodeInfo, error) {
	p := v.path(rel)
	fi, err := os.Stat(p)
	if err != nil {
		return volume.NodeInfo{}, err
	}

	name := fi.Name()
	if rel == "" {
		name = filepath.Base(v.root)
	}

	info := volume.NodeInfo{
		Hash:  v.hash(rel),
		Name:  name,
		Size:  fi.Size(),
		Ts:    fi.ModTime().Unix(),
		Read:  1,
		Write: 1,
	}
	if rel != "" {
		info.Phash = v.hash(parentOf(rel))
	}

	if fi.IsDir() {
		info.Mime = volume.DirectoryMime
		info.Size = 0
		if hasSubdir(p) {
			info.Dirs = 1
		}
	} else {
		info.Mime = detectMime(p)
	}
	return info, nil
}

func hasSubdir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			return true
		}
	}
	return false
}

func detectMime(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	mime, _, _ := strings.Cut(m.String(), ";")
	return strings.TrimSpace(mime)
}

// children returns the sorted root-relative paths of a directory's entries.
func (v *Volume) children(rel string) ([]string, error) {
	entries, err := os.ReadDir(v.path(rel))
	if err != nil {
		return nil, err
	}
	rels := make([]string, 0, len(entries))
	for _, e := range entries {
		rels = append(rels, path.Join(rel, e.Name()))
	}
	return rels, nil
}

// GetInfo describes one node.
func (v *Volume) GetInfo(ctx context.Context, target string) (volume.NodeInfo, error) {
	rel, err := v.decode(target)
	if err != nil {
		return volume.NodeInfo{}, err
	}
	return v.nodeInfo(rel)
}

// GetTree lists the children of target, optionally widened with ancestors
// and each ancestor's siblings. Entries come out in directory order, which
// is stable between calls.
func (v *Volume) GetTree(ctx context.Context, target string, ancestors, siblings bool) ([]volume.NodeInfo, error) {
	rel, err := v.decode(target)
	if err != nil {
		return nil, err
	}

	kids, err := v.children(rel)
	if err != nil {
		return nil, err
	}
	nodes := make([]volume.NodeInfo, 0, len(kids))
	for _, kid := range kids {
		info, err := v.nodeInfo(kid)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, info)
	}

	if ancestors {
		for cur := rel; cur != ""; {
			parent := parentOf(cur)
			info, err := v.nodeInfo(parent)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, info)

			if siblings {
				sibs, err := v.children(parent)
				if err != nil {
					return nil, err
				}
				for _, sib := range sibs {
					if sib == cur {
						continue
					}
					info, err := v.nodeInfo(sib)
					if err != nil {
						return nil, err
					}
					nodes = append(nodes, info)
				}
			}
			cur = parent
		}
	}
	return nodes, nil
}

// List returns the names of target's immediate children.
func (v *Volume) List(ctx context.Context, target string) ([]string, error) {
	rel, err := v.decode(target)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(v.path(rel))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// Mkdir creates a directory under the parent target.
func (v *Volume) Mkdir(ctx context.Context, name, parent string) (volume.NodeInfo, error) {
	rel, err := v.decode(parent)
	if err != nil {
		return volume.NodeInfo{}, err
	}
	if err := checkName(name); err != nil {
		return volume.NodeInfo{}, err
	}
	child := path.Join(rel, name)
	if err := os.Mkdir(v.path(child), 0o755); err != nil {
		return volume.NodeInfo{}, err
	}
	return v.nodeInfo(child)
}

// Mkfile creates an empty file under the parent target.
func (v *Volume) Mkfile(ctx context.Context, name, parent string) (volume.NodeInfo, error) {
	rel, err := v.decode(parent)
	if err != nil {
		return volume.NodeInfo{}, err
	}
	if err := checkName(name); err != nil {
		return volume.NodeInfo{}, err
	}
	child := path.Join(rel, name)
	f, err := os.OpenFile(v.path(child), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return volume.NodeInfo{}, err
	}
	if err := f.Close(); err != nil {
		return volume.NodeInfo{}, err
	}
	return v.nodeInfo(child)
}

// Rename renames target to name within its directory.
func (v *Volume) Rename(ctx context.Context, name, target string) (map[string]any, error) {
	rel, err := v.decode(target)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, fmt.Errorf("cannot rename the volume root")
	}
	if err := checkName(name); err != nil {
		return nil, err
	}

	dest := path.Join(parentOf(rel), name)
	if err := os.Rename(v.path(rel), v.path(dest)); err != nil {
		return nil, err
	}
	info, err := v.nodeInfo(dest)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"added":   []volume.NodeInfo{info},
		"removed": []string{v.hash(rel)},
	}, nil
}

// Paste moves or copies targets from src into dst.
func (v *Volume) Paste(ctx context.Context, targets []string, src, dst string, cut bool) (map[string]any, error) {
	dstRel, err := v.decode(dst)
	if err != nil {
		return nil, err
	}

	added := make([]volume.NodeInfo, 0, len(targets))
	removed := make([]string, 0, len(targets))
	for _, target := range targets {
		rel, err := v.decode(target)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			return nil, fmt.Errorf("cannot paste the volume root")
		}
		dest := path.Join(dstRel, path.Base(rel))

		if cut {
			if err := os.Rename(v.path(rel), v.path(dest)); err != nil {
				return nil, err
			}
			removed = append(removed, v.hash(rel))
		} else {
			if err := copyTree(v.path(rel), v.path(dest)); err != nil {
				return nil, err
			}
		}

		info, err := v.nodeInfo(dest)
		if err != nil {
			return nil, err
		}
		added = append(added, info)
	}

	out := map[string]any{"added": added}
	if cut {
		out["removed"] = removed
	}
	return out, nil
}

func copyTree(src, dest string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}

	if !fi.IsDir() {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	}

	if err := os.MkdirAll(dest, fi.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes target recursively. The volume root cannot be removed.
func (v *Volume) Remove(ctx context.Context, target string) (string, error) {
	rel, err := v.decode(target)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return "", fmt.Errorf("cannot remove the volume root")
	}
	if _, err := os.Stat(v.path(rel)); err != nil {
		return "", err
	}
	if err := os.RemoveAll(v.path(rel)); err != nil {
		return "", err
	}
	return v.hash(rel), nil
}

// Upload stores each uploaded file under the parent target, keeping the
// client-supplied base name.
func (v *Volume) Upload(ctx context.Context, files []*multipart.FileHeader, parent string) (map[string]any, error) {
	rel, err := v.decode(parent)
	if err != nil {
		return nil, err
	}

	added := make([]volume.NodeInfo, 0, len(files))
	for _, fh := range files {
		name := filepath.Base(filepath.FromSlash(fh.Filename))
		if err := checkName(name); err != nil {
			return nil, err
		}
		dest := path.Join(rel, name)

		in, err := fh.Open()
		if err != nil {
			return nil, err
		}
		out, err := os.OpenFile(v.path(dest), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			in.Close()
			return nil, err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}

		info, err := v.nodeInfo(dest)
		if err != nil {
			return nil, err
		}
		added = append(added, info)
	}
	return map[string]any{"added": added}, nil
}

// AbsolutePath translates target to its absolute filesystem path. It returns
// "" for targets that do not decode, never a partial path.
func (v *Volume) AbsolutePath(target string) string {
	rel, err := v.decode(target)
	if err != nil {
		return ""
	}
	return v.path(rel)
}

// Open returns the file content for streaming.
func (v *Volume) Open(ctx context.Context, target string) (*volume.Content, error) {
	rel, err := v.decode(target)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(v.path(rel))
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%q is a directory", fi.Name())
	}
	f, err := os.Open(v.path(rel))
	if err != nil {
		return nil, err
	}
	return &volume.Content{
		Reader: f,
		Name:   fi.Name(),
		Mime:   detectMime(v.path(rel)),
		Size:   fi.Size(),
	}, nil
}
