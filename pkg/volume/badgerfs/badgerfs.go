// Package badgerfs implements a volume driver that keeps both node metadata
// and file content in BadgerDB, an embedded key-value store. It is the
// structured-store counterpart of the filesystem driver: nothing it exposes
// exists as a real path, so archive and extract are not available on it.
//
// Local targets are node ids (random UUIDs); the empty target addresses the
// root node. See keys.go for the key schema.
package badgerfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/marmos91/elfinderd/pkg/volume"
)

// node is the stored metadata record for one file or directory.
type node struct {
	ID     string `json:"id"`
	Parent string `json:"parent,omitempty"`
	Name   string `json:"name"`
	Dir    bool   `json:"dir"`
	Size   int64  `json:"size"`
	Mime   string `json:"mime"`
	Mtime  int64  `json:"mtime"`
}

// Options configures a badger volume.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole database in memory (used by tests).
	InMemory bool

	// RootName is the display name of the volume root.
	RootName string
}

// Volume is a BadgerDB-backed volume driver.
type Volume struct {
	id string
	db *badger.DB
}

// New opens (or creates) a badger volume. The root node is created on first
// open.
func New(id string, opts Options) (*Volume, error) {
	if id == "" {
		return nil, fmt.Errorf("badger volume: id is required")
	}
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("badger volume: path is required")
	}

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("badger volume: failed to open database: %w", err)
	}

	v := &Volume{id: id, db: db}
	if err := v.ensureRoot(opts.RootName); err != nil {
		db.Close()
		return nil, err
	}
	return v, nil
}

// Close releases the underlying database.
func (v *Volume) Close() error {
	return v.db.Close()
}

// ID returns the volume id.
func (v *Volume) ID() string { return v.id }

func (v *Volume) ensureRoot(name string) error {
	if name == "" {
		name = v.id
	}
	return v.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(nodeKey(rootID))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		root := &node{
			ID:    rootID,
			Name:  name,
			Dir:   true,
			Mime:  volume.DirectoryMime,
			Mtime: time.Now().Unix(),
		}
		return putNode(txn, root)
	})
}

// ============================================================================
// Transaction helpers
// ============================================================================

func getNode(txn *badger.Txn, id string) (*node, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("node %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	var n node
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n)
	}); err != nil {
		return nil, err
	}
	return &n, nil
}

func putNode(txn *badger.Txn, n *node) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return txn.Set(nodeKey(n.ID), raw)
}

func childID(txn *badger.Txn, parentID, name string) (string, bool, error) {
	item, err := txn.Get(childKey(parentID, name))
	if err == badger.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// listChildren scans the children edges of a directory. Keys are ordered by
// child name, so listings come out sorted and stable.
func listChildren(txn *badger.Txn, parentID string) ([]*node, error) {
	prefix := childScanPrefix(parentID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var nodes []*node
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		child, err := getNode(txn, string(raw))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, child)
	}
	return nodes, nil
}

func hasDirChild(txn *badger.Txn, parentID string) (bool, error) {
	children, err := listChildren(txn, parentID)
	if err != nil {
		return false, err
	}
	for _, child := range children {
		if child.Dir {
			return true, nil
		}
	}
	return false, nil
}

// localID maps the wire-level local target to a node id.
func localID(target string) string {
	if target == "" {
		return rootID
	}
	return target
}

func (v *Volume) info(txn *badger.Txn, n *node) (volume.NodeInfo, error) {
	// The root travels as the empty local target, so its hash (and the phash
	// of its children) is the bare volume prefix.
	id := n.ID
	if id == rootID {
		id = ""
	}
	info := volume.NodeInfo{
		Hash:  v.id + "_" + id,
		Name:  n.Name,
		Mime:  n.Mime,
		Size:  n.Size,
		Ts:    n.Mtime,
		Read:  1,
		Write: 1,
	}
	if n.ID != rootID {
		parent := n.Parent
		if parent == rootID {
			parent = ""
		}
		info.Phash = v.id + "_" + parent
	}
	if n.Dir {
		dirs, err := hasDirChild(txn, n.ID)
		if err != nil {
			return volume.NodeInfo{}, err
		}
		if dirs {
			info.Dirs = 1
		}
	}
	return info, nil
}

// ============================================================================
// Driver implementation
// ============================================================================

// GetInfo describes one node.
func (v *Volume) GetInfo(ctx context.Context, target string) (volume.NodeInfo, error) {
	var out volume.NodeInfo
	err := v.db.View(func(txn *badger.Txn) error {
		n, err := getNode(txn, localID(target))
		if err != nil {
			return err
		}
		out, err = v.info(txn, n)
		return err
	})
	return out, err
}

// GetTree lists the children of target, optionally with ancestors and their
// siblings.
func (v *Volume) GetTree(ctx context.Context, target string, ancestors, siblings bool) ([]volume.NodeInfo, error) {
	var out []volume.NodeInfo
	err := v.db.View(func(txn *badger.Txn) error {
		id := localID(target)
		children, err := listChildren(txn, id)
		if err != nil {
			return err
		}
		for _, child := range children {
			info, err := v.info(txn, child)
			if err != nil {
				return err
			}
			out = append(out, info)
		}

		if !ancestors {
			return nil
		}
		for cur := id; cur != rootID; {
			n, err := getNode(txn, cur)
			if err != nil {
				return err
			}
			parent, err := getNode(txn, n.Parent)
			if err != nil {
				return err
			}
			info, err := v.info(txn, parent)
			if err != nil {
				return err
			}
			out = append(out, info)

			if siblings {
				sibs, err := listChildren(txn, parent.ID)
				if err != nil {
					return err
				}
				for _, sib := range sibs {
					if sib.ID == cur {
						continue
					}
					info, err := v.info(txn, sib)
					if err != nil {
						return err
					}
					out = append(out, info)
				}
			}
			cur = parent.ID
		}
		return nil
	})
	if out == nil {
		out = []volume.NodeInfo{}
	}
	return out, err
}

// List returns the names of target's immediate children.
func (v *Volume) List(ctx context.Context, target string) ([]string, error) {
	var names []string
	err := v.db.View(func(txn *badger.Txn) error {
		children, err := listChildren(txn, localID(target))
		if err != nil {
			return err
		}
		for _, child := range children {
			names = append(names, child.Name)
		}
		return nil
	})
	if names == nil {
		names = []string{}
	}
	return names, err
}

func (v *Volume) create(target, name string, dir bool, content []byte) (volume.NodeInfo, error) {
	if name == "" {
		return volume.NodeInfo{}, fmt.Errorf("invalid name %q", name)
	}

	var out volume.NodeInfo
	err := v.db.Update(func(txn *badger.Txn) error {
		parentID := localID(target)
		parent, err := getNode(txn, parentID)
		if err != nil {
			return err
		}
		if !parent.Dir {
			return fmt.Errorf("%q is not a directory", parent.Name)
		}
		if _, exists, err := childID(txn, parentID, name); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%q already exists", name)
		}

		n := &node{
			ID:     uuid.NewString(),
			Parent: parentID,
			Name:   name,
			Dir:    dir,
			Size:   int64(len(content)),
			Mtime:  time.Now().Unix(),
		}
		if dir {
			n.Mime = volume.DirectoryMime
		} else {
			n.Mime = detectMime(content)
		}

		if err := putNode(txn, n); err != nil {
			return err
		}
		if err := txn.Set(childKey(parentID, name), []byte(n.ID)); err != nil {
			return err
		}
		if !dir {
			if err := txn.Set(contentKey(n.ID), content); err != nil {
				return err
			}
		}

		out, err = v.info(txn, n)
		return err
	})
	return out, err
}

func detectMime(content []byte) string {
	if len(content) == 0 {
		return "text/plain"
	}
	mime, _, _ := strings.Cut(mimetype.Detect(content).String(), ";")
	return strings.TrimSpace(mime)
}

// Mkdir creates a directory under the parent target.
func (v *Volume) Mkdir(ctx context.Context, name, parent string) (volume.NodeInfo, error) {
	return v.create(parent, name, true, nil)
}

// Mkfile creates an empty file under the parent target.
func (v *Volume) Mkfile(ctx context.Context, name, parent string) (volume.NodeInfo, error) {
	return v.create(parent, name, false, nil)
}

// Rename renames target in place.
func (v *Volume) Rename(ctx context.Context, name, target string) (map[string]any, error) {
	if name == "" {
		return nil, fmt.Errorf("invalid name %q", name)
	}

	var out map[string]any
	err := v.db.Update(func(txn *badger.Txn) error {
		id := localID(target)
		if id == rootID {
			return fmt.Errorf("cannot rename the volume root")
		}
		n, err := getNode(txn, id)
		if err != nil {
			return err
		}
		if _, exists, err := childID(txn, n.Parent, name); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%q already exists", name)
		}

		if err := txn.Delete(childKey(n.Parent, n.Name)); err != nil {
			return err
		}
		n.Name = name
		n.Mtime = time.Now().Unix()
		if err := putNode(txn, n); err != nil {
			return err
		}
		if err := txn.Set(childKey(n.Parent, name), []byte(n.ID)); err != nil {
			return err
		}

		info, err := v.info(txn, n)
		if err != nil {
			return err
		}
		out = map[string]any{
			"added":   []volume.NodeInfo{info},
			"removed": []string{v.id + "_" + n.ID},
		}
		return nil
	})
	return out, err
}

// Paste moves or copies targets into the dst directory.
func (v *Volume) Paste(ctx context.Context, targets []string, src, dst string, cut bool) (map[string]any, error) {
	added := make([]volume.NodeInfo, 0, len(targets))
	removed := make([]string, 0, len(targets))

	err := v.db.Update(func(txn *badger.Txn) error {
		dstID := localID(dst)
		dstNode, err := getNode(txn, dstID)
		if err != nil {
			return err
		}
		if !dstNode.Dir {
			return fmt.Errorf("%q is not a directory", dstNode.Name)
		}

		for _, target := range targets {
			id := localID(target)
			if id == rootID {
				return fmt.Errorf("cannot paste the volume root")
			}
			n, err := getNode(txn, id)
			if err != nil {
				return err
			}
			if _, exists, err := childID(txn, dstID, n.Name); err != nil {
				return err
			} else if exists {
				return fmt.Errorf("%q already exists", n.Name)
			}

			var placed *node
			if cut {
				if err := txn.Delete(childKey(n.Parent, n.Name)); err != nil {
					return err
				}
				n.Parent = dstID
				if err := putNode(txn, n); err != nil {
					return err
				}
				if err := txn.Set(childKey(dstID, n.Name), []byte(n.ID)); err != nil {
					return err
				}
				removed = append(removed, v.id+"_"+n.ID)
				placed = n
			} else {
				placed, err = copyNode(txn, n, dstID)
				if err != nil {
					return err
				}
			}

			info, err := v.info(txn, placed)
			if err != nil {
				return err
			}
			added = append(added, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := map[string]any{"added": added}
	if cut {
		out["removed"] = removed
	}
	return out, nil
}

// copyNode deep-copies a subtree under a new parent, assigning fresh ids.
func copyNode(txn *badger.Txn, src *node, parentID string) (*node, error) {
	dup := &node{
		ID:     uuid.NewString(),
		Parent: parentID,
		Name:   src.Name,
		Dir:    src.Dir,
		Size:   src.Size,
		Mime:   src.Mime,
		Mtime:  time.Now().Unix(),
	}
	if err := putNode(txn, dup); err != nil {
		return nil, err
	}
	if err := txn.Set(childKey(parentID, dup.Name), []byte(dup.ID)); err != nil {
		return nil, err
	}

	if !src.Dir {
		item, err := txn.Get(contentKey(src.ID))
		if err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return nil, err
			}
			if err := txn.Set(contentKey(dup.ID), raw); err != nil {
				return nil, err
			}
		} else if err != badger.ErrKeyNotFound {
			return nil, err
		}
		return dup, nil
	}

	children, err := listChildren(txn, src.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if _, err := copyNode(txn, child, dup.ID); err != nil {
			return nil, err
		}
	}
	return dup, nil
}

// Remove deletes target recursively and returns its identifier.
func (v *Volume) Remove(ctx context.Context, target string) (string, error) {
	id := localID(target)
	if id == rootID {
		return "", fmt.Errorf("cannot remove the volume root")
	}

	err := v.db.Update(func(txn *badger.Txn) error {
		n, err := getNode(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(childKey(n.Parent, n.Name)); err != nil {
			return err
		}
		return deleteNode(txn, n)
	})
	if err != nil {
		return "", err
	}
	return v.id + "_" + id, nil
}

func deleteNode(txn *badger.Txn, n *node) error {
	if n.Dir {
		children, err := listChildren(txn, n.ID)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := txn.Delete(childKey(n.ID, child.Name)); err != nil {
				return err
			}
			if err := deleteNode(txn, child); err != nil {
				return err
			}
		}
	} else {
		if err := txn.Delete(contentKey(n.ID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}
	return txn.Delete(nodeKey(n.ID))
}

// Upload stores each uploaded file under the parent target.
func (v *Volume) Upload(ctx context.Context, files []*multipart.FileHeader, parent string) (map[string]any, error) {
	added := make([]volume.NodeInfo, 0, len(files))
	for _, fh := range files {
		in, err := fh.Open()
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(in)
		in.Close()
		if err != nil {
			return nil, err
		}

		info, err := v.create(parent, filepath.Base(filepath.FromSlash(fh.Filename)), false, content)
		if err != nil {
			return nil, err
		}
		added = append(added, info)
	}
	return map[string]any{"added": added}, nil
}

// AbsolutePath returns "": badger nodes have no filesystem location, so
// archive and extract are unavailable on this volume.
func (v *Volume) AbsolutePath(target string) string {
	return ""
}

// Open returns the file content for streaming.
func (v *Volume) Open(ctx context.Context, target string) (*volume.Content, error) {
	var out *volume.Content
	err := v.db.View(func(txn *badger.Txn) error {
		n, err := getNode(txn, localID(target))
		if err != nil {
			return err
		}
		if n.Dir {
			return fmt.Errorf("%q is a directory", n.Name)
		}

		var raw []byte
		item, err := txn.Get(contentKey(n.ID))
		if err == nil {
			raw, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		out = &volume.Content{
			Reader: io.NopCloser(bytes.NewReader(raw)),
			Name:   n.Name,
			Mime:   n.Mime,
			Size:   int64(len(raw)),
		}
		return nil
	})
	return out, err
}
