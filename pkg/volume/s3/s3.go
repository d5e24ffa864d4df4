// Package s3 implements a volume driver over an S3 (or S3-compatible)
// bucket.
//
// Object keys mirror the node paths under an optional key prefix, so the
// bucket stays human-readable and inspectable. Directories are represented
// by zero-byte marker objects with a trailing "/" and discovered through
// delimiter listings. Local targets use the same base64url path encoding as
// the filesystem driver.
//
// S3 has no filesystem location, so AbsolutePath returns "" and archive and
// extract are unavailable on this volume. Concurrent writers get S3's
// last-writer-wins semantics.
package s3

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/elfinderd/pkg/volume"
)

// Volume is an S3-backed volume driver.
type Volume struct {
	id     string
	client *s3.Client
	bucket string
	prefix string // normalized to "" or "some/prefix/"
	name   string // display name of the root
}

// Config contains the settings for an S3 volume.
type Config struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the bucket name. It must already exist.
	Bucket string

	// KeyPrefix confines the volume to a key subtree, e.g. "finder/".
	KeyPrefix string

	// RootName is the display name of the volume root. Defaults to the
	// bucket name.
	RootName string
}

// New creates an S3 volume and verifies bucket access.
func New(ctx context.Context, id string, cfg Config) (*Volume, error) {
	if id == "" {
		return nil, fmt.Errorf("s3 volume: id is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 volume: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 volume: bucket is required")
	}

	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	name := cfg.RootName
	if name == "" {
		name = cfg.Bucket
	}

	v := &Volume{
		id:     id,
		client: cfg.Client,
		bucket: cfg.Bucket,
		prefix: prefix,
		name:   name,
	}

	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)})
	if err != nil {
		return nil, fmt.Errorf("s3 volume: bucket %q not accessible: %w", cfg.Bucket, err)
	}
	return v, nil
}

// ID returns the volume id.
func (v *Volume) ID() string { return v.id }

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
	if strings.HasPrefix(rel, "/") || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("target %q escapes the volume root", target)
	}
	return rel, nil
}

func (v *Volume) hash(rel string) string {
	return v.id + "_" + v.encode(rel)
}

// fileKey is the object key of a file node, dirKey the marker key of a
// directory node.
func (v *Volume) fileKey(rel string) string { return v.prefix + rel }
func (v *Volume) dirKey(rel string) string  { return v.prefix + rel + "/" }

// listPrefix is the key prefix under which a directory's children live.
func (v *Volume) listPrefix(rel string) string {
	if rel == "" {
		return v.prefix
	}
	return v.prefix + rel + "/"
}

func parentOf(rel string) string {
	parent := path.Dir(rel)
	if parent == "." || parent == "/" {
		return ""
	}
	return parent
}

func (v *Volume) dirInfo(rel string, ts int64) volume.NodeInfo {
	name := path.Base(rel)
	if rel == "" {
		name = v.name
	}
	info := volume.NodeInfo{
		Hash:  v.hash(rel),
		Name:  name,
		Mime:  volume.DirectoryMime,
		Ts:    ts,
		Read:  1,
		Write: 1,
		Dirs:  1,
	}
	if rel != "" {
		info.Phash = v.hash(parentOf(rel))
	}
	return info
}

func (v *Volume) fileInfo(rel string, size int64, modified *time.Time) volume.NodeInfo {
	var ts int64
	if modified != nil {
		ts = modified.Unix()
	}
	return volume.NodeInfo{
		Hash:  v.hash(rel),
		Phash: v.hash(parentOf(rel)),
		Name:  path.Base(rel),
		Mime:  mimeByName(rel),
		Size:  size,
		Ts:    ts,
		Read:  1,
		Write: 1,
	}
}

// mimeByName guesses a mime type from the file extension. Reading object
// bodies just to sniff them would cost a GET per listed node.
func mimeByName(rel string) string {
	switch strings.ToLower(path.Ext(rel)) {
	case ".txt", ".md", ".log":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	default:
		return "application/octet-stream"
	}
}

// isDir reports whether rel names a directory: either a marker object exists
// or at least one key lives under its prefix.
func (v *Volume) isDir(ctx context.Context, rel string) (bool, error) {
	if rel == "" {
		return true, nil
	}
	out, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(v.bucket),
		Prefix:  aws.String(v.dirKey(rel)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

// GetInfo describes one node.
func (v *Volume) GetInfo(ctx context.Context, target string) (volume.NodeInfo, error) {
	rel, err := v.decode(target)
	if err != nil {
		return volume.NodeInfo{}, err
	}
	if rel == "" {
		return v.dirInfo("", 0), nil
	}

	head, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.fileKey(rel)),
	})
	if err == nil {
		return v.fileInfo(rel, aws.ToInt64(head.ContentLength), head.LastModified), nil
	}

	dir, derr := v.isDir(ctx, rel)
	if derr != nil {
		return volume.NodeInfo{}, derr
	}
	if dir {
		return v.dirInfo(rel, 0), nil
	}
	return volume.NodeInfo{}, fmt.Errorf("node %q not found", rel)
}

// listDir returns the child nodes of a directory via a delimiter listing.
func (v *Volume) listDir(ctx context.Context, rel string) ([]volume.NodeInfo, error) {
	prefix := v.listPrefix(rel)

	var nodes []volume.NodeInfo
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(v.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			sub := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), v.prefix), "/")
			nodes = append(nodes, v.dirInfo(sub, 0))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue // the directory's own marker
			}
			sub := strings.TrimPrefix(key, v.prefix)
			nodes = append(nodes, v.fileInfo(sub, aws.ToInt64(obj.Size), obj.LastModified))
		}
	}
	return nodes, nil
}

// GetTree lists the children of target, optionally with ancestors and their
// siblings.
func (v *Volume) GetTree(ctx context.Context, target string, ancestors, siblings bool) ([]volume.NodeInfo, error) {
	rel, err := v.decode(target)
	if err != nil {
		return nil, err
	}

	nodes, err := v.listDir(ctx, rel)
	if err != nil {
		return nil, err
	}

	if ancestors {
		for cur := rel; cur != ""; {
			parent := parentOf(cur)
			nodes = append(nodes, v.dirInfo(parent, 0))

			if siblings {
				sibs, err := v.listDir(ctx, parent)
				if err != nil {
					return nil, err
				}
				curHash := v.hash(cur)
				for _, sib := range sibs {
					if sib.Hash == curHash {
						continue
					}
					nodes = append(nodes, sib)
				}
			}
			cur = parent
		}
	}
	if nodes == nil {
		nodes = []volume.NodeInfo{}
	}
	return nodes, nil
}

// List returns the names of target's immediate children.
func (v *Volume) List(ctx context.Context, target string) ([]string, error) {
	rel, err := v.decode(target)
	if err != nil {
		return nil, err
	}
	nodes, err := v.listDir(ctx, rel)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

func (v *Volume) put(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := v.client.PutObject(ctx, input)
	return err
}

// Mkdir creates a directory marker under the parent target.
func (v *Volume) Mkdir(ctx context.Context, name, parent string) (volume.NodeInfo, error) {
	rel, err := v.decode(parent)
	if err != nil {
		return volume.NodeInfo{}, err
	}
	if err := checkName(name); err != nil {
		return volume.NodeInfo{}, err
	}
	child := path.Join(rel, name)
	if err := v.put(ctx, v.dirKey(child), strings.NewReader(""), ""); err != nil {
		return volume.NodeInfo{}, err
	}
	return v.dirInfo(child, time.Now().Unix()), nil
}

// Mkfile creates an empty object under the parent target.
func (v *Volume) Mkfile(ctx context.Context, name, parent string) (volume.NodeInfo, error) {
	rel, err := v.decode(parent)
	if err != nil {
		return volume.NodeInfo{}, err
	}
	if err := checkName(name); err != nil {
		return volume.NodeInfo{}, err
	}
	child := path.Join(rel, name)
	if err := v.put(ctx, v.fileKey(child), strings.NewReader(""), mimeByName(child)); err != nil {
		return volume.NodeInfo{}, err
	}
	return v.GetInfo(ctx, v.encode(child))
}

// keysUnder collects every object key belonging to the node at rel: the key
// itself for files, all keys under the prefix (marker included) for
// directories.
func (v *Volume) keysUnder(ctx context.Context, rel string) ([]string, bool, error) {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.fileKey(rel)),
	})
	if err == nil {
		return []string{v.fileKey(rel)}, false, nil
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(v.dirKey(rel)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, false, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if len(keys) == 0 {
		return nil, false, fmt.Errorf("node %q not found", rel)
	}
	return keys, true, nil
}

// rewriteKey maps one object key of a transferring node onto its destination:
// the node's base key is swapped, the subtree suffix (directory marker slash
// included) is kept.
func rewriteKey(key, oldBase, newBase string) string {
	return newBase + strings.TrimPrefix(key, oldBase)
}

func (v *Volume) copyKey(ctx context.Context, srcKey, dstKey string) error {
	_, err := v.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(v.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(url.PathEscape(v.bucket + "/" + srcKey)),
	})
	return err
}

func (v *Volume) deleteKey(ctx context.Context, key string) error {
	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	return err
}

// transfer copies (and for move, deletes) every key of the node at rel so it
// lands at destRel.
func (v *Volume) transfer(ctx context.Context, rel, destRel string, move bool) (bool, error) {
	keys, isDir, err := v.keysUnder(ctx, rel)
	if err != nil {
		return false, err
	}

	oldBase := v.fileKey(rel)
	newBase := v.fileKey(destRel)
	for _, key := range keys {
		if err := v.copyKey(ctx, key, rewriteKey(key, oldBase, newBase)); err != nil {
			return false, err
		}
	}
	if move {
		for _, key := range keys {
			if err := v.deleteKey(ctx, key); err != nil {
				return false, err
			}
		}
	}
	return isDir, nil
}

// Rename renames target in place via copy-and-delete.
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
	isDir, err := v.transfer(ctx, rel, dest, true)
	if err != nil {
		return nil, err
	}

	var info volume.NodeInfo
	if isDir {
		info = v.dirInfo(dest, time.Now().Unix())
	} else {
		info, err = v.GetInfo(ctx, v.encode(dest))
		if err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"added":   []volume.NodeInfo{info},
		"removed": []string{v.hash(rel)},
	}, nil
}

// Paste moves or copies targets into the dst directory.
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

		isDir, err := v.transfer(ctx, rel, dest, cut)
		if err != nil {
			return nil, err
		}
		if cut {
			removed = append(removed, v.hash(rel))
		}

		if isDir {
			added = append(added, v.dirInfo(dest, time.Now().Unix()))
		} else {
			info, err := v.GetInfo(ctx, v.encode(dest))
			if err != nil {
				return nil, err
			}
			added = append(added, info)
		}
	}

	out := map[string]any{"added": added}
	if cut {
		out["removed"] = removed
	}
	return out, nil
}

// Remove deletes target (recursively for directories).
func (v *Volume) Remove(ctx context.Context, target string) (string, error) {
	rel, err := v.decode(target)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return "", fmt.Errorf("cannot remove the volume root")
	}

	keys, _, err := v.keysUnder(ctx, rel)
	if err != nil {
		return "", err
	}
	for _, key := range keys {
		if err := v.deleteKey(ctx, key); err != nil {
			return "", err
		}
	}
	return v.hash(rel), nil
}

// Upload stores each uploaded file under the parent target.
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
		err = v.put(ctx, v.fileKey(dest), in, mimeByName(dest))
		in.Close()
		if err != nil {
			return nil, err
		}

		added = append(added, v.fileInfo(dest, fh.Size, aws.Time(time.Now())))
	}
	return map[string]any{"added": added}, nil
}

// AbsolutePath returns "": objects have no filesystem location, so archive
// and extract are unavailable on this volume.
func (v *Volume) AbsolutePath(target string) string {
	return ""
}

// Open streams the object body to the client.
func (v *Volume) Open(ctx context.Context, target string) (*volume.Content, error) {
	rel, err := v.decode(target)
	if err != nil {
		return nil, err
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.fileKey(rel)),
	})
	if err != nil {
		return nil, err
	}

	mime := aws.ToString(out.ContentType)
	if mime == "" {
		mime = mimeByName(rel)
	}
	return &volume.Content{
		Reader: out.Body,
		Name:   path.Base(rel),
		Mime:   mime,
		Size:   aws.ToInt64(out.ContentLength),
	}, nil
}
