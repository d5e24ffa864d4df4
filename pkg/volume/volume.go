// Package volume defines the capability contract every storage backend must
// satisfy to be mounted into the connector.
//
// A volume owns a subtree of storage identified by a unique volume id. The
// connector addresses nodes inside a volume with opaque local targets; a
// driver is free to choose any target encoding as long as it is stable across
// requests (targets are recomputed on every request, they are never stored).
//
// Volumes are disjoint: the connector rejects operations that would span two
// different volumes, so drivers never see foreign targets.
package volume

import (
	"context"
	"io"
	"mime/multipart"
)

// Mime type reported for directories. Everything else is a file mime type.
const DirectoryMime = "directory"

// NodeInfo describes one file or directory exposed by a volume.
//
// The JSON field names are part of the wire protocol consumed by the elFinder
// widget and must not change. Hash is the node's full identifier including the
// volume id prefix; Phash is the parent's identifier and is empty only for
// volume roots.
type NodeInfo struct {
	Hash  string `json:"hash"`
	Phash string `json:"phash,omitempty"`
	Name  string `json:"name"`
	Mime  string `json:"mime"`
	Size  int64  `json:"size"`
	Ts    int64  `json:"ts"`
	Dirs  int    `json:"dirs,omitempty"`
	Read  int    `json:"read"`
	Write int    `json:"write"`
}

// IsDir reports whether the node is a directory.
func (n NodeInfo) IsDir() bool {
	return n.Mime == DirectoryMime
}

// Content is an opened file handed to the transport layer for streaming.
// The caller owns Reader and must close it.
type Content struct {
	Reader io.ReadCloser
	Name   string
	Mime   string
	Size   int64
}

// Driver is the capability interface the connector consumes.
//
// All targets passed to a driver are local targets, i.e. the part of the node
// identifier after the volume id prefix. The empty target always addresses
// the volume root. Drivers return NodeInfo records carrying full identifiers
// (volume id prefix included) so responses can be shipped to the client
// without further translation.
//
// Rename, Paste and Upload return a partial response envelope that the
// connector merges verbatim into the command response. By convention these
// carry "added" and "removed" members.
type Driver interface {
	// ID returns the unique volume id. Ids must not contain the hash
	// separator character.
	ID() string

	// GetInfo describes a single node.
	GetInfo(ctx context.Context, target string) (NodeInfo, error)

	// GetTree lists the children of target. With ancestors set the listing
	// additionally contains every ancestor up to the volume root, and with
	// siblings set the siblings of each ancestor. The order of entries must
	// be stable between two calls with no intervening mutation.
	GetTree(ctx context.Context, target string, ancestors, siblings bool) ([]NodeInfo, error)

	// List returns the names of target's immediate children.
	List(ctx context.Context, target string) ([]string, error)

	// Mkdir creates a directory called name under the parent target and
	// returns its info.
	Mkdir(ctx context.Context, name, parent string) (NodeInfo, error)

	// Mkfile creates an empty file called name under the parent target and
	// returns its info.
	Mkfile(ctx context.Context, name, parent string) (NodeInfo, error)

	// Rename renames target to name, keeping it in place.
	Rename(ctx context.Context, name, target string) (map[string]any, error)

	// Paste moves (cut) or copies the given targets from the src directory
	// into the dst directory. All targets, src and dst are local to this
	// volume; the connector has already rejected cross-volume transfers.
	Paste(ctx context.Context, targets []string, src, dst string, cut bool) (map[string]any, error)

	// Remove deletes target (recursively for directories) and returns the
	// identifier of the removed node.
	Remove(ctx context.Context, target string) (string, error)

	// Upload stores each uploaded file under the parent target.
	Upload(ctx context.Context, files []*multipart.FileHeader, parent string) (map[string]any, error)

	// AbsolutePath translates target to an absolute path on the local
	// filesystem. Volumes not rooted in a filesystem return "": the
	// connector then refuses operations that need real paths (archive,
	// extract) and skips path redaction for this volume.
	AbsolutePath(target string) string

	// Open returns the content of a file node for streaming to the client.
	Open(ctx context.Context, target string) (*Content, error)
}
