package badgerfs

// Key namespaces
// ==============
//
// BadgerDB is a flat key-value store, so node metadata, the directory
// hierarchy and file content live under prefixed keys:
//
//	Data Type       Prefix  Key Format                  Value
//	----------------------------------------------------------------------
//	Node records    "n:"    n:<nodeID>                  node (JSON)
//	Children edges  "c:"    c:<parentID>:<childName>    childID (bytes)
//	Content blobs   "b:"    b:<nodeID>                  file bytes
//
// Node ids are random UUIDs (the root uses the fixed id "root"), so they are
// stable across renames and collision-free without coordination. The
// denormalized children edges give directory listings as a single prefix
// scan in name order.

const (
	nodePrefix    = "n:"
	childPrefix   = "c:"
	contentPrefix = "b:"
)

// rootID is the fixed node id of the volume root.
const rootID = "root"

func nodeKey(id string) []byte {
	return []byte(nodePrefix + id)
}

func childKey(parentID, name string) []byte {
	return []byte(childPrefix + parentID + ":" + name)
}

func childScanPrefix(parentID string) []byte {
	return []byte(childPrefix + parentID + ":")
}

func contentKey(id string) []byte {
	return []byte(contentPrefix + id)
}
