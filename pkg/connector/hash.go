package connector

import (
	"strings"

	"github.com/marmos91/elfinderd/pkg/volume"
)

// Separator between the volume id and the local target inside a node
// identifier. Volume ids must never contain it (enforced at construction);
// local targets may, since only the first occurrence splits.
const HashSeparator = "_"

// SplitHash splits a node identifier into its volume id and local target.
//
// Identifiers have the form "<volumeID>_<target>". The target part may be
// empty (it then addresses the volume root) and may itself contain the
// separator. SplitHash is pure: it never consults the volume registry.
func SplitHash(hash string) (volumeID, target string, err error) {
	i := strings.Index(hash, HashSeparator)
	if i <= 0 {
		return "", "", &MalformedHashError{Hash: hash}
	}
	return hash[:i], hash[i+1:], nil
}

// resolve maps a node identifier to its owning volume and local target.
func (c *Connector) resolve(hash string) (volume.Driver, string, error) {
	volumeID, target, err := SplitHash(hash)
	if err != nil {
		return nil, "", err
	}

	vol, ok := c.volumes[volumeID]
	if !ok {
		return nil, "", &UnknownVolumeError{VolumeID: volumeID}
	}

	return vol, target, nil
}
