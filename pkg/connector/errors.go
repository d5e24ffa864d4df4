package connector

import "fmt"

// Fixed protocol-level error strings. The elFinder widget matches on these,
// so they are not translated or rephrased.
const (
	errNoCommand      = "No command specified"
	errUnknownCommand = "Unknown command"
	errInvalidArgs    = "Invalid arguments"
)

// MalformedHashError reports a node identifier that does not split into a
// volume id and a local target.
type MalformedHashError struct {
	Hash string
}

func (e *MalformedHashError) Error() string {
	return fmt.Sprintf("invalid target hash: %q", e.Hash)
}

// UnknownVolumeError reports an identifier whose volume segment does not
// match any mounted volume.
type UnknownVolumeError struct {
	VolumeID string
}

func (e *UnknownVolumeError) Error() string {
	return fmt.Sprintf("unknown volume: %q", e.VolumeID)
}

// CrossVolumeError reports a paste whose source and destination resolve to
// different volumes. Cross-volume transfer is unsupported by design.
type CrossVolumeError struct {
	Src string
	Dst string
}

func (e *CrossVolumeError) Error() string {
	return "moving between volumes is not supported"
}
