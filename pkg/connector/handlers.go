package connector

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/marmos91/elfinderd/pkg/archive"
	"github.com/marmos91/elfinderd/pkg/volume"
)

// Handlers assume their required parameters are present: the dispatcher has
// already validated the command contract. Only cross-field relationships the
// static contract cannot express are re-checked here (e.g. paste volumes).

// open returns the working directory and its listing. With an empty target
// the default volume's root becomes the cwd and the listing accumulates the
// trees of every mounted volume; otherwise only the target's volume is
// consulted. The tree=1 option widens the listing to ancestors and siblings,
// and init merges the capability advertisement into the response.
func (s *session) open() error {
	withTree := s.data["tree"] == "1"
	target := s.data["target"]

	if target == "" {
		def := s.c.volumes[s.c.order[0]]
		cwd, err := def.GetInfo(s.ctx, "")
		if err != nil {
			return err
		}
		s.resp["cwd"] = cwd

		files := make([]volume.NodeInfo, 0)
		for _, id := range s.c.order {
			nodes, err := s.c.volumes[id].GetTree(s.ctx, "", withTree, withTree)
			if err != nil {
				return err
			}
			files = append(files, nodes...)
		}
		s.resp["files"] = files
	} else {
		vol, local, err := s.c.resolve(target)
		if err != nil {
			return err
		}
		cwd, err := vol.GetInfo(s.ctx, local)
		if err != nil {
			return err
		}
		files, err := vol.GetTree(s.ctx, local, withTree, withTree)
		if err != nil {
			return err
		}
		s.resp["cwd"] = cwd
		s.resp["files"] = files
	}

	if _, ok := s.data["init"]; ok {
		for key, value := range s.c.initParams() {
			s.resp[key] = value
		}
	}
	return nil
}

// tree returns the target's children only.
func (s *session) tree() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}
	nodes, err := vol.GetTree(s.ctx, local, false, false)
	if err != nil {
		return err
	}
	s.resp["tree"] = nodes
	return nil
}

// parents returns a flat list of the target's ancestors and their siblings.
// The client reconstructs the hierarchy from each node's hash/phash pair.
func (s *session) parents() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}
	nodes, err := vol.GetTree(s.ctx, local, true, true)
	if err != nil {
		return err
	}
	s.resp["tree"] = nodes
	return nil
}

// file routes the request to the volume's content view. The dispatcher
// streams it instead of rendering JSON.
func (s *session) file() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}
	view, err := vol.Open(s.ctx, local)
	if err != nil {
		return err
	}
	s.view = view
	return nil
}

func (s *session) mkdir() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}
	node, err := vol.Mkdir(s.ctx, s.data["name"], local)
	if err != nil {
		return err
	}
	s.resp["added"] = []volume.NodeInfo{node}
	return nil
}

func (s *session) mkfile() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}
	node, err := vol.Mkfile(s.ctx, s.data["name"], local)
	if err != nil {
		return err
	}
	s.resp["added"] = []volume.NodeInfo{node}
	return nil
}

// rename merges whatever the driver returns, commonly the updated node info
// as added plus the stale identifier as removed.
func (s *session) rename() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}
	out, err := vol.Rename(s.ctx, s.data["name"], local)
	if err != nil {
		return err
	}
	s.merge(out)
	return nil
}

func (s *session) list() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}
	names, err := vol.List(s.ctx, local)
	if err != nil {
		return err
	}
	s.resp["list"] = names
	return nil
}

// paste moves or copies a list of targets from src to dst. Source and
// destination must resolve to the same volume: the transfer itself is
// delegated to that volume, and no mutation happens when the check fails.
func (s *session) paste() error {
	srcVol, srcLocal, err := s.c.resolve(s.data["src"])
	if err != nil {
		return err
	}
	dstVol, dstLocal, err := s.c.resolve(s.data["dst"])
	if err != nil {
		return err
	}
	if srcVol.ID() != dstVol.ID() {
		return &CrossVolumeError{Src: s.data["src"], Dst: s.data["dst"]}
	}

	locals := make([]string, 0, len(s.targets))
	for _, target := range s.targets {
		vol, local, err := s.c.resolve(target)
		if err != nil {
			return err
		}
		if vol.ID() != dstVol.ID() {
			return &CrossVolumeError{Src: target, Dst: s.data["dst"]}
		}
		locals = append(locals, local)
	}

	cut := s.data["cut"] == "1"
	out, err := dstVol.Paste(s.ctx, locals, srcLocal, dstLocal, cut)
	if err != nil {
		return err
	}
	s.merge(out)
	return nil
}

// remove deletes every target, resolving each one's volume independently.
// There is no rollback: a mid-list failure leaves earlier removals applied,
// and the removed list reports exactly what was deleted, in input order.
func (s *session) remove() error {
	removed := make([]string, 0, len(s.targets))
	s.resp["removed"] = removed

	for _, target := range s.targets {
		vol, local, err := s.c.resolve(target)
		if err != nil {
			return err
		}
		hash, err := vol.Remove(s.ctx, local)
		if err != nil {
			return err
		}
		removed = append(removed, hash)
		s.resp["removed"] = removed
	}
	return nil
}

func (s *session) upload() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}
	out, err := vol.Upload(s.ctx, s.uploads, local)
	if err != nil {
		return err
	}
	s.merge(out)
	return nil
}

// checkEntryName rejects names that would resolve outside the directory they
// are created in. Drivers enforce the same rule on their own mutations;
// archive destinations are assembled here, outside any driver, so the rule
// repeats here.
func checkEntryName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// archive packs the listed targets into <name>.<ext> inside the target
// directory, then re-scans the directory tree and reports the node whose
// resolved path matches the new archive. Locating the entry by path rather
// than trusting a returned identifier keeps the handler driver-agnostic, at
// the cost of assuming unique paths.
func (s *session) archive() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}

	format, ok := archive.FormatForMime(s.data["type"])
	if !ok {
		return fmt.Errorf("unsupported archive type %q", s.data["type"])
	}
	if err := checkEntryName(s.data["name"]); err != nil {
		return err
	}

	dir := vol.AbsolutePath(local)
	if dir == "" {
		return fmt.Errorf("volume %q does not support archiving", vol.ID())
	}
	dest := filepath.Join(dir, s.data["name"]+"."+format.Ext())

	sources := make([]string, 0, len(s.targets))
	for _, target := range s.targets {
		tvol, tlocal, err := s.c.resolve(target)
		if err != nil {
			return err
		}
		path := tvol.AbsolutePath(tlocal)
		if path == "" {
			return fmt.Errorf("volume %q does not support archiving", tvol.ID())
		}
		sources = append(sources, path)
	}

	if err := archive.Create(s.ctx, dest, sources, format); err != nil {
		return err
	}

	nodes, err := vol.GetTree(s.ctx, local, false, false)
	if err != nil {
		return err
	}
	added := make([]volume.NodeInfo, 0, 1)
	for _, node := range nodes {
		_, nlocal, err := s.c.resolve(node.Hash)
		if err != nil {
			continue
		}
		if vol.AbsolutePath(nlocal) == dest {
			added = append(added, node)
		}
	}
	s.resp["added"] = added
	return nil
}

// extract unpacks the target archive into a new directory next to it, named
// after the archive's filename stem, then finds the new directory in the
// parent's tree by resolved path (same reconciliation as archive).
func (s *session) extract() error {
	vol, local, err := s.c.resolve(s.data["target"])
	if err != nil {
		return err
	}

	info, err := vol.GetInfo(s.ctx, local)
	if err != nil {
		return err
	}
	src := vol.AbsolutePath(local)
	if src == "" {
		return fmt.Errorf("volume %q does not support extraction", vol.ID())
	}
	if info.Phash == "" {
		return fmt.Errorf("%q is not an archive file", info.Name)
	}

	parentVol, parentLocal, err := s.c.resolve(info.Phash)
	if err != nil {
		return err
	}
	stem := strings.SplitN(info.Name, ".", 2)[0]
	if err := checkEntryName(stem); err != nil {
		return err
	}
	folder := filepath.Join(parentVol.AbsolutePath(parentLocal), stem)

	if _, err := parentVol.Mkdir(s.ctx, stem, parentLocal); err != nil {
		return err
	}
	if err := archive.Extract(s.ctx, src, folder); err != nil {
		return err
	}

	nodes, err := parentVol.GetTree(s.ctx, parentLocal, false, false)
	if err != nil {
		return err
	}
	added := make([]volume.NodeInfo, 0, 1)
	for _, node := range nodes {
		_, nlocal, err := s.c.resolve(node.Hash)
		if err != nil {
			continue
		}
		if parentVol.AbsolutePath(nlocal) == folder {
			added = append(added, node)
		}
	}
	s.resp["added"] = added
	return nil
}

// merge copies a driver-produced partial envelope into the response.
func (s *session) merge(out map[string]any) {
	for key, value := range out {
		s.resp[key] = value
	}
}
