package hostsfile

import (
	"fmt"
	"os"
	"path/filepath"

	"netmgr/internal/ifreg"
	"netmgr/internal/uuidfmt"
)

// Registry is the subset of *ifreg.Registry this package consumes.
type Registry interface {
	Each(f func(*ifreg.Interface))
}

// Params bundles UpdateHosts' inputs beyond the destination path.
type Params struct {
	Registry      Registry
	ClusterUUID   uuidfmt.UUID
	SelfNodeUUID  uuidfmt.UUID
	IsBridge      func(iface *ifreg.Interface) bool
	IsPrivateLink func(iface *ifreg.Interface) bool
}

// UpdateHosts writes a fresh hosts snapshot and rotates it into place:
// build "<path>.tmp", fsync and close it, unlink "<path>.1", hard-link
// "<path>" to "<path>.1", then rename "<path>.tmp" over "<path>".
func UpdateHosts(path string, p Params) error {
	tmpPath := path + ".tmp"
	backupPath := path + ".1"

	buf := make([]byte, TableSize)
	n := 0

	writeEntry := func(e Entry) error {
		if n >= TableEntries {
			return fmt.Errorf("hostsfile: host table full at %d entries", TableEntries)
		}
		copy(buf[n*EntrySize:(n+1)*EntrySize], e.Marshal())
		n++
		return nil
	}

	clusterUUID := p.ClusterUUID
	selfOrdinal := HostOrdinal()
	var writeErr error

	p.Registry.Each(func(iface *ifreg.Interface) {
		if writeErr != nil || iface.Removed {
			return
		}
		private := p.IsPrivateLink != nil && p.IsPrivateLink(iface)
		bridge := p.IsBridge != nil && p.IsBridge(iface)
		if (bridge || private) && !iface.NoOrdinal {
			selfEntry := Entry{
				NodeUUID:        p.SelfNodeUUID,
				ClusterUUID:     clusterUUID,
				PrimaryIPv6:     iface.PrimaryAddress.As16(),
				MAC:             iface.MAC,
				Valid:           true,
				Partner:         false,
				IsPrivate:       private,
				NodeOrdinal:     selfOrdinal,
				InterfaceOrdinal: iface.Ordinal,
			}
			if err := writeEntry(selfEntry); err != nil {
				writeErr = err
				return
			}
		}

		iface.Neighbors.EachNeighbor(func(peer *ifreg.Peer) {
			if writeErr != nil || !peer.Valid || peer.Node == nil || !peer.Node.IsPartner {
				return
			}
			entry := Entry{
				NodeUUID:        peer.Node.UUID,
				ClusterUUID:     clusterUUID,
				PrimaryIPv6:     peer.Address.As16(),
				Valid:           true,
				Partner:         peer.IsPartner,
				IsPrivate:       peer.IsPrivate,
				NodeOrdinal:     peer.Node.Ordinal,
				InterfaceOrdinal: peer.Ordinal,
			}
			if err := writeEntry(entry); err != nil {
				writeErr = err
			}
		})
	})
	if writeErr != nil {
		return fmt.Errorf("hostsfile: build snapshot: %w", writeErr)
	}

	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return fmt.Errorf("hostsfile: prepare directory: %w", err)
	}
	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("hostsfile: create %s: %w", tmpPath, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("hostsfile: write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("hostsfile: fsync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("hostsfile: close %s: %w", tmpPath, err)
	}

	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hostsfile: remove %s: %w", backupPath, err)
	}
	if err := os.Link(path, backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hostsfile: link %s -> %s: %w", path, backupPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("hostsfile: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}
