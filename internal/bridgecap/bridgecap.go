//go:build linux

// Package bridgecap wraps the netlink bridge/link operations the Interface
// Registry needs (create, destroy, add port, set MAC, bring up/down),
// treating bridges as an opaque platform capability the way the original
// core does.
package bridgecap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vishvananda/netlink"
)

// Controller implements ifreg.LinkToggler and ifreg.BridgeCapability
// against the kernel's netlink interface.
type Controller struct{}

// BringLinkUp sets the administrative up flag on a link, idempotently.
func (Controller) BringLinkUp(ctx context.Context, index int) error {
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return fmt.Errorf("bridgecap: find link %d: %w", index, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bridgecap: bring link %d up: %w", index, err)
	}
	return nil
}

// BringLinkDown clears the administrative up flag on a link.
func (Controller) BringLinkDown(ctx context.Context, index int) error {
	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return fmt.Errorf("bridgecap: find link %d: %w", index, err)
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return fmt.Errorf("bridgecap: bring link %d down: %w", index, err)
	}
	return nil
}

// EnsureBridge creates a bridge device named name if it does not already
// exist.
func (Controller) EnsureBridge(name string) error {
	if _, err := netlink.LinkByName(name); err == nil {
		return nil
	} else if _, ok := err.(netlink.LinkNotFoundError); !ok {
		return fmt.Errorf("bridgecap: find bridge %q: %w", name, err)
	}
	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if err := netlink.LinkAdd(br); err != nil {
		return fmt.Errorf("bridgecap: create bridge %q: %w", name, err)
	}
	return nil
}

// SetBridgeMAC sets a bridge's hardware address.
func (Controller) SetBridgeMAC(name string, mac [6]byte) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("bridgecap: find bridge %q: %w", name, err)
	}
	if err := netlink.LinkSetHardwareAddr(link, mac[:]); err != nil {
		return fmt.Errorf("bridgecap: set bridge %q MAC: %w", name, err)
	}
	return nil
}

// AddPort enslaves iface to bridge.
func (Controller) AddPort(bridge, iface string) error {
	br, err := netlink.LinkByName(bridge)
	if err != nil {
		return fmt.Errorf("bridgecap: find bridge %q: %w", bridge, err)
	}
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("bridgecap: find interface %q: %w", iface, err)
	}
	if err := netlink.LinkSetMaster(link, br); err != nil {
		return fmt.Errorf("bridgecap: add %q to bridge %q: %w", iface, bridge, err)
	}
	return nil
}

// RemovePort detaches iface from whatever bridge currently masters it.
func (Controller) RemovePort(iface string) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("bridgecap: find interface %q: %w", iface, err)
	}
	if err := netlink.LinkSetNoMaster(link); err != nil {
		return fmt.Errorf("bridgecap: remove %q from its bridge: %w", iface, err)
	}
	return nil
}

// IsTunnelled reports whether bridge's members include a tun device,
// located by resolving /sys/class/net/tun*/brport/bridge symlinks back to
// bridge's real path.
func (Controller) IsTunnelled(bridge string) (bool, error) {
	matches, err := filepath.Glob("/sys/class/net/tun*/brport/bridge")
	if err != nil {
		return false, fmt.Errorf("bridgecap: glob tun brport links: %w", err)
	}
	bridgeReal, err := filepath.EvalSymlinks(filepath.Join("/sys/class/net", bridge))
	if err != nil {
		// A bridge with no sysfs entry yet (just created) cannot be tunnelled.
		return false, nil
	}
	for _, m := range matches {
		real, err := filepath.EvalSymlinks(m)
		if err != nil {
			continue
		}
		if real == bridgeReal {
			return true, nil
		}
	}
	return false, nil
}
