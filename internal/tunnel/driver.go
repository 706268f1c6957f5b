package tunnel

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// PeerSplice is everything needed to realize a splice-up decision as a
// WireGuard peer on the tunnel interface.
type PeerSplice struct {
	// Interface is the local WireGuard device name (e.g. "bizwg0").
	Interface string
	// RemotePublicKey identifies the peer being spliced in.
	RemotePublicKey wgtypes.Key
	// AllowedPrefixes are the remote node's routable prefixes across the
	// tunnel; typically the remote bridge's single /32 or /128.
	AllowedPrefixes []netip.Prefix
	// Endpoint is the peer's last-known reachable address, if any. Left nil
	// when the peer is expected to dial in first (NAT traversal).
	Endpoint       *netip.AddrPort
	KeepaliveEvery time.Duration
}

// Driver realizes a Decision by configuring (or tearing down) a WireGuard
// peer. Kept as an interface so internal/engine can exercise Plan without a
// live wgctrl handle in tests.
type Driver interface {
	Splice(PeerSplice) error
	Unsplice(iface string, remotePublicKey wgtypes.Key) error
}

// WireGuardDriver realizes splice decisions against the kernel WireGuard
// device named by Interface, the way internal/wireguard/device_linux.go
// configures peers on the control-plane tunnel device.
type WireGuardDriver struct{}

// Splice adds or updates a peer on the named interface with the given
// allowed IPs, replacing any previously allowed prefixes for that peer.
func (WireGuardDriver) Splice(p PeerSplice) error {
	client, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("tunnel: open wgctrl client: %w", err)
	}
	defer client.Close()

	peer := wgtypes.PeerConfig{
		PublicKey:         p.RemotePublicKey,
		ReplaceAllowedIPs: true,
		AllowedIPs:        prefixesToIPNets(p.AllowedPrefixes),
	}
	if p.Endpoint != nil {
		peer.Endpoint = &net.UDPAddr{IP: p.Endpoint.Addr().AsSlice(), Port: int(p.Endpoint.Port())}
	}
	if p.KeepaliveEvery > 0 {
		keepalive := p.KeepaliveEvery
		peer.PersistentKeepaliveInterval = &keepalive
	}

	cfg := wgtypes.Config{Peers: []wgtypes.PeerConfig{peer}}
	if err := client.ConfigureDevice(p.Interface, cfg); err != nil {
		return fmt.Errorf("tunnel: configure peer on %s: %w", p.Interface, err)
	}
	return nil
}

// Unsplice removes a previously spliced peer.
func (WireGuardDriver) Unsplice(iface string, remotePublicKey wgtypes.Key) error {
	client, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("tunnel: open wgctrl client: %w", err)
	}
	defer client.Close()

	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{PublicKey: remotePublicKey, Remove: true}},
	}
	if err := client.ConfigureDevice(iface, cfg); err != nil {
		return fmt.Errorf("tunnel: remove peer from %s: %w", iface, err)
	}
	return nil
}

func prefixesToIPNets(prefixes []netip.Prefix) []net.IPNet {
	out := make([]net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		bits := p.Bits()
		addr := p.Addr()
		out = append(out, net.IPNet{
			IP:   addr.AsSlice(),
			Mask: net.CIDRMask(bits, addr.BitLen()),
		})
	}
	return out
}
