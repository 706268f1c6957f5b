// Package heartbeat implements the Heartbeat Engine (C5): a periodic IPv6
// multicast datagram carrying a node's UUID, built on
// golang.org/x/net/ipv6, the same transport family as C4's ICMPv6 engine.
package heartbeat

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv6"

	"netmgr/internal/identity"
	"netmgr/internal/ifreg"
	"netmgr/internal/uuidfmt"
)

// Group is the link-local-scoped multicast address heartbeats are sent to.
const Group = "ff02::4845:4152"

// Port is the UDP port heartbeats are exchanged on.
const Port = 7946

// Interval is the default cadence between heartbeat sends.
const Interval = 3 * time.Second

const receiveTimeout = 60 * time.Second

// InboundSocket opens a UDP IPv6 socket listening on Group:Port, joined to
// the multicast group on the given interface index, with loopback disabled.
// Listening on a multicast address makes the port reusable, so each
// interface gets its own socket.
func InboundSocket(ifIndex int) (*ipv6.PacketConn, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.ParseIP(Group), Port: Port})
	if err != nil {
		return nil, fmt.Errorf("heartbeat: listen: %w", err)
	}
	pc := ipv6.NewPacketConn(conn)
	ifi := &net.Interface{Index: ifIndex}
	group := &net.UDPAddr{IP: net.ParseIP(Group)}
	if err := pc.JoinGroup(ifi, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("heartbeat: join group on interface %d: %w", ifIndex, err)
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("heartbeat: disable multicast loopback: %w", err)
	}
	if err := pc.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("heartbeat: enable control messages: %w", err)
	}
	return pc, nil
}

// OutboundSocket opens a UDP IPv6 socket for sending heartbeats out a
// specific interface, with loopback disabled.
func OutboundSocket(ifIndex int) (*ipv6.PacketConn, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("heartbeat: listen: %w", err)
	}
	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetMulticastInterface(&net.Interface{Index: ifIndex}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("heartbeat: set multicast interface %d: %w", ifIndex, err)
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("heartbeat: disable multicast loopback: %w", err)
	}
	return pc, nil
}

// Send writes a node's UUID to the heartbeat multicast group. Failures are
// the caller's to log; Send does not retry.
func Send(pc *ipv6.PacketConn, self uuidfmt.UUID) error {
	dst := &net.UDPAddr{IP: net.ParseIP(Group), Port: Port}
	if _, err := pc.WriteTo(self.Bytes(), nil, dst); err != nil {
		return fmt.Errorf("heartbeat: send: %w", err)
	}
	return nil
}

// Receive reads one heartbeat datagram, interns the sending node and its
// neighbor-table entry, links them, and reports whether the sender became
// this interface's partner for the first time (the caller should persist
// the partner cache in that case).
func Receive(pc *ipv6.PacketConn, store *identity.Store, neighbors *ifreg.NeighborTable, isPrivateLink bool) (becamePartner bool, err error) {
	if err := pc.SetReadDeadline(time.Now().Add(receiveTimeout)); err != nil {
		return false, fmt.Errorf("heartbeat: set read deadline: %w", err)
	}
	buf := make([]byte, uuidfmt.Size)
	n, _, src, err := pc.ReadFrom(buf)
	if err != nil {
		return false, err
	}
	if n != uuidfmt.Size {
		return false, fmt.Errorf("heartbeat: payload %d bytes, want %d", n, uuidfmt.Size)
	}
	id, err := uuidfmt.FromBytes(buf[:n])
	if err != nil {
		return false, fmt.Errorf("heartbeat: decode uuid: %w", err)
	}

	node := store.Intern(id)
	if node == nil {
		return false, fmt.Errorf("heartbeat: node table full, dropping heartbeat from %s", id)
	}

	srcAddr := udpAddrToNetip(src)
	peer := neighbors.InternNeighbor(srcAddr)
	if peer == nil {
		return false, fmt.Errorf("heartbeat: neighbor table full, dropping peer %s", srcAddr)
	}
	peer.Node = node
	peer.LastUpdated = time.Now()

	if isPrivateLink && !peer.IsPartner {
		peer.IsPartner = true
		node.IsPartner = true
		return true, nil
	}
	return false, nil
}

func udpAddrToNetip(a net.Addr) netip.Addr {
	if u, ok := a.(*net.UDPAddr); ok {
		if addr, ok := netip.AddrFromSlice(u.IP); ok {
			return addr.Unmap()
		}
	}
	return netip.Addr{}
}
