//go:build linux

package kernelmon

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

var nativeEndian = binary.NativeEndian

// groups are the RTNLGRP_* multicast groups this source joins. Neighbor and
// route groups are deliberately excluded: under churn they produce far more
// traffic than the link/address groups and risk starving the socket buffer.
var groups = []uint32{
	unix.RTNLGRP_LINK,
	unix.RTNLGRP_IPV4_IFADDR,
	unix.RTNLGRP_IPV6_IFADDR,
	unix.RTNLGRP_IPV6_IFINFO,
	unix.RTNLGRP_IPV6_PREFIX,
}

const ifinfomsgLen = 16
const ifaddrmsgLen = 8

// Source subscribes to NETLINK_ROUTE and turns raw messages into Events.
type Source struct {
	log *slog.Logger

	mu   sync.Mutex
	conn *netlink.Conn

	enobufsLogged bool
}

// NewSource constructs a Source. log may be nil, in which case
// slog.Default() is used.
func NewSource(log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{log: log}
}

// Subscribe opens the NETLINK_ROUTE socket, joins the link/address groups,
// and returns a channel of decoded events. The channel is closed when ctx is
// canceled or the socket is torn down by Close.
func (s *Source) Subscribe(ctx context.Context) (<-chan Event, error) {
	conn, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, fmt.Errorf("kernelmon: dial netlink_route: %w", err)
	}
	for _, g := range groups {
		if err := conn.JoinGroup(g); err != nil {
			conn.Close()
			return nil, fmt.Errorf("kernelmon: join group %d: %w", g, err)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	out := make(chan Event, 64)
	go s.readLoop(ctx, conn, out)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return out, nil
}

// Close releases the subscribed socket, if any. Safe to call without a prior
// Subscribe.
func (s *Source) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Source) readLoop(ctx context.Context, conn *netlink.Conn, out chan<- Event) {
	defer close(out)
	for {
		msgs, err := conn.Receive()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, unix.ENOBUFS) {
				if !s.enobufsLogged {
					s.log.Warn("kernelmon: receive buffer overrun, events may be lost", "bug", true)
					s.enobufsLogged = true
				}
				continue
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.log.Warn("kernelmon: receive failed, read loop exiting", "error", err)
			return
		}
		for _, m := range msgs {
			ev, err := decodeEvent(m)
			if err != nil {
				s.log.Debug("kernelmon: discarding message", "type", m.Header.Type, "error", err)
				continue
			}
			if ev == nil {
				s.log.Debug("kernelmon: discarding unhandled message type", "type", m.Header.Type)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func decodeEvent(m netlink.Message) (Event, error) {
	switch m.Header.Type {
	case unix.RTM_NEWLINK:
		return decodeLinkAdded(m.Data)
	case unix.RTM_DELLINK:
		return decodeLinkRemoved(m.Data)
	case unix.RTM_NEWADDR:
		return decodeAddress(m.Data, false)
	case unix.RTM_DELADDR:
		return decodeAddress(m.Data, true)
	default:
		return nil, nil
	}
}

func decodeLinkAdded(data []byte) (Event, error) {
	if len(data) < ifinfomsgLen {
		return nil, fmt.Errorf("kernelmon: truncated ifinfomsg (%d bytes)", len(data))
	}
	family := data[0]
	ifType := uint32(nativeEndian.Uint16(data[2:4]))
	index := int32(nativeEndian.Uint32(data[4:8]))
	flags := nativeEndian.Uint32(data[8:12])
	change := nativeEndian.Uint32(data[12:16])

	ad, err := netlink.NewAttributeDecoder(data[ifinfomsgLen:])
	if err != nil {
		return nil, fmt.Errorf("kernelmon: attribute decoder: %w", err)
	}

	ev := LinkAdded{
		Index:      int(index),
		Family:     family,
		Flags:      flags,
		ChangeMask: change,
		Type:       ifType,
	}
	for ad.Next() {
		switch ad.Type() {
		case unix.IFLA_IFNAME:
			ev.Name = ad.String()
		case unix.IFLA_ADDRESS:
			b := ad.Bytes()
			if len(b) == 6 {
				copy(ev.MAC[:], b)
			}
		case unix.IFLA_OPERSTATE:
			ev.OperState = ad.Uint8()
		case unix.IFLA_MASTER:
			idx := int(ad.Uint32())
			ev.BridgeIndex = &idx
		}
	}
	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("kernelmon: decode link attributes: %w", err)
	}
	return ev, nil
}

func decodeLinkRemoved(data []byte) (Event, error) {
	if len(data) < ifinfomsgLen {
		return nil, fmt.Errorf("kernelmon: truncated ifinfomsg (%d bytes)", len(data))
	}
	family := data[0]
	index := int32(nativeEndian.Uint32(data[4:8]))
	change := nativeEndian.Uint32(data[12:16])

	ev := LinkRemoved{
		Index:      int(index),
		Family:     family,
		ChangeMask: change,
	}
	ad, err := netlink.NewAttributeDecoder(data[ifinfomsgLen:])
	if err == nil {
		for ad.Next() {
			if ad.Type() == unix.IFLA_IFNAME {
				ev.Name = ad.String()
			}
		}
	}
	return ev, nil
}

func decodeAddress(data []byte, removed bool) (Event, error) {
	if len(data) < ifaddrmsgLen {
		return nil, fmt.Errorf("kernelmon: truncated ifaddrmsg (%d bytes)", len(data))
	}
	family := data[0]
	prefixLen := int(data[1])
	index := int32(nativeEndian.Uint32(data[4:8]))

	ad, err := netlink.NewAttributeDecoder(data[ifaddrmsgLen:])
	if err != nil {
		return nil, fmt.Errorf("kernelmon: attribute decoder: %w", err)
	}

	var addr netip.Addr
	for ad.Next() {
		switch ad.Type() {
		case unix.IFA_ADDRESS, unix.IFA_LOCAL:
			b := ad.Bytes()
			if a, ok := netip.AddrFromSlice(b); ok {
				addr = a
			}
		}
	}
	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("kernelmon: decode address attributes: %w", err)
	}
	if !addr.IsValid() {
		return nil, errors.New("kernelmon: address message carried no IFA_ADDRESS/IFA_LOCAL")
	}

	if removed {
		return AddressRemoved{Index: int(index), Family: family, Address: addr, PrefixLen: prefixLen}, nil
	}
	return AddressAdded{Index: int(index), Family: family, Address: addr, PrefixLen: prefixLen}, nil
}

// ListLinks issues a one-shot RTM_GETLINK dump and returns every current
// link. A dedicated connection is used so the dump's request/response
// exchange never races the subscription socket's multicast read loop.
func (s *Source) ListLinks(ctx context.Context) ([]LinkSnapshot, error) {
	conn, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, fmt.Errorf("kernelmon: dial netlink_route: %w", err)
	}
	defer conn.Close()

	req := netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_GETLINK,
			Flags: netlink.Request | netlink.Dump,
		},
		Data: make([]byte, ifinfomsgLen),
	}
	stop := watchCancel(ctx, conn)
	defer stop()

	msgs, err := conn.Execute(req)
	if err != nil {
		return nil, fmt.Errorf("kernelmon: RTM_GETLINK dump: %w", err)
	}

	links := make([]LinkSnapshot, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decodeLinkAdded(m.Data)
		if err != nil {
			s.log.Debug("kernelmon: skipping unparsable link in dump", "error", err)
			continue
		}
		la := ev.(LinkAdded)
		links = append(links, LinkSnapshot{
			Index:     la.Index,
			Name:      la.Name,
			Flags:     la.Flags,
			MAC:       la.MAC,
			OperState: la.OperState,
			Type:      la.Type,
		})
	}
	return links, nil
}

// SetAddress installs a link-scope address on an interface via
// RTM_NEWADDR|NLM_F_REPLACE|NLM_F_ACK.
func (s *Source) SetAddress(ctx context.Context, index int, addr netip.Addr, prefixLen int) error {
	conn, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return fmt.Errorf("kernelmon: dial netlink_route: %w", err)
	}
	defer conn.Close()

	family := uint8(unix.AF_INET6)
	raw := addr.As16()
	addrBytes := raw[:]
	if addr.Is4() {
		family = unix.AF_INET
		a4 := addr.As4()
		addrBytes = a4[:]
	}

	body := make([]byte, ifaddrmsgLen)
	body[0] = family
	body[1] = byte(prefixLen)
	body[2] = 0
	body[3] = unix.RT_SCOPE_UNIVERSE
	nativeEndian.PutUint32(body[4:8], uint32(index))

	ae := netlink.NewAttributeEncoder()
	ae.Bytes(unix.IFA_LOCAL, addrBytes)
	ae.Bytes(unix.IFA_ADDRESS, addrBytes)
	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("kernelmon: encode address attributes: %w", err)
	}

	req := netlink.Message{
		Header: netlink.Header{
			Type:  unix.RTM_NEWADDR,
			Flags: netlink.Request | netlink.Replace | netlink.Acknowledge,
		},
		Data: append(body, attrs...),
	}
	stop := watchCancel(ctx, conn)
	defer stop()
	if _, err := conn.Execute(req); err != nil {
		return fmt.Errorf("kernelmon: RTM_NEWADDR on index %d: %w", index, err)
	}
	return nil
}

// watchCancel closes conn if ctx is canceled before the returned stop
// function runs, unblocking any in-flight Execute call. Call stop once the
// request/response exchange finishes to avoid closing the connection early.
func watchCancel(ctx context.Context, conn *netlink.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
