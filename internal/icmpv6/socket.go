package icmpv6

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

const (
	recvBufSize        = 65536
	receiveTimeout     = 60 * time.Second
	bindBackoffMin     = 5 * time.Second
	bindLogEvery       = 30
	noPartnersLogEvery = 120 * time.Second
)

// ReceiveHandler is notified of every successfully parsed PDU arriving on
// a Socket. One method per variant, the tagged-variant rendering of the
// original's double-dispatch visitor.
type ReceiveHandler interface {
	OnEchoRequest(from netip.Addr, pdu EchoRequest)
	OnEchoReply(from netip.Addr, pdu EchoReply)
	OnNeighborSolicitation(from netip.Addr, pdu NeighborSolicitation)
	OnNeighborAdvertisement(from netip.Addr, pdu NeighborAdvertisement)
}

// Socket is a raw ICMPv6 socket bound to one interface's scope.
type Socket struct {
	log *slog.Logger

	conn    *icmp.PacketConn
	p6      *ipv6.PacketConn
	ifIndex int

	mu                sync.Mutex
	bound             bool
	bindFailLog       int
	advertiseErrors   int
	lastNoPartnersLog time.Time
}

// SocketFor opens a raw ICMPv6 socket with multicast loopback disabled and
// interface/hop-limit control messages enabled. The kernel's receive buffer
// size is left at its default; SO_RCVBUF is not set.
func SocketFor(log *slog.Logger) (*Socket, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := icmp.ListenPacket("ip6:58", "::")
	if err != nil {
		return nil, fmt.Errorf("icmpv6: listen: %w", err)
	}
	p6 := conn.IPv6PacketConn()
	if p6 == nil {
		conn.Close()
		return nil, fmt.Errorf("icmpv6: IPv6PacketConn unavailable")
	}
	if err := p6.SetControlMessage(ipv6.FlagInterface|ipv6.FlagHopLimit, true); err != nil {
		log.Warn("icmpv6: enable control messages failed", "err", err)
	}
	if err := p6.SetMulticastLoopback(false); err != nil {
		log.Warn("icmpv6: disable multicast loopback failed", "err", err)
	}
	return &Socket{log: log, conn: conn, p6: p6}, nil
}

// Close releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Bind sets index as the socket's outgoing multicast interface and records
// it. The socket is not bound to addr, which only appears in the failure
// log, and unicast sends carry no scope. First call wins; later calls are
// no-ops. Bind-failure logs are rate-limited to
// 1-in-bindLogEvery.
func (s *Socket) Bind(index int, addr netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return nil
	}
	if err := s.p6.SetMulticastInterface(&net.Interface{Index: index}); err != nil {
		s.bindFailLog++
		if s.bindFailLog%bindLogEvery == 1 {
			s.log.Warn("icmpv6: bind failed", "index", index, "addr", addr, "err", err)
		}
		return fmt.Errorf("icmpv6: bind to interface %d: %w", index, err)
	}
	s.ifIndex = index
	s.bound = true
	return nil
}

// BindWithBackoff retries Bind with a growing 5s-step backoff until it
// succeeds, ctx is cancelled, or removed returns true.
func (s *Socket) BindWithBackoff(ctx context.Context, index int, addr netip.Addr, removed func() bool) error {
	backoff := bindBackoffMin
	for {
		err := s.Bind(index, addr)
		if err == nil {
			return nil
		}
		if removed != nil && removed() {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff += bindBackoffMin
	}
}

// AdvertiseParams bundles what Advertise needs from the caller's Interface
// and neighbor table without this package depending on internal/ifreg.
type AdvertiseParams struct {
	Index          int
	PrimaryAddress netip.Addr
	MAC            [6]byte
	Partners       []netip.Addr
}

// Advertise sends an Override Neighbor Advertisement for PrimaryAddress to
// every partner peer address. It reports whether the socket was bound and
// at least one send succeeded.
func (s *Socket) Advertise(params AdvertiseParams) bool {
	s.mu.Lock()
	bound := s.bound
	s.mu.Unlock()
	if !bound {
		if err := s.Bind(params.Index, params.PrimaryAddress); err != nil {
			return false
		}
	}

	if len(params.Partners) == 0 {
		if s.shouldLogNoPartners() {
			s.log.Warn("icmpv6: no partner peers to advertise to")
		}
		return false
	}

	msg := encodeNeighborAdvertisement(params.PrimaryAddress, params.MAC, true)
	sent := false
	for _, dst := range params.Partners {
		_, err := s.conn.WriteTo(msg, &net.IPAddr{IP: net.IP(dst.AsSlice())})
		if err != nil {
			if errCount := s.recordAdvertiseError(); errCount == 1 || s.log.Enabled(context.Background(), slog.LevelDebug) {
				s.log.Warn("icmpv6: advertise send failed", "dst", dst, "err", err, "consecutiveErrors", errCount)
			}
			continue
		}
		sent = true
		s.recordAdvertiseSuccess()
	}
	return sent
}

// shouldLogNoPartners reports whether the "no partners" warning is due,
// rate-limited to once per noPartnersLogEvery so a partnerless node doesn't
// flood its log every advertise tick.
func (s *Socket) shouldLogNoPartners() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastNoPartnersLog) < noPartnersLogEvery {
		return false
	}
	s.lastNoPartnersLog = time.Now()
	return true
}

// recordAdvertiseError increments the consecutive-failure counter and
// returns its new value.
func (s *Socket) recordAdvertiseError() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertiseErrors++
	return s.advertiseErrors
}

// recordAdvertiseSuccess resets the consecutive-failure counter.
func (s *Socket) recordAdvertiseSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertiseErrors = 0
}

// ReceiveLoop reads and dispatches packets until ctx is cancelled or
// removed reports true. Read-deadline-exceeded errors are treated as the
// receiveTimeout quiescence window and do not terminate the loop.
func (s *Socket) ReceiveLoop(ctx context.Context, removed func() bool, h ReceiveHandler) error {
	buf := make([]byte, recvBufSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if removed != nil && removed() {
			return nil
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(receiveTimeout)); err != nil {
			return fmt.Errorf("icmpv6: set read deadline: %w", err)
		}
		n, _, src, err := s.p6.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("icmpv6: read: %w", err)
		}
		from := srcAddr(src)
		pdu, err := Parse(buf[:n])
		if err != nil {
			s.log.Debug("icmpv6: discarding malformed message", "src", from, "err", err)
			continue
		}
		if pdu == nil {
			s.log.Debug("icmpv6: discarding unsupported message type", "src", from, "type", buf[0])
			continue
		}
		dispatchToHandler(from, pdu, h)
	}
}

func dispatchToHandler(from netip.Addr, pdu PDU, h ReceiveHandler) {
	switch v := pdu.(type) {
	case EchoRequest:
		h.OnEchoRequest(from, v)
	case EchoReply:
		h.OnEchoReply(from, v)
	case NeighborSolicitation:
		h.OnNeighborSolicitation(from, v)
	case NeighborAdvertisement:
		h.OnNeighborAdvertisement(from, v)
	}
}

func srcAddr(a net.Addr) netip.Addr {
	if ipAddr, ok := a.(*net.IPAddr); ok {
		if addr, ok := netip.AddrFromSlice(ipAddr.IP); ok {
			return addr.Unmap()
		}
	}
	return netip.Addr{}
}
