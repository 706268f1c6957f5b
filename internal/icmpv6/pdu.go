// Package icmpv6 implements the Neighbor Protocol Engine (C4): raw ICMPv6
// socket I/O and Neighbor Discovery message parsing, built on
// golang.org/x/net/icmp and golang.org/x/net/ipv6.
package icmpv6

import (
	"fmt"
	"net/netip"
)

const (
	TypeEchoRequest           uint8 = 128
	TypeEchoReply             uint8 = 129
	TypeNeighborSolicitation  uint8 = 135
	TypeNeighborAdvertisement uint8 = 136

	optSourceLinkLayerAddr byte = 1
	optTargetLinkLayerAddr byte = 2

	flagOverride byte = 0x20
)

// PDU is the common surface of every parsed ICMPv6 message this package
// understands. Concrete variants are reached by a type switch in a
// ReceiveHandler, the tagged-union rendering of dispatching on message
// kind.
type PDU interface {
	Type() uint8
	Code() uint8
}

type header struct {
	typ  uint8
	code uint8
}

func (h header) Type() uint8 { return h.typ }
func (h header) Code() uint8 { return h.code }

// EchoRequest is an ICMPv6 echo request (type 128).
type EchoRequest struct{ header }

// EchoReply is an ICMPv6 echo reply (type 129).
type EchoReply struct{ header }

// NeighborSolicitation is an NDP neighbor solicitation (type 135).
type NeighborSolicitation struct {
	header
	target netip.Addr
}

// Target returns the address being solicited.
func (n NeighborSolicitation) Target() netip.Addr { return n.target }

// NeighborAdvertisement is an NDP neighbor advertisement (type 136).
type NeighborAdvertisement struct {
	header
	target   netip.Addr
	override bool
	mac      [6]byte
	hasMAC   bool
}

// Target returns the advertised address.
func (n NeighborAdvertisement) Target() netip.Addr { return n.target }

// Override reports whether the Override flag is set.
func (n NeighborAdvertisement) Override() bool { return n.override }

// TargetLinkLayerAddr returns the target-link-layer-address option MAC, if
// present.
func (n NeighborAdvertisement) TargetLinkLayerAddr() ([6]byte, bool) { return n.mac, n.hasMAC }

// dispatch is the 256-entry type-indexed PDU factory: the Go rendering of
// the original's callback-polymorphism-by-inheritance PDU visitor. Unknown
// types have a nil entry and are discarded by the caller.
var dispatch [256]func([]byte) (PDU, error)

func init() {
	dispatch[TypeEchoRequest] = parseEchoRequest
	dispatch[TypeEchoReply] = parseEchoReply
	dispatch[TypeNeighborSolicitation] = parseNeighborSolicitation
	dispatch[TypeNeighborAdvertisement] = parseNeighborAdvertisement
}

// Parse decodes a raw ICMPv6 message into its typed PDU via the dispatch
// table. It returns (nil, nil) for any type that has no dispatch entry, and
// an error for a message too short for its own fixed header.
func Parse(b []byte) (PDU, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("icmpv6: message shorter than header (%d bytes)", len(b))
	}
	f := dispatch[b[0]]
	if f == nil {
		return nil, nil
	}
	return f(b)
}

func parseEchoRequest(b []byte) (PDU, error) {
	return EchoRequest{header{b[0], b[1]}}, nil
}

func parseEchoReply(b []byte) (PDU, error) {
	return EchoReply{header{b[0], b[1]}}, nil
}

func parseNeighborSolicitation(b []byte) (PDU, error) {
	const targetOffset = 8
	if len(b) < targetOffset+16 {
		return nil, fmt.Errorf("icmpv6: neighbor solicitation too short (%d bytes)", len(b))
	}
	target := netip.AddrFrom16([16]byte(b[targetOffset : targetOffset+16]))
	return NeighborSolicitation{header{b[0], b[1]}, target}, nil
}

func parseNeighborAdvertisement(b []byte) (PDU, error) {
	const targetOffset = 8
	if len(b) < targetOffset+16 {
		return nil, fmt.Errorf("icmpv6: neighbor advertisement too short (%d bytes)", len(b))
	}
	target := netip.AddrFrom16([16]byte(b[targetOffset : targetOffset+16]))
	na := NeighborAdvertisement{
		header:   header{b[0], b[1]},
		target:   target,
		override: b[4]&flagOverride != 0,
	}
	if mac, ok := findLinkLayerOption(b[targetOffset+16:], optTargetLinkLayerAddr); ok {
		na.mac = mac
		na.hasMAC = true
	}
	return na, nil
}

// findLinkLayerOption walks an NDP option TLV chain looking for a
// link-layer-address option of the given type.
func findLinkLayerOption(opts []byte, want byte) ([6]byte, bool) {
	var mac [6]byte
	offset := 0
	for offset+2 <= len(opts) {
		optType := opts[offset]
		optLen := int(opts[offset+1]) * 8 // length field counts 8-byte units
		if optLen == 0 || offset+optLen > len(opts) {
			break
		}
		if optType == want && optLen >= 8 {
			copy(mac[:], opts[offset+2:offset+8])
			return mac, true
		}
		offset += optLen
	}
	return mac, false
}
