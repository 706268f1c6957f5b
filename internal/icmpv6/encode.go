package icmpv6

import (
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// encodeNeighborAdvertisement builds a wire-format Neighbor Advertisement
// carrying target as a target-link-layer-address option. The kernel
// computes the ICMPv6 checksum (Linux sets IPV6_CHECKSUM automatically for
// an "ip6:58" raw socket), so Marshal is called with a nil pseudo-header.
func encodeNeighborAdvertisement(target netip.Addr, mac [6]byte, override bool) []byte {
	body := make([]byte, 4+16+8)
	if override {
		body[0] = flagOverride
	}
	t := target.As16()
	copy(body[4:20], t[:])
	body[20] = optTargetLinkLayerAddr
	body[21] = 1 // option length in 8-byte units
	copy(body[22:28], mac[:])

	msg := icmp.Message{
		Type: ipv6.ICMPTypeNeighborAdvertisement,
		Code: 0,
		Body: &icmp.RawBody{Data: body},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		// Fixed-size, well-formed body: Marshal cannot fail in practice.
		return body
	}
	return wb
}
