package ifreg

import "net/netip"

// linkLocalEUI64 derives the fe80::/64 EUI-64 link-local address for a MAC,
// the standard IPv6 SLAAC transform: split the MAC, insert ff:fe in the
// middle, and flip the universal/local bit of the first octet.
func linkLocalEUI64(mac [6]byte) netip.Addr {
	var b [16]byte
	b[0] = 0xfe
	b[1] = 0x80
	b[8] = mac[0] ^ 0x02
	b[9] = mac[1]
	b[10] = mac[2]
	b[11] = 0xff
	b[12] = 0xfe
	b[13] = mac[3]
	b[14] = mac[4]
	b[15] = mac[5]
	return netip.AddrFrom16(b)
}
