package heartbeat

import (
	"net"
	"net/netip"
	"testing"
)

func TestUDPAddrToNetip(t *testing.T) {
	addr := udpAddrToNetip(&net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: Port})
	want := netip.MustParseAddr("fe80::1")
	if addr != want {
		t.Fatalf("udpAddrToNetip = %v, want %v", addr, want)
	}
}

func TestUDPAddrToNetipUnknownType(t *testing.T) {
	addr := udpAddrToNetip(&net.TCPAddr{})
	if addr.IsValid() {
		t.Fatalf("expected zero Addr for unrecognized net.Addr type")
	}
}
