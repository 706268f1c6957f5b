//go:build linux

package kernelmon

import (
	"net/netip"
	"testing"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

func buildIfinfomsg(t *testing.T, family uint8, ifType uint16, index int32, flags, change uint32, attrs []netlink.Attribute) []byte {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	for _, a := range attrs {
		ae.Bytes(a.Type, a.Data)
	}
	encoded, err := ae.Encode()
	if err != nil {
		t.Fatalf("encode attributes: %v", err)
	}
	body := make([]byte, ifinfomsgLen)
	body[0] = family
	nativeEndian.PutUint16(body[2:4], ifType)
	nativeEndian.PutUint32(body[4:8], uint32(index))
	nativeEndian.PutUint32(body[8:12], flags)
	nativeEndian.PutUint32(body[12:16], change)
	return append(body, encoded...)
}

func TestDecodeLinkAddedParsesNameMACOperstate(t *testing.T) {
	data := buildIfinfomsg(t, unix.AF_UNSPEC, unix.ARPHRD_ETHER, 7, unix.IFF_UP|unix.IFF_RUNNING, 0xFFFFFFFF, []netlink.Attribute{
		{Type: unix.IFLA_IFNAME, Data: append([]byte("eth0"), 0)},
		{Type: unix.IFLA_ADDRESS, Data: []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}},
		{Type: unix.IFLA_OPERSTATE, Data: []byte{6}},
	})

	ev, err := decodeLinkAdded(data)
	if err != nil {
		t.Fatalf("decodeLinkAdded: %v", err)
	}
	la, ok := ev.(LinkAdded)
	if !ok {
		t.Fatalf("decodeLinkAdded returned %T, want LinkAdded", ev)
	}
	if la.Index != 7 || la.Name != "eth0" || la.OperState != 6 {
		t.Fatalf("unexpected decode: %+v", la)
	}
	want := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if la.MAC != want {
		t.Fatalf("MAC = %x, want %x", la.MAC, want)
	}
	if la.BridgeIndex != nil {
		t.Fatalf("BridgeIndex = %v, want nil", la.BridgeIndex)
	}
}

func TestDecodeLinkAddedCarriesBridgeIndex(t *testing.T) {
	data := buildIfinfomsg(t, unix.AF_UNSPEC, unix.ARPHRD_ETHER, 3, unix.IFF_UP, 0, []netlink.Attribute{
		{Type: unix.IFLA_MASTER, Data: func() []byte {
			b := make([]byte, 4)
			nativeEndian.PutUint32(b, 9)
			return b
		}()},
	})

	ev, err := decodeLinkAdded(data)
	if err != nil {
		t.Fatalf("decodeLinkAdded: %v", err)
	}
	la := ev.(LinkAdded)
	if la.BridgeIndex == nil || *la.BridgeIndex != 9 {
		t.Fatalf("BridgeIndex = %v, want 9", la.BridgeIndex)
	}
}

func TestDecodeLinkAddedTruncated(t *testing.T) {
	if _, err := decodeLinkAdded(make([]byte, 4)); err == nil {
		t.Fatalf("expected error for truncated ifinfomsg")
	}
}

func TestDecodeAddressAddedAndRemoved(t *testing.T) {
	addr := netip.MustParseAddr("fe80::1")
	addrBytes := addr.As16()

	ae := netlink.NewAttributeEncoder()
	ae.Bytes(unix.IFA_ADDRESS, addrBytes[:])
	attrs, err := ae.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	body := make([]byte, ifaddrmsgLen)
	body[0] = unix.AF_INET6
	body[1] = 64
	nativeEndian.PutUint32(body[4:8], 2)
	data := append(body, attrs...)

	ev, err := decodeAddress(data, false)
	if err != nil {
		t.Fatalf("decodeAddress: %v", err)
	}
	added := ev.(AddressAdded)
	if added.Index != 2 || added.PrefixLen != 64 || added.Address != addr {
		t.Fatalf("unexpected AddressAdded: %+v", added)
	}

	ev, err = decodeAddress(data, true)
	if err != nil {
		t.Fatalf("decodeAddress removed: %v", err)
	}
	removed := ev.(AddressRemoved)
	if removed.Index != 2 || removed.Address != addr {
		t.Fatalf("unexpected AddressRemoved: %+v", removed)
	}
}

func TestDecodeAddressMissingAttributeErrors(t *testing.T) {
	body := make([]byte, ifaddrmsgLen)
	body[0] = unix.AF_INET6
	if _, err := decodeAddress(body, false); err == nil {
		t.Fatalf("expected error when no IFA_ADDRESS/IFA_LOCAL attribute present")
	}
}

func TestDecodeEventUnknownTypeIsNilNil(t *testing.T) {
	ev, err := decodeEvent(netlink.Message{Header: netlink.Header{Type: 0xFFFF}})
	if ev != nil || err != nil {
		t.Fatalf("decodeEvent(unknown) = (%v, %v), want (nil, nil)", ev, err)
	}
}
