package tunnel

import (
	"net/netip"
	"testing"
)

func TestPrefixesToIPNetsPreservesBitsAndFamily(t *testing.T) {
	v4 := netip.MustParsePrefix("10.1.2.0/24")
	v6 := netip.MustParsePrefix("fd00::/64")

	nets := prefixesToIPNets([]netip.Prefix{v4, v6})
	if len(nets) != 2 {
		t.Fatalf("len(nets) = %d, want 2", len(nets))
	}

	ones, bits := nets[0].Mask.Size()
	if ones != 24 || bits != 32 {
		t.Fatalf("v4 mask = %d/%d, want 24/32", ones, bits)
	}
	if !nets[0].IP.Equal(v4.Addr().AsSlice()) {
		t.Fatalf("v4 IP mismatch: %v", nets[0].IP)
	}

	ones, bits = nets[1].Mask.Size()
	if ones != 64 || bits != 128 {
		t.Fatalf("v6 mask = %d/%d, want 64/128", ones, bits)
	}
}

func TestPrefixesToIPNetsEmptyInput(t *testing.T) {
	nets := prefixesToIPNets(nil)
	if len(nets) != 0 {
		t.Fatalf("len(nets) = %d, want 0", len(nets))
	}
}
