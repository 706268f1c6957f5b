package ifreg

import "testing"

func TestDeriveOrdinalPCIPattern(t *testing.T) {
	cases := []struct {
		name    string
		ordinal uint8
	}{
		{"sync_pci0p0", 0x40},
		{"sync_pci1p0", 0x44},
		{"sync_pci0p1", 0x41},
		{"sync_pci15p3", 0x40 | (15 << 2) | 3},
	}
	for _, c := range cases {
		ord, no := deriveOrdinal(c.name)
		if no {
			t.Fatalf("%q: unexpectedly has no ordinal", c.name)
		}
		if ord != c.ordinal {
			t.Fatalf("%q: ordinal = 0x%02x, want 0x%02x", c.name, ord, c.ordinal)
		}
	}
}

func TestDeriveOrdinalSuffixPattern(t *testing.T) {
	cases := []struct {
		name    string
		ordinal uint8
	}{
		{"eth0", 0},
		{"eth12", 12},
		{"biz300", 300 % 256},
	}
	for _, c := range cases {
		ord, no := deriveOrdinal(c.name)
		if no {
			t.Fatalf("%q: unexpectedly has no ordinal", c.name)
		}
		if ord != c.ordinal {
			t.Fatalf("%q: ordinal = %d, want %d", c.name, ord, c.ordinal)
		}
	}
}

func TestDeriveOrdinalNoMatch(t *testing.T) {
	for _, name := range []string{"lo", "br-mesh", "sync_pci16p0", "sync_pci0p4"} {
		_, no := deriveOrdinal(name)
		if !no {
			t.Fatalf("%q: expected NoOrdinal", name)
		}
	}
}
