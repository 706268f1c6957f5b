package hostsfile

import "testing"

func TestEntryRoundTrip(t *testing.T) {
	e := Entry{
		NodeUUID:         [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		ClusterUUID:      [16]byte{9, 9, 9},
		PrimaryIPv6:      [16]byte{0xfe, 0x80},
		PrimaryIPv4:      [4]byte{10, 0, 0, 1},
		Valid:            true,
		Partner:          true,
		IsPrivate:        false,
		MAC:              [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		NodeOrdinal:      5,
		InterfaceOrdinal: 0x41,
	}
	b := e.Marshal()
	if len(b) != EntrySize {
		t.Fatalf("Marshal length = %d, want %d", len(b), EntrySize)
	}

	var got Entry
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != e {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestEntryUnmarshalWrongLength(t *testing.T) {
	var e Entry
	if err := e.Unmarshal(make([]byte, EntrySize-1)); err == nil {
		t.Fatalf("expected error for short input")
	}
}

func TestTableSizeMatchesOriginalLayout(t *testing.T) {
	if EntrySize != 64 {
		t.Fatalf("EntrySize = %d, want 64", EntrySize)
	}
	if TableSize != 64*256 {
		t.Fatalf("TableSize = %d, want %d", TableSize, 64*256)
	}
}
