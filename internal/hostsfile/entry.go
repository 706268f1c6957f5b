// Package hostsfile persists the reconciliation loop's view of cluster
// membership to a fixed-layout binary table, round-tripping byte-for-byte
// with the original tool's host_entry struct.
package hostsfile

import (
	"encoding/binary"
	"fmt"
)

// EntrySize is sizeof(host_entry): 16+16+16+4 (uuid pair, v6, v4 addresses)
// + 4 (flags) + 6 (mac) + 1 + 1 (ordinals).
const EntrySize = 16 + 16 + 16 + 4 + 4 + 6 + 1 + 1

// TableEntries is the fixed host table capacity.
const TableEntries = 256

// TableSize is the total size of the on-disk hosts file.
const TableSize = EntrySize * TableEntries

const (
	flagValid     uint32 = 1 << 0
	flagPartner   uint32 = 1 << 1
	flagIsPrivate uint32 = 1 << 2
)

// Entry is one fixed-size host table record.
type Entry struct {
	NodeUUID        [16]byte
	ClusterUUID     [16]byte
	PrimaryIPv6     [16]byte
	PrimaryIPv4     [4]byte
	Valid           bool
	Partner         bool
	IsPrivate       bool
	MAC             [6]byte
	NodeOrdinal     uint8
	InterfaceOrdinal uint8
}

// Marshal encodes e into its fixed EntrySize-byte wire form.
func (e Entry) Marshal() []byte {
	b := make([]byte, EntrySize)
	off := 0
	off += copy(b[off:], e.NodeUUID[:])
	off += copy(b[off:], e.ClusterUUID[:])
	off += copy(b[off:], e.PrimaryIPv6[:])
	off += copy(b[off:], e.PrimaryIPv4[:])

	var flags uint32
	if e.Valid {
		flags |= flagValid
	}
	if e.Partner {
		flags |= flagPartner
	}
	if e.IsPrivate {
		flags |= flagIsPrivate
	}
	binary.LittleEndian.PutUint32(b[off:off+4], flags)
	off += 4

	off += copy(b[off:], e.MAC[:])
	b[off] = e.NodeOrdinal
	off++
	b[off] = e.InterfaceOrdinal
	off++
	return b
}

// Unmarshal decodes an EntrySize-byte record into e.
func (e *Entry) Unmarshal(b []byte) error {
	if len(b) != EntrySize {
		return fmt.Errorf("hostsfile: entry must be %d bytes, got %d", EntrySize, len(b))
	}
	off := 0
	copy(e.NodeUUID[:], b[off:off+16])
	off += 16
	copy(e.ClusterUUID[:], b[off:off+16])
	off += 16
	copy(e.PrimaryIPv6[:], b[off:off+16])
	off += 16
	copy(e.PrimaryIPv4[:], b[off:off+4])
	off += 4

	flags := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	e.Valid = flags&flagValid != 0
	e.Partner = flags&flagPartner != 0
	e.IsPrivate = flags&flagIsPrivate != 0

	copy(e.MAC[:], b[off:off+6])
	off += 6
	e.NodeOrdinal = b[off]
	off++
	e.InterfaceOrdinal = b[off]
	off++
	return nil
}
