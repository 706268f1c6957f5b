// Package identity implements the Identity Store (C2): a fixed-capacity,
// mmap-backed table of cluster Node identities, plus the on-disk partner
// cache that survives process restarts.
package identity

import "netmgr/internal/uuidfmt"

// UnassignedOrdinal is the sentinel ordinal value meaning "not yet assigned".
const UnassignedOrdinal uint8 = 255

// Node is a cluster member identity. It is plain data (no pointers) so it
// can live directly inside the store's mmap-backed slot array; a *Node
// handed out by Store.Intern stays valid for the lifetime of the Store.
type Node struct {
	UUID      uuidfmt.UUID
	Ordinal   uint8
	IsPartner bool
	Valid     bool
}

// DefaultCapacity is the recommended node table size.
const DefaultCapacity = 4096

// softCapacityWarning is the valid-entry count above which Intern logs a
// one-shot warning (the table is sized generously above this for headroom).
const softCapacityWarning = 256
