package ifreg

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"netmgr/internal/identity"
)

// NeighborCapacity is the recommended fixed size of a per-interface
// neighbor table.
const NeighborCapacity = 4096

const neighborSoftWarning = 256

// Peer is an IPv6 link-local neighbor seen on one interface.
type Peer struct {
	Node           *identity.Node // nil until the node identity is learned
	Address        netip.Addr
	Ordinal        uint8
	RemoteIface    string
	LastUpdated    time.Time
	LastAdvertised time.Time
	Valid          bool
	IsPartner      bool
	IsPrivate      bool
	SpineNotified  bool
}

// Invalidate clears node linkage and partner/notification state while
// keeping the slot (and address) allocated for reuse.
func (p *Peer) Invalidate() {
	p.Node = nil
	p.IsPartner = false
	p.SpineNotified = false
	p.Valid = false
}

// NeighborTable is a fixed-capacity, address-keyed table of Peer entries
// owned by one Interface.
type NeighborTable struct {
	mu     sync.RWMutex
	log    *slog.Logger
	peers  []Peer
	index  map[netip.Addr]int
	free   []int
	warned bool
	full   bool
}

// NewNeighborTable allocates a table with the given capacity.
func NewNeighborTable(capacity int, log *slog.Logger) *NeighborTable {
	if log == nil {
		log = slog.Default()
	}
	free := make([]int, capacity)
	for i := range free {
		free[i] = capacity - 1 - i
	}
	return &NeighborTable{
		log:   log,
		peers: make([]Peer, capacity),
		index: make(map[netip.Addr]int, capacity),
		free:  free,
	}
}

// InternNeighbor returns the Peer for addr, creating it on first sight. It
// returns nil if the table is full.
func (t *NeighborTable) InternNeighbor(addr netip.Addr) *Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index[addr]; ok {
		t.peers[i].Valid = true
		return &t.peers[i]
	}
	if len(t.free) == 0 {
		if !t.full {
			t.full = true
			t.log.Error("neighbor table full", "capacity", len(t.peers))
		}
		return nil
	}
	i := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.peers[i] = Peer{Address: addr, Valid: true}
	t.index[addr] = i

	if !t.warned && len(t.index) > neighborSoftWarning {
		t.warned = true
		t.log.Warn("neighbor table above soft capacity", "count", len(t.index))
	}
	return &t.peers[i]
}

// FindNeighbor returns the Peer for addr without creating one.
func (t *NeighborTable) FindNeighbor(addr netip.Addr) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[addr]
	if !ok {
		return nil, false
	}
	return &t.peers[i], true
}

// RemoveNeighbor invalidates addr's entry, if present, freeing its slot.
func (t *NeighborTable) RemoveNeighbor(addr netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[addr]
	if !ok {
		return false
	}
	t.peers[i].Invalidate()
	delete(t.index, addr)
	t.free = append(t.free, i)
	return true
}

// EachNeighbor visits every currently-valid Peer under the table's read lock.
func (t *NeighborTable) EachNeighbor(f func(*Peer)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, i := range t.index {
		f(&t.peers[i])
	}
}

// Len reports the number of valid neighbor entries.
func (t *NeighborTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}
