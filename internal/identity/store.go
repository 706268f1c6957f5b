package identity

import (
	"fmt"
	"log/slog"
	"sync"

	"netmgr/internal/uuidfmt"
)

// ErrTableFull names the condition in which the node table has no free
// slots left for a previously-unseen UUID. Intern reports that condition by
// returning nil; no Store method returns this error value.
var ErrTableFull = fmt.Errorf("identity: node table full")

// Store is the Identity Store (C2): a fixed-capacity table of Node entries,
// single-writer / multi-reader, backed by slotStorage so a *Node handed out
// by Intern remains valid for the life of the Store.
type Store struct {
	mu   sync.RWMutex
	log  *slog.Logger
	slot slotStorage

	index map[uuidfmt.UUID]int // UUID -> slot index, valid entries only
	warned bool                // soft-capacity warning latched once
	full   bool                // table-full error latched once
}

// New allocates a Store with room for capacity Node entries.
func New(capacity int, log *slog.Logger) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("identity: capacity must be positive, got %d", capacity)
	}
	if log == nil {
		log = slog.Default()
	}
	s, err := newSlotStorage(capacity)
	if err != nil {
		return nil, fmt.Errorf("identity: allocate node table: %w", err)
	}
	return &Store{
		log:   log,
		slot:  s,
		index: make(map[uuidfmt.UUID]int, capacity),
	}, nil
}

// Close releases the Store's backing memory. The Store must not be used
// afterward.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot.close()
}

// Cap returns the Store's fixed capacity.
func (s *Store) Cap() int {
	return s.slot.cap()
}

// Intern returns the Node for id, creating it if this is the first time id
// has been seen. It returns nil if the table is full and id is not already
// present; the table-full condition is logged exactly once.
func (s *Store) Intern(id uuidfmt.UUID) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[id]; ok {
		n := s.slot.at(i)
		n.Valid = true
		return n
	}

	i, ok := s.slot.allocate()
	if !ok {
		if !s.full {
			s.full = true
			s.log.Error("node table full, dropping new identity", "uuid", id.String(), "capacity", s.slot.cap())
		}
		return nil
	}

	n := s.slot.at(i)
	*n = Node{UUID: id, Ordinal: UnassignedOrdinal, Valid: true}
	s.index[id] = i

	if !s.warned && len(s.index) > softCapacityWarning {
		s.warned = true
		s.log.Warn("node table above soft capacity", "count", len(s.index), "threshold", softCapacityWarning)
	}
	return n
}

// Find returns the Node for id without creating one.
func (s *Store) Find(id uuidfmt.UUID) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.slot.at(i), true
}

// Remove marks id's Node invalid and frees its slot for reuse. It reports
// whether id was present.
func (s *Store) Remove(id uuidfmt.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	s.slot.free(i)
	return true
}

// Each calls f for every currently-valid Node. f must not call back into
// the Store: Each holds the read lock for its duration.
func (s *Store) Each(f func(*Node)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, i := range s.index {
		f(s.slot.at(i))
	}
}

// Len returns the number of valid entries currently interned.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}
