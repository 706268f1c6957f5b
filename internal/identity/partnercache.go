package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"netmgr/internal/uuidfmt"
)

// SavePartnerCache persists the current partner node to path so a restart
// can reconnect without waiting for a fresh neighbor solicitation round.
//
// The on-disk format is a single UUID line, so at most one partner survives
// a restart. If more than one Node is marked partner (normally at most one
// is), a "%BUG" error is logged and the partner in the lowest slot index is
// the one written.
func (s *Store) SavePartnerCache(path string) error {
	s.mu.RLock()
	var partner uuidfmt.UUID
	found := false
	lowest := -1
	count := 0
	for id, i := range s.index {
		n := s.slot.at(i)
		if !n.IsPartner {
			continue
		}
		count++
		if !found || i < lowest {
			partner = id
			lowest = i
			found = true
		}
	}
	s.mu.RUnlock()

	if !found {
		return nil
	}
	if count > 1 {
		s.log.Error("%BUG more than one node marked partner", "count", count)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".partnercache-*")
	if err != nil {
		return fmt.Errorf("identity: create partner cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(partner.String() + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("identity: write partner cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("identity: close partner cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("identity: rename partner cache into place: %w", err)
	}
	return nil
}

// LoadPartnerCache reads a previously-saved partner cache and interns its
// UUID, marking it as the partner. A missing file is not an error. A
// malformed file is logged and ignored rather than propagated, since a
// stale or corrupt cache should never prevent the engine from starting.
func (s *Store) LoadPartnerCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("identity: read partner cache: %w", err)
	}
	line := strings.TrimSpace(string(data))
	if line == "" {
		return nil
	}
	id, err := uuidfmt.Parse(line)
	if err != nil {
		s.log.Warn("ignoring malformed partner cache", "path", path, "err", err)
		return nil
	}
	n := s.Intern(id)
	if n == nil {
		return nil
	}
	s.mu.Lock()
	for _, i := range s.index {
		s.slot.at(i).IsPartner = false
	}
	n.IsPartner = true
	s.mu.Unlock()
	return nil
}
