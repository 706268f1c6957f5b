package identity

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"netmgr/internal/uuidfmt"
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := New(capacity, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInternCreatesOneNodePerUUID(t *testing.T) {
	s := newTestStore(t, 16)
	id := uuidfmt.New()

	a := s.Intern(id)
	b := s.Intern(id)
	if a != b {
		t.Fatalf("Intern returned distinct nodes for the same UUID")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestInternIsIdempotentAcrossRemove(t *testing.T) {
	s := newTestStore(t, 16)
	id := uuidfmt.New()

	n := s.Intern(id)
	n.Ordinal = 3

	if !s.Remove(id) {
		t.Fatalf("Remove reported id absent")
	}
	if _, ok := s.Find(id); ok {
		t.Fatalf("Find succeeded after Remove")
	}
	if s.Remove(id) {
		t.Fatalf("second Remove reported id present")
	}

	n2 := s.Intern(id)
	if n2.Ordinal != UnassignedOrdinal {
		t.Fatalf("re-interned node carried stale ordinal %d", n2.Ordinal)
	}
}

func TestFindMissing(t *testing.T) {
	s := newTestStore(t, 16)
	if _, ok := s.Find(uuidfmt.New()); ok {
		t.Fatalf("Find succeeded for unknown UUID")
	}
}

func TestEachVisitsAllValidNodes(t *testing.T) {
	s := newTestStore(t, 16)
	ids := []uuidfmt.UUID{uuidfmt.New(), uuidfmt.New(), uuidfmt.New()}
	for _, id := range ids {
		s.Intern(id)
	}

	seen := make(map[uuidfmt.UUID]bool)
	s.Each(func(n *Node) { seen[n.UUID] = true })

	if len(seen) != len(ids) {
		t.Fatalf("Each visited %d nodes, want %d", len(seen), len(ids))
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("Each skipped %s", id)
		}
	}
}

func TestTableFullBoundary(t *testing.T) {
	const capacity = 8
	s := newTestStore(t, capacity)

	for i := 0; i < capacity; i++ {
		if n := s.Intern(uuidfmt.New()); n == nil {
			t.Fatalf("Intern(%d) unexpectedly failed within capacity", i)
		}
	}

	overflow := s.Intern(uuidfmt.New())
	if overflow != nil {
		t.Fatalf("Intern beyond capacity returned a node")
	}
	if !s.full {
		t.Fatalf("table-full flag not latched")
	}
	if s.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", s.Len(), capacity)
	}
}

func TestTableFullFreedSlotIsReusable(t *testing.T) {
	const capacity = 4
	s := newTestStore(t, capacity)

	var first uuidfmt.UUID
	for i := 0; i < capacity; i++ {
		id := uuidfmt.New()
		if i == 0 {
			first = id
		}
		s.Intern(id)
	}
	if n := s.Intern(uuidfmt.New()); n != nil {
		t.Fatalf("expected table full")
	}

	s.Remove(first)
	if n := s.Intern(uuidfmt.New()); n == nil {
		t.Fatalf("expected free slot to be reused after Remove")
	}
}

func TestPartnerCacheRoundTrip(t *testing.T) {
	s := newTestStore(t, 16)
	id := uuidfmt.New()
	n := s.Intern(id)
	n.IsPartner = true

	path := filepath.Join(t.TempDir(), "partner")
	if err := s.SavePartnerCache(path); err != nil {
		t.Fatalf("SavePartnerCache: %v", err)
	}

	s2 := newTestStore(t, 16)
	if err := s2.LoadPartnerCache(path); err != nil {
		t.Fatalf("LoadPartnerCache: %v", err)
	}
	got, ok := s2.Find(id)
	if !ok {
		t.Fatalf("loaded store missing partner node")
	}
	if !got.IsPartner {
		t.Fatalf("loaded node not marked as partner")
	}
}

func TestLoadPartnerCacheMissingFileIsNotError(t *testing.T) {
	s := newTestStore(t, 16)
	err := s.LoadPartnerCache(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("LoadPartnerCache on missing file: %v", err)
	}
}

func TestLoadPartnerCacheMalformedIsIgnored(t *testing.T) {
	s := newTestStore(t, 16)
	path := filepath.Join(t.TempDir(), "partner")
	if err := os.WriteFile(path, []byte("not-a-uuid\n"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if err := s.LoadPartnerCache(path); err != nil {
		t.Fatalf("LoadPartnerCache with malformed content returned error: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("malformed cache unexpectedly interned a node")
	}
}

func TestLoadPartnerCacheClearsStalePartnerMarks(t *testing.T) {
	s := newTestStore(t, 16)
	stale := s.Intern(uuidfmt.New())
	stale.IsPartner = true

	fresh := uuidfmt.New()
	path := filepath.Join(t.TempDir(), "partner")
	if err := os.WriteFile(path, []byte(fresh.String()+"\n"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if err := s.LoadPartnerCache(path); err != nil {
		t.Fatalf("LoadPartnerCache: %v", err)
	}
	if stale.IsPartner {
		t.Fatalf("stale partner mark not cleared")
	}
	got, ok := s.Find(fresh)
	if !ok || !got.IsPartner {
		t.Fatalf("loaded UUID not marked as the sole partner")
	}
}

func TestSavePartnerCacheLogsBugWhenMultiplePartnersMarked(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	s, err := New(16, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	first := uuidfmt.New()
	s.Intern(first).IsPartner = true
	s.Intern(uuidfmt.New()).IsPartner = true

	path := filepath.Join(t.TempDir(), "partner")
	if err := s.SavePartnerCache(path); err != nil {
		t.Fatalf("SavePartnerCache: %v", err)
	}
	if !strings.Contains(buf.String(), "%BUG") {
		t.Fatalf("expected %%BUG diagnostic for multiple marked partners, got log: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected cache file to still be written: %v", err)
	}
	if strings.TrimSpace(string(data)) != first.String() {
		t.Fatalf("expected deterministic lowest-slot-index pick %s, got %q", first, data)
	}
}

func TestSavePartnerCacheNoPartnerIsNoop(t *testing.T) {
	s := newTestStore(t, 16)
	s.Intern(uuidfmt.New())

	path := filepath.Join(t.TempDir(), "partner")
	if err := s.SavePartnerCache(path); err != nil {
		t.Fatalf("SavePartnerCache: %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected no cache file to be written")
	}
}
