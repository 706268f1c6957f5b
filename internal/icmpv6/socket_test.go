package icmpv6

import (
	"log/slog"
	"testing"
	"time"
)

func newTestSocket() *Socket {
	return &Socket{log: slog.Default()}
}

func TestShouldLogNoPartnersRateLimited(t *testing.T) {
	s := newTestSocket()

	if !s.shouldLogNoPartners() {
		t.Fatalf("first call should log")
	}
	if s.shouldLogNoPartners() {
		t.Fatalf("second call within the window should be suppressed")
	}

	s.lastNoPartnersLog = time.Now().Add(-noPartnersLogEvery)
	if !s.shouldLogNoPartners() {
		t.Fatalf("call after the window elapsed should log again")
	}
}

func TestRecordAdvertiseErrorCountsConsecutiveFailures(t *testing.T) {
	s := newTestSocket()

	if got := s.recordAdvertiseError(); got != 1 {
		t.Fatalf("first error count = %d, want 1", got)
	}
	if got := s.recordAdvertiseError(); got != 2 {
		t.Fatalf("second error count = %d, want 2", got)
	}

	s.recordAdvertiseSuccess()
	if got := s.recordAdvertiseError(); got != 1 {
		t.Fatalf("error count after a success = %d, want 1 (reset)", got)
	}
}
