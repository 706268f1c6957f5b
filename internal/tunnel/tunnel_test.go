package tunnel

import (
	"errors"
	"testing"

	"netmgr/internal/uuidfmt"
)

type fakeChecker struct {
	tunnelled bool
	err       error
}

func (f fakeChecker) IsTunnelled(bridge string) (bool, error) {
	return f.tunnelled, f.err
}

func TestPlanSplicesWhenBridgeHasNoTunnelPort(t *testing.T) {
	node := uuidfmt.New()
	d, err := Plan(node, "eth1", "biz0", fakeChecker{tunnelled: false})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !d.SpliceUp {
		t.Fatalf("expected a splice-up decision")
	}
	if d.Reason == "" {
		t.Fatalf("expected a non-empty reason")
	}
}

func TestPlanIsNoOpWhenAlreadyTunnelled(t *testing.T) {
	node := uuidfmt.New()
	d, err := Plan(node, "eth1", "biz0", fakeChecker{tunnelled: true})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.SpliceUp {
		t.Fatalf("expected no-op once a tunnel port is already captured")
	}
}

func TestPlanPropagatesCheckerError(t *testing.T) {
	node := uuidfmt.New()
	boom := errors.New("boom")
	_, err := Plan(node, "eth1", "biz0", fakeChecker{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped checker error, got %v", err)
	}
}
