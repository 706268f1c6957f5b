package engine

import "testing"

func TestSocketAdapterDefaultNotifyIsNoop(t *testing.T) {
	a := newSocketAdapter(nil, nil, "")
	a.notify() // must not panic
}

func TestSetTopologyNotifierWiresCallback(t *testing.T) {
	a := newSocketAdapter(nil, nil, "")
	fired := 0
	a.SetTopologyNotifier(func() { fired++ })
	a.notify()
	a.notify()
	if fired != 2 {
		t.Fatalf("notify fired %d times, want 2", fired)
	}
}
