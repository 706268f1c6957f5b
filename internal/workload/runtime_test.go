package workload

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
)

func TestFormatPortsDefaultsToTCP(t *testing.T) {
	ports := []container.Port{
		{PrivatePort: 80, Type: ""},
		{PrivatePort: 53, Type: "udp"},
	}
	got := formatPorts(ports)
	want := []string{"80/tcp", "53/udp"}
	if len(got) != len(want) {
		t.Fatalf("formatPorts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("formatPorts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// fakeRuntime lets admin-surface callers be tested without a live daemon.
type fakeRuntime struct {
	containers []ContainerInfo
	err        error
	closed     bool
}

func (f *fakeRuntime) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	return f.containers, f.err
}

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

func TestRuntimeInterfaceSatisfiedByFake(t *testing.T) {
	var rt Runtime = &fakeRuntime{containers: []ContainerInfo{{Name: "a", Running: true}}}
	got, err := rt.ListContainers(context.Background())
	if err != nil {
		t.Fatalf("ListContainers: %v", err)
	}
	if len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("ListContainers = %v", got)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRuntimeInterfacePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	var rt Runtime = &fakeRuntime{err: boom}
	if _, err := rt.ListContainers(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}
}
