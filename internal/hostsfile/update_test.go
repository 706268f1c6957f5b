package hostsfile

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"netmgr/internal/identity"
	"netmgr/internal/ifreg"
	"netmgr/internal/uuidfmt"
)

type fakeRegistry struct {
	ifaces []*ifreg.Interface
}

func (f *fakeRegistry) Each(fn func(*ifreg.Interface)) {
	for _, i := range f.ifaces {
		fn(i)
	}
}

func TestUpdateHostsWritesSelfAndPartnerEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")

	store, err := identity.New(8, nil)
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	partnerID := uuidfmt.New()
	partnerNode := store.Intern(partnerID)
	partnerNode.IsPartner = true
	partnerNode.Ordinal = 7

	iface := &ifreg.Interface{
		Index:          1,
		Name:           "biz0",
		Ordinal:        0x41,
		PrimaryAddress: netip.MustParseAddr("fe80::1"),
		Neighbors:      ifreg.NewNeighborTable(8, nil),
	}
	peerAddr := netip.MustParseAddr("fe80::2")
	peer := iface.Neighbors.InternNeighbor(peerAddr)
	peer.Node = partnerNode
	peer.IsPartner = true
	peer.Ordinal = 3

	reg := &fakeRegistry{ifaces: []*ifreg.Interface{iface}}
	self := uuidfmt.New()

	err = UpdateHosts(path, Params{
		Registry:     reg,
		SelfNodeUUID: self,
		IsBridge:     func(i *ifreg.Interface) bool { return true },
	})
	if err != nil {
		t.Fatalf("UpdateHosts: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read hosts: %v", err)
	}
	if len(data) != TableSize {
		t.Fatalf("hosts file size = %d, want %d", len(data), TableSize)
	}

	var first, second Entry
	if err := first.Unmarshal(data[0:EntrySize]); err != nil {
		t.Fatalf("Unmarshal first entry: %v", err)
	}
	if err := second.Unmarshal(data[EntrySize : 2*EntrySize]); err != nil {
		t.Fatalf("Unmarshal second entry: %v", err)
	}

	if first.NodeUUID != [16]byte(self.Bytes()) {
		t.Fatalf("first entry NodeUUID mismatch")
	}
	if !first.Valid || first.Partner {
		t.Fatalf("self entry flags wrong: valid=%v partner=%v", first.Valid, first.Partner)
	}
	if second.NodeUUID != [16]byte(partnerID.Bytes()) {
		t.Fatalf("second entry NodeUUID mismatch")
	}
	if !second.Valid || !second.Partner {
		t.Fatalf("partner entry flags wrong: valid=%v partner=%v", second.Valid, second.Partner)
	}
	if second.NodeOrdinal != 7 || second.InterfaceOrdinal != 3 {
		t.Fatalf("partner entry ordinals wrong: node=%d iface=%d", second.NodeOrdinal, second.InterfaceOrdinal)
	}

	// A second call exercises the hosts.1 rotation path.
	if err := UpdateHosts(path, Params{Registry: reg, SelfNodeUUID: self, IsBridge: func(*ifreg.Interface) bool { return true }}); err != nil {
		t.Fatalf("second UpdateHosts: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected rotated backup file: %v", err)
	}
}

func TestUpdateHostsSkipsNoOrdinalBridge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")

	iface := &ifreg.Interface{
		Index:          1,
		Name:           "biz0",
		NoOrdinal:      true,
		PrimaryAddress: netip.MustParseAddr("fe80::1"),
		Neighbors:      ifreg.NewNeighborTable(8, nil),
	}
	reg := &fakeRegistry{ifaces: []*ifreg.Interface{iface}}

	err := UpdateHosts(path, Params{
		Registry:     reg,
		SelfNodeUUID: uuidfmt.New(),
		IsBridge:     func(*ifreg.Interface) bool { return true },
	})
	if err != nil {
		t.Fatalf("UpdateHosts: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read hosts: %v", err)
	}
	var e Entry
	if err := e.Unmarshal(data[0:EntrySize]); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Valid {
		t.Fatalf("expected no self entry written for a no-ordinal bridge interface")
	}
}

func TestUpdateHostsSkipsNonBridgeNonPrivate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")

	iface := &ifreg.Interface{
		Index:          1,
		Name:           "eth0",
		PrimaryAddress: netip.MustParseAddr("fe80::1"),
		Neighbors:      ifreg.NewNeighborTable(8, nil),
	}
	reg := &fakeRegistry{ifaces: []*ifreg.Interface{iface}}

	if err := UpdateHosts(path, Params{Registry: reg, SelfNodeUUID: uuidfmt.New()}); err != nil {
		t.Fatalf("UpdateHosts: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read hosts: %v", err)
	}
	var e Entry
	if err := e.Unmarshal(data[0:EntrySize]); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Valid {
		t.Fatalf("expected no entry written for non-bridge, non-private interface")
	}
}
