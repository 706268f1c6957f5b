package ifreg

import (
	"io"
	"log/slog"
	"net/netip"
	"time"
)

// BounceState tracks RepairLink's backoff bookkeeping for one Interface.
type BounceState struct {
	Attempts          int
	LastBounceTime    time.Time
	LastReattemptTime time.Time
}

// Interface is a local network interface tracked by the core.
type Interface struct {
	Index          int
	Name           string
	MAC            [6]byte
	PrimaryAddress netip.Addr
	Ordinal        uint8
	NoOrdinal      bool

	Flags     uint32
	LastFlags uint32

	Removed          bool
	HasFaultInjected bool
	IsQuiesced       bool
	IsPrivateLink    bool // carried per §9 Open Question; never set true in this repository
	Bounce           BounceState

	Neighbors *NeighborTable

	ICMPSocket      io.Closer
	HeartbeatSocket io.Closer
}

// newInterface constructs an Interface from a freshly observed link, with a
// neighbor table sized to NeighborCapacity.
func newInterface(index int, name string, mac [6]byte, flags uint32, log *slog.Logger) *Interface {
	ordinal, noOrdinal := deriveOrdinal(name)
	return &Interface{
		Index:          index,
		Name:           name,
		MAC:            mac,
		PrimaryAddress: linkLocalEUI64(mac),
		Ordinal:        ordinal,
		NoOrdinal:      noOrdinal,
		Flags:          flags,
		LastFlags:      flags,
		Neighbors:      NewNeighborTable(NeighborCapacity, log),
	}
}

// IsPhysical reports whether this interface looks like a physical NIC
// rather than a bridge or virtual device, judged purely from its name
// pattern. The registry uses this for every physical-interface decision;
// no sysfs check is made.
func (i *Interface) IsPhysical() bool {
	return !i.NoOrdinal
}

const (
	flagUp         uint32 = 1 << 0
	flagRunning    uint32 = 1 << 6
	flagPromisc    uint32 = 1 << 8
	flagDormant    uint32 = 1 << 17
	allFlagsChangeMask uint32 = 0xFFFFFFFF
)
