package ifreg

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"strconv"
	"sync"
	"time"

	"netmgr/internal/clock"
	"netmgr/internal/kernelmon"
)

// LinkToggler brings a link administratively up or down. Implemented by
// internal/bridgecap.
type LinkToggler interface {
	BringLinkUp(ctx context.Context, index int) error
	BringLinkDown(ctx context.Context, index int) error
}

// AddressSetter installs a link-scope address on an interface. Implemented
// by internal/kernelmon.Source.
type AddressSetter interface {
	SetAddress(ctx context.Context, index int, addr netip.Addr, prefixLen int) error
}

// Platform answers sysfs/procfs questions about an interface by name.
// Implemented by internal/platformcap.
type Platform interface {
	Carrier(name string) (bool, error)
	IsBridge(name string) bool
	IsCaptured(name string) bool
	CapturedBridge(name string) (bridge string, ok bool)
	FaultInjected(name string) bool
	Quiesced(name string) bool
}

// BridgeCapability performs bridge membership operations. Implemented by
// internal/bridgecap.
type BridgeCapability interface {
	EnsureBridge(name string) error
	SetBridgeMAC(name string, mac [6]byte) error
	AddPort(bridge, iface string) error
	IsTunnelled(bridge string) (bool, error)
}

// SocketOpener opens the per-interface ICMPv6 and heartbeat sockets and
// spawns their listener goroutines once an interface is brought up.
// Implemented jointly by internal/icmpv6 and internal/heartbeat via a
// small adapter in internal/engine, keeping this package free of their
// dependencies.
type SocketOpener interface {
	Open(ctx context.Context, iface *Interface) error
	Close(iface *Interface)
}

// BounceConfig controls RepairLink's backoff.
type BounceConfig struct {
	Attempts   int
	Interval   time.Duration
	Reattempt  time.Duration
}

// DefaultBounceConfig matches the original tool's constants.
var DefaultBounceConfig = BounceConfig{
	Attempts:  2,
	Interval:  1200 * time.Second,
	Reattempt: 1200 * time.Second,
}

var captureNamePattern = regexp.MustCompile(`^ibiz(\d+)$`)

// Registry owns the kernel-index -> *Interface map and applies kernel
// events to it.
type Registry struct {
	mu         sync.RWMutex
	interfaces map[int]*Interface
	byName     map[string]*Interface

	log     *slog.Logger
	clk     clock.Clock
	link    LinkToggler
	addr    AddressSetter
	plat    Platform
	bridge  BridgeCapability
	sockets SocketOpener
	bounce  BounceConfig

	// onLinkState is invoked with a synthetic up/down transition for the
	// Neighbor Protocol Engine whenever one is implied by a kernel event.
	onLinkState func(iface *Interface, up bool)
}

// Config bundles Registry's collaborators.
type Config struct {
	Log         *slog.Logger
	Clock       clock.Clock
	Link        LinkToggler
	Addr        AddressSetter
	Platform    Platform
	Bridge      BridgeCapability
	Sockets     SocketOpener
	Bounce      BounceConfig
	OnLinkState func(iface *Interface, up bool)
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Bounce == (BounceConfig{}) {
		cfg.Bounce = DefaultBounceConfig
	}
	if cfg.OnLinkState == nil {
		cfg.OnLinkState = func(*Interface, bool) {}
	}
	return &Registry{
		interfaces:  make(map[int]*Interface),
		byName:      make(map[string]*Interface),
		log:         cfg.Log,
		clk:         cfg.Clock,
		link:        cfg.Link,
		addr:        cfg.Addr,
		plat:        cfg.Platform,
		bridge:      cfg.Bridge,
		sockets:     cfg.Sockets,
		bounce:      cfg.Bounce,
		onLinkState: cfg.OnLinkState,
	}
}

// Find returns the Interface for a kernel index, if known.
func (r *Registry) Find(index int) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.interfaces[index]
	return i, ok
}

// FindByName returns the Interface with the given name, if known.
func (r *Registry) FindByName(name string) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	return i, ok
}

// Each visits every registered Interface under the registry's read lock.
func (r *Registry) Each(f func(*Interface)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, i := range r.interfaces {
		f(i)
	}
}

// Handle applies one kernel event to the registry, per the component's
// documented event-handling rules.
func (r *Registry) Handle(ctx context.Context, ev kernelmon.Event) {
	switch e := ev.(type) {
	case kernelmon.LinkAdded:
		r.handleLinkAdded(ctx, e)
	case kernelmon.LinkRemoved:
		r.handleLinkRemoved(ctx, e)
	case kernelmon.AddressAdded:
		r.handleAddress(e.Index, e.Family, e.Address, true)
	case kernelmon.AddressRemoved:
		r.handleAddress(e.Index, e.Family, e.Address, false)
	default:
		r.log.Debug("unhandled kernel event", "type", fmt.Sprintf("%T", ev))
	}
}

func (r *Registry) handleLinkAdded(ctx context.Context, e kernelmon.LinkAdded) {
	r.mu.Lock()
	iface, known := r.interfaces[e.Index]
	if !known {
		iface = newInterface(e.Index, e.Name, e.MAC, e.Flags, r.log)
		r.interfaces[e.Index] = iface
		r.byName[e.Name] = iface
	}
	r.mu.Unlock()

	if !known {
		r.bringUpIfEligible(ctx, iface, e)
		return
	}

	r.applyFlagDelta(iface, e.Flags, e.ChangeMask)
	if e.BridgeIndex != nil {
		r.log.Info("added to bridge", "interface", iface.Name, "bridge_index", *e.BridgeIndex)
	}
}

func (r *Registry) bringUpIfEligible(ctx context.Context, iface *Interface, e kernelmon.LinkAdded) {
	if r.plat != nil && !r.plat.IsBridge(iface.Name) && !iface.IsPhysical() {
		return
	}
	if err := r.BringUp(ctx, iface); err != nil {
		r.log.Warn("bring-up failed", "interface", iface.Name, "err", err)
	}
	up := e.Flags&flagUp != 0
	if r.plat != nil {
		if carrier, err := r.plat.Carrier(iface.Name); err == nil {
			up = carrier
		}
	}
	r.onLinkState(iface, up)
}

func (r *Registry) applyFlagDelta(iface *Interface, flags, changeMask uint32) {
	delta := (iface.LastFlags ^ flags) | changeMask
	carrier, err := true, error(nil)
	if r.plat != nil {
		carrier, err = r.plat.Carrier(iface.Name)
	}
	if err == nil && carrier != (flags&flagUp != 0) {
		flags ^= flagUp
	}
	for _, bit := range []struct {
		mask uint32
		name string
	}{
		{flagUp, "link"}, {flagRunning, "running"}, {flagPromisc, "promiscuous"}, {flagDormant, "dormant"},
	} {
		if delta&bit.mask != 0 {
			r.log.Info("interface flag transition", "interface", iface.Name, "flag", bit.name, "set", flags&bit.mask != 0)
		}
	}

	wentDown := delta&flagUp != 0 && flags&flagUp == 0
	iface.LastFlags = flags
	iface.Flags = flags

	if wentDown && iface.IsPhysical() {
		if r.plat != nil && r.plat.FaultInjected(iface.Name) {
			return
		}
		if r.BounceExpired(iface) {
			if err := r.RepairLink(context.Background(), iface); err != nil {
				r.log.Warn("repair link failed", "interface", iface.Name, "err", err)
			}
		}
	}
}

func (r *Registry) handleLinkRemoved(ctx context.Context, e kernelmon.LinkRemoved) {
	r.mu.RLock()
	iface, ok := r.interfaces[e.Index]
	r.mu.RUnlock()
	if !ok {
		r.log.Info("remove event for unknown interface", "index", e.Index)
		return
	}

	if e.ChangeMask == allFlagsChangeMask {
		r.mu.Lock()
		iface.Removed = true
		r.mu.Unlock()
		if r.sockets != nil {
			r.sockets.Close(iface)
		}
		return
	}
	r.applyFlagDelta(iface, iface.Flags, e.ChangeMask)
}

func (r *Registry) handleAddress(index int, family uint8, addr netip.Addr, added bool) {
	if !addr.Is6() {
		return
	}
	r.mu.RLock()
	iface, ok := r.interfaces[index]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if addr == iface.PrimaryAddress {
		action := "observed"
		if !added {
			action = "removed, repairing"
		}
		r.log.Info("primary address event", "interface", iface.Name, "action", action)
		if !added && r.addr != nil {
			if err := r.addr.SetAddress(context.Background(), iface.Index, iface.PrimaryAddress, 64); err != nil {
				r.log.Warn("repair SetAddress failed", "interface", iface.Name, "err", err)
			}
		}
		return
	}
	r.log.Debug("non-primary address event ignored", "interface", iface.Name, "address", addr)
}

// BringUp brings iface administratively up, installs its primary address,
// and opens its sockets.
func (r *Registry) BringUp(ctx context.Context, iface *Interface) error {
	if r.link != nil {
		if err := r.link.BringLinkUp(ctx, iface.Index); err != nil {
			return fmt.Errorf("ifreg: bring link up: %w", err)
		}
	}
	if r.addr != nil {
		if err := r.addr.SetAddress(ctx, iface.Index, iface.PrimaryAddress, 64); err != nil {
			return fmt.Errorf("ifreg: set address: %w", err)
		}
	}
	if r.sockets != nil {
		if err := r.sockets.Open(ctx, iface); err != nil {
			return fmt.Errorf("ifreg: open sockets: %w", err)
		}
	}
	return nil
}

// BounceExpired reports whether enough time has passed to attempt a repair,
// applying the attempts/interval/reattempt backoff policy.
func (r *Registry) BounceExpired(iface *Interface) bool {
	now := r.clk.Now()
	if iface.Bounce.Attempts >= r.bounce.Attempts {
		if now.Sub(iface.Bounce.LastReattemptTime) >= r.bounce.Reattempt {
			iface.Bounce.Attempts = 0
			return true
		}
		return false
	}
	return now.Sub(iface.Bounce.LastBounceTime) >= r.bounce.Interval
}

// RepairLink bounces iface's link down then up, subject to IsQuiesced.
func (r *Registry) RepairLink(ctx context.Context, iface *Interface) error {
	if iface.IsQuiesced {
		return nil
	}
	if r.link != nil {
		if err := r.link.BringLinkDown(ctx, iface.Index); err != nil {
			return fmt.Errorf("ifreg: bring link down: %w", err)
		}
		if err := r.link.BringLinkUp(ctx, iface.Index); err != nil {
			return fmt.Errorf("ifreg: bring link up: %w", err)
		}
	}
	iface.Bounce.LastBounceTime = r.clk.Now()
	iface.Bounce.Attempts++
	if iface.Bounce.Attempts >= r.bounce.Attempts {
		iface.Bounce.LastReattemptTime = r.clk.Now()
	}
	return nil
}

// Capture folds iface into its name-derived bridge ("ibiz<N>" -> "biz<N>").
func (r *Registry) Capture(ctx context.Context, iface *Interface) error {
	if r.plat != nil && r.plat.FaultInjected(iface.Name) {
		return nil
	}
	m := captureNamePattern.FindStringSubmatch(iface.Name)
	if m == nil {
		return fmt.Errorf("ifreg: capture: %q does not match ibiz<N>", iface.Name)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return fmt.Errorf("ifreg: capture: parse ordinal from %q: %w", iface.Name, err)
	}
	bridge := "biz" + strconv.Itoa(n)
	if r.bridge == nil {
		return fmt.Errorf("ifreg: capture: no bridge capability configured")
	}
	if err := r.bridge.EnsureBridge(bridge); err != nil {
		return fmt.Errorf("ifreg: ensure bridge %q: %w", bridge, err)
	}
	if err := r.bridge.SetBridgeMAC(bridge, iface.MAC); err != nil {
		return fmt.Errorf("ifreg: set bridge MAC %q: %w", bridge, err)
	}
	tunnelled, err := r.bridge.IsTunnelled(bridge)
	if err != nil {
		return fmt.Errorf("ifreg: check tunnelled %q: %w", bridge, err)
	}
	if !tunnelled {
		if err := r.bridge.AddPort(bridge, iface.Name); err != nil {
			return fmt.Errorf("ifreg: add port %q to %q: %w", iface.Name, bridge, err)
		}
	}
	if r.link != nil {
		if err := r.link.BringLinkUp(ctx, iface.Index); err != nil {
			return fmt.Errorf("ifreg: bring link up: %w", err)
		}
	}
	return nil
}

// FindBridgeInterface returns the Interface for the bridge that has
// captured iface, if any.
func (r *Registry) FindBridgeInterface(iface *Interface) (*Interface, bool) {
	if r.plat == nil {
		return nil, false
	}
	bridge, ok := r.plat.CapturedBridge(iface.Name)
	if !ok {
		return nil, false
	}
	return r.FindByName(bridge)
}
