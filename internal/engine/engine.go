// Package engine wires the kernel event source, identity store, interface
// registry, neighbor/heartbeat engines, and hosts-file writer into the
// top-level reconciliation loop (C6).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"netmgr/internal/check"
	"netmgr/internal/config"
	"netmgr/internal/heartbeat"
	"netmgr/internal/hostsfile"
	"netmgr/internal/icmpv6"
	"netmgr/internal/ifreg"
	"netmgr/internal/kernelmon"
	"netmgr/internal/obs"
	"netmgr/internal/platformcap"
	"netmgr/internal/tunnel"
	"netmgr/internal/uuidfmt"
)

const (
	defaultAdvertiseInterval = 3 * time.Second
	reprobeEvery             = 10
	leakCheckEvery           = 100
)

// Config bundles the engine's optional collaborators and tunables; every
// field has a usable zero-value or default. The required collaborators
// (source, identity store, registry) are parameters of New.
type Config struct {
	Log *slog.Logger

	DataRoot          string // holds node-uuid, network.yaml, partner-cache, hosts
	AdvertiseInterval time.Duration

	Platform     platformcap.Reader
	BridgeChecker tunnel.BridgeTunnelChecker // nil disables tunnel evaluation
	TunnelDriver  tunnel.Driver              // not called by the loop: splice decisions are only logged

	// OnTopologyChange is the in-scope surface of the out-of-scope admin
	// IPC channel: called (non-blocking, best-effort) whenever a Peer
	// observes a topology change.
	OnTopologyChange func()

	// LeakCheckHook runs every leakCheckEvery ticks; nil in production.
	LeakCheckHook func()
}

// Engine is the top-level reconciliation loop, C6.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	source   *kernelmon.Source
	identity identityStore
	registry *ifreg.Registry
	policy   *config.Policy

	selfUUID    uuidfmt.UUID
	clusterUUID uuidfmt.UUID

	partnerCachePath string
	hostsPath        string

	topologyChange chan struct{}
}

// identityStore is the subset of *identity.Store the engine consumes
// directly (everything else flows through ifreg/hostsfile, which already
// depend on it).
type identityStore interface {
	SavePartnerCache(path string) error
	LoadPartnerCache(path string) error
}

// New constructs an Engine. The caller owns source/store/registry and
// their lifetimes (Close is not called here).
func New(cfg Config, source *kernelmon.Source, store identityStore, registry *ifreg.Registry, policy *config.Policy, selfUUID uuidfmt.UUID) *Engine {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.AdvertiseInterval <= 0 {
		cfg.AdvertiseInterval = defaultAdvertiseInterval
	}
	if cfg.OnTopologyChange == nil {
		cfg.OnTopologyChange = func() {}
	}
	clusterName := policy.ClusterName
	return &Engine{
		cfg:              cfg,
		log:              cfg.Log,
		source:           source,
		identity:         store,
		registry:         registry,
		policy:           policy,
		selfUUID:         selfUUID,
		clusterUUID:      config.DeriveClusterUUID(clusterName),
		partnerCachePath: filepath.Join(cfg.DataRoot, "partner-cache"),
		hostsPath:        filepath.Join(cfg.DataRoot, "hosts"),
		topologyChange:   make(chan struct{}, 1),
	}
}

// NotifyTopologyChange raises the non-blocking topology-change flag C6
// drains every tick. Safe to call from any goroutine (e.g. a Peer
// transition observed by the heartbeat or neighbor engine).
func (e *Engine) NotifyTopologyChange() {
	select {
	case e.topologyChange <- struct{}{}:
	default:
	}
}

// Run seeds the registry from the kernel's current link table, starts the
// kernel-event consumer, and runs the reconciliation ticker until ctx is
// cancelled or a supervised goroutine returns a fatal error.
func (e *Engine) Run(ctx context.Context) error {
	check.Assert(e.source != nil, "Engine.Run: source must not be nil")
	check.Assert(e.registry != nil, "Engine.Run: registry must not be nil")
	check.Assert(e.identity != nil, "Engine.Run: identity must not be nil")

	if err := e.identity.LoadPartnerCache(e.partnerCachePath); err != nil {
		e.log.Warn("load partner cache failed", "err", err)
	}

	if err := e.seedFromKernel(ctx); err != nil {
		return fmt.Errorf("engine: seed registry: %w", err)
	}

	events, err := e.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("engine: subscribe to kernel events: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				e.registry.Handle(ctx, ev)
			}
		}
	})
	g.Go(func() error {
		return e.reconcileLoop(ctx)
	})
	return g.Wait()
}

func (e *Engine) seedFromKernel(ctx context.Context) error {
	links, err := e.source.ListLinks(ctx)
	if err != nil {
		return err
	}
	for _, l := range links {
		e.registry.Handle(ctx, kernelmon.LinkAdded{
			Index:     l.Index,
			Name:      l.Name,
			MAC:       l.MAC,
			Flags:     l.Flags,
			OperState: l.OperState,
			Type:      l.Type,
		})
	}
	return nil
}

func (e *Engine) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.AdvertiseInterval)
	defer ticker.Stop()

	tracer := obs.Tracer()
	var tick int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick++
			tickCtx, span := tracer.Start(ctx, "update_hosts")
			e.resolveClusterName()
			e.advertiseAll()
			if tick%reprobeEvery == 0 {
				if err := e.seedFromKernel(tickCtx); err != nil {
					e.log.Warn("reprobe links failed", "err", err)
				}
			}
			if tick%leakCheckEvery == 0 && e.cfg.LeakCheckHook != nil {
				e.cfg.LeakCheckHook()
			}
			e.evaluateTunnels(tickCtx)
			e.drainTopologyChange()
			if err := e.writeHosts(); err != nil {
				e.log.Warn("write hosts snapshot failed", "err", err)
			}
			span.End()
		}
	}
}

func (e *Engine) resolveClusterName() {
	if e.policy.ClusterName != "" {
		return
	}
	name, err := readKernelDomainName()
	if err != nil || name == "" {
		return
	}
	e.policy.ClusterName = name
	e.clusterUUID = config.DeriveClusterUUID(name)
	if err := setKernelDomainName(name); err != nil {
		e.log.Debug("set kernel domain name failed", "err", err)
	}
}

func (e *Engine) advertiseAll() {
	e.registry.Each(func(iface *ifreg.Interface) {
		if iface.Removed {
			return
		}
		e.advertiseOne(iface)
	})
}

// advertiseOne sends this tick's Neighbor Advertisement and heartbeat for
// one interface. The heartbeat send cadence is driven from here, a single
// ticker fanning out to every interface, rather than one timer goroutine
// per interface (the alternative the concurrency model explicitly allows).
func (e *Engine) advertiseOne(iface *ifreg.Interface) {
	if sock, ok := iface.ICMPSocket.(*icmpv6.Socket); ok {
		partners := make([]netip.Addr, 0, 4)
		iface.Neighbors.EachNeighbor(func(p *ifreg.Peer) {
			if p.Valid && p.IsPartner {
				partners = append(partners, p.Address)
			}
		})
		sock.Advertise(icmpv6.AdvertiseParams{
			Index:          iface.Index,
			PrimaryAddress: iface.PrimaryAddress,
			MAC:            iface.MAC,
			Partners:       partners,
		})
	}

	pc, err := heartbeat.OutboundSocket(iface.Index)
	if err != nil {
		e.log.Debug("heartbeat outbound socket failed", "interface", iface.Name, "err", err)
		return
	}
	defer pc.Close()
	if err := heartbeat.Send(pc, e.selfUUID); err != nil {
		e.log.Debug("heartbeat send failed", "interface", iface.Name, "err", err)
	}
}

func (e *Engine) drainTopologyChange() {
	select {
	case <-e.topologyChange:
		e.cfg.OnTopologyChange()
	default:
	}
}

func (e *Engine) evaluateTunnels(ctx context.Context) {
	if e.cfg.BridgeChecker == nil {
		return
	}
	e.registry.Each(func(iface *ifreg.Interface) {
		if iface.Removed || !e.cfg.Platform.IsBridge(iface.Name) {
			return
		}
		iface.Neighbors.EachNeighbor(func(peer *ifreg.Peer) {
			if !peer.Valid || !peer.IsPartner || peer.Node == nil || peer.RemoteIface == "" {
				return
			}
			decision, err := tunnel.Plan(peer.Node.UUID, peer.RemoteIface, iface.Name, e.cfg.BridgeChecker)
			if err != nil {
				e.log.Warn("tunnel plan failed", "bridge", iface.Name, "err", err)
				return
			}
			if !decision.SpliceUp {
				return
			}
			e.log.Info("tunnel splice decision", "bridge", iface.Name, "reason", decision.Reason)
			if e.cfg.TunnelDriver == nil {
				return
			}
			// TunnelDriver is not called: realizing a splice needs the
			// remote peer's WireGuard public key, which the neighbor and
			// heartbeat protocols do not carry, so the decision is only
			// logged above.
		})
	})
}

func (e *Engine) writeHosts() error {
	platform := e.cfg.Platform
	return hostsfile.UpdateHosts(e.hostsPath, hostsfile.Params{
		Registry:     e.registry,
		ClusterUUID:  e.clusterUUID,
		SelfNodeUUID: e.selfUUID,
		IsBridge: func(iface *ifreg.Interface) bool {
			return platform.IsBridge(iface.Name)
		},
		IsPrivateLink: func(iface *ifreg.Interface) bool {
			return e.policy.IsPrivateLink(iface.Name)
		},
	})
}
