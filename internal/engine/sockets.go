package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/ipv6"

	"netmgr/internal/heartbeat"
	"netmgr/internal/icmpv6"
	"netmgr/internal/identity"
	"netmgr/internal/ifreg"
)

// socketAdapter implements ifreg.SocketOpener: it opens an interface's
// ICMPv6 and heartbeat sockets and spawns their receive-loop goroutines,
// one per interface, supervised independently so a panic or fatal error on
// one interface never reaches another (per the concurrency model's
// failure-isolation requirement).
var _ ifreg.SocketOpener = (*socketAdapter)(nil)

type socketAdapter struct {
	log             *slog.Logger
	store           *identity.Store
	partnerCachePath string
	notify          func()

	wg sync.WaitGroup
}

func newSocketAdapter(log *slog.Logger, store *identity.Store, partnerCachePath string) *socketAdapter {
	return &socketAdapter{log: log, store: store, partnerCachePath: partnerCachePath, notify: func() {}}
}

// NewSocketOpener builds the ifreg.SocketOpener that bringing an interface
// up wires into its ICMPv6 and heartbeat sockets. Construct one per daemon
// and pass it as ifreg.Config.Sockets. partnerCachePath is where a newly
// learned partner is persisted so a restart can reconnect immediately.
//
// The returned value also satisfies SetTopologyNotifier: since the socket
// opener must exist before the Registry it's wired into, and the Registry
// must exist before the Engine, the caller constructs these in that order
// and then calls SetTopologyNotifier(eng.NotifyTopologyChange) once eng
// exists, so a partner transition observed on a socket goroutine reaches
// the reconciliation loop.
func NewSocketOpener(log *slog.Logger, store *identity.Store, partnerCachePath string) *socketAdapter {
	return newSocketAdapter(log, store, partnerCachePath)
}

// SetTopologyNotifier wires the callback invoked whenever a heartbeat
// receive causes a peer to become a partner. Safe to call at most once,
// before Open is ever called.
func (a *socketAdapter) SetTopologyNotifier(notify func()) {
	a.notify = notify
}

// Open opens iface's ICMPv6 and heartbeat-inbound sockets, binds the
// ICMPv6 one with backoff, and starts their receive loops bound to ctx
// (the registry's event-handling context, which lives for the daemon's
// lifetime). Matching internal/ifreg.Interface's io.Closer fields lets
// Close tear both down without this package depending on ifreg's
// internals beyond that.
func (a *socketAdapter) Open(ctx context.Context, iface *ifreg.Interface) error {
	icmpSock, err := icmpv6.SocketFor(a.log)
	if err != nil {
		return err
	}
	hbSock, err := heartbeat.InboundSocket(iface.Index)
	if err != nil {
		icmpSock.Close()
		return err
	}
	iface.ICMPSocket = icmpSock
	iface.HeartbeatSocket = hbSock

	removed := func() bool { return iface.Removed }

	a.wg.Add(2)
	go a.runWithRecover(iface, func() {
		defer a.wg.Done()
		if err := icmpSock.BindWithBackoff(ctx, iface.Index, iface.PrimaryAddress, removed); err != nil {
			a.log.Debug("icmpv6 bind abandoned", "interface", iface.Name, "err", err)
			return
		}
		h := &neighborHandler{log: a.log, iface: iface}
		if err := icmpSock.ReceiveLoop(ctx, removed, h); err != nil {
			a.log.Debug("icmpv6 receive loop exited", "interface", iface.Name, "err", err)
		}
	})
	go a.runWithRecover(iface, func() {
		defer a.wg.Done()
		a.heartbeatReceiveLoop(ctx, iface, hbSock, removed)
	})
	return nil
}

// Close releases iface's sockets, which unblocks any in-flight receive and
// lets the goroutines started by Open exit at their next suspension point.
func (a *socketAdapter) Close(iface *ifreg.Interface) {
	if iface.ICMPSocket != nil {
		_ = iface.ICMPSocket.Close()
	}
	if iface.HeartbeatSocket != nil {
		_ = iface.HeartbeatSocket.Close()
	}
}

// Wait blocks until every socket goroutine spawned by Open has exited.
func (a *socketAdapter) Wait() {
	a.wg.Wait()
}

func (a *socketAdapter) runWithRecover(iface *ifreg.Interface, f func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("socket goroutine panic recovered", "interface", iface.Name, "panic", r)
			iface.Removed = true
		}
	}()
	f()
}

func (a *socketAdapter) heartbeatReceiveLoop(ctx context.Context, iface *ifreg.Interface, pc *ipv6.PacketConn, removed func() bool) {
	for {
		if ctx.Err() != nil || removed() {
			return
		}
		becamePartner, err := heartbeat.Receive(pc, a.store, iface.Neighbors, iface.IsPrivateLink)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || removed() {
				return
			}
			a.log.Debug("heartbeat receive loop exited", "interface", iface.Name, "err", err)
			return
		}
		if becamePartner {
			a.log.Info("heartbeat: peer became partner", "interface", iface.Name)
			if err := a.store.SavePartnerCache(a.partnerCachePath); err != nil {
				a.log.Warn("save partner cache failed", "err", err)
			}
			a.notify()
		}
	}
}

// neighborHandler implements icmpv6.ReceiveHandler, learning neighbors
// purely by address: NDP carries no node identity, so it only keeps the
// neighbor table populated. Node linkage and partner detection is the
// heartbeat engine's job (it carries the UUID payload NDP lacks).
type neighborHandler struct {
	log   *slog.Logger
	iface *ifreg.Interface
}

func (h *neighborHandler) OnEchoRequest(from netip.Addr, pdu icmpv6.EchoRequest) {
	h.log.Debug("icmpv6: echo request", "interface", h.iface.Name, "from", from)
}

func (h *neighborHandler) OnEchoReply(from netip.Addr, pdu icmpv6.EchoReply) {
	h.log.Debug("icmpv6: echo reply", "interface", h.iface.Name, "from", from)
}

func (h *neighborHandler) OnNeighborSolicitation(from netip.Addr, pdu icmpv6.NeighborSolicitation) {
	if peer := h.iface.Neighbors.InternNeighbor(from); peer != nil {
		peer.LastUpdated = time.Now()
	}
}

func (h *neighborHandler) OnNeighborAdvertisement(from netip.Addr, pdu icmpv6.NeighborAdvertisement) {
	if peer := h.iface.Neighbors.InternNeighbor(from); peer != nil {
		peer.LastUpdated = time.Now()
	}
}
