// Package tunnel decides whether a point-to-point overlay tunnel should
// currently be spliced into a local bridge. Realizing that decision (the
// out-of-scope vtund-equivalent process) is delegated to a Driver.
package tunnel

import (
	"fmt"

	"netmgr/internal/uuidfmt"
)

// BridgeTunnelChecker answers whether a named bridge already has a tunnel
// pseudo-interface captured as a port. internal/bridgecap.Controller
// implements this.
type BridgeTunnelChecker interface {
	IsTunnelled(bridge string) (bool, error)
}

// Decision is the outcome of evaluating whether a splice is needed.
type Decision struct {
	SpliceUp bool
	Reason   string
}

// Plan decides whether bridge needs a tunnel spliced in to reach a remote
// node's interface. A bridge that already has a tunnel port captured is
// left alone: the decision is idempotent, matching the "once tunnelled,
// subsequent plans are no-ops" requirement.
func Plan(remoteNode uuidfmt.UUID, remoteIfaceName, bridge string, checker BridgeTunnelChecker) (Decision, error) {
	tunnelled, err := checker.IsTunnelled(bridge)
	if err != nil {
		return Decision{}, fmt.Errorf("tunnel: check %q for an existing tunnel port: %w", bridge, err)
	}
	if tunnelled {
		return Decision{SpliceUp: false, Reason: "bridge already has a tunnel port captured"}, nil
	}
	return Decision{
		SpliceUp: true,
		Reason:   fmt.Sprintf("splicing %s's %s into %s", remoteNode, remoteIfaceName, bridge),
	}, nil
}
