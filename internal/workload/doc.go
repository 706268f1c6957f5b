// Package workload exposes read-only container state for the daemon's
// admin surface. Workload scheduling, lifecycle management, and network
// wiring belong to the orchestrator that runs alongside this daemon, not
// to a link/address/neighbor reconciliation engine; this package only
// answers "what's running" so the admin status dump can report it
// alongside link, address, and neighbor state.
package workload
