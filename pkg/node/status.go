package node

import (
	"github.com/amirimatin/go-consensus/pkg/membership"
)

// Status is a JSON-serializable snapshot of the node suitable for the
// management /status endpoint and operator tooling.
type Status struct {
	// MemberID is this node's slot in the cluster member descriptor.
	MemberID int32 `json:"memberId"`
	// InstanceID identifies this process incarnation.
	InstanceID string `json:"instanceId"`
	// State is the module lifecycle state name (INIT .. CLOSED).
	State string `json:"state"`
	// Role is the node's role in the current term.
	Role string `json:"role"`
	// LeadershipTermID is the current leadership term id.
	LeadershipTermID int64 `json:"leadershipTermId"`
	// PendingToggle names an armed but not yet consumed control action.
	PendingToggle string `json:"pendingToggle"`
	// ActiveSessions counts connected client sessions.
	ActiveSessions int64 `json:"activeSessions"`
	// TimedOutSessions counts sessions closed by the inactivity sweep.
	TimedOutSessions int64 `json:"timedOutSessions"`
	// Errors counts faults recorded by the agent error sink.
	Errors int64 `json:"errors"`
	// Healthy reports whether the module is serving (ACTIVE).
	Healthy bool `json:"healthy"`
	// Members lists the gossip membership view, when gossip is running.
	Members []membership.MemberInfo `json:"members,omitempty"`
	// Warnings contains non-fatal observations (e.g. a stuck toggle).
	Warnings []string `json:"warnings,omitempty"`
}
