package consensusmodule

import "github.com/amirimatin/go-consensus/pkg/concurrent"

// State is the module lifecycle state, persisted through an injected atomic
// counter so that external tooling observes it. Codes are part of the
// operational contract and must not be renumbered.
type State int64

const (
	StateInit State = iota
	StateActive
	StateSuspended
	StateQuitting
	StateTerminating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateActive:
		return "ACTIVE"
	case StateSuspended:
		return "SUSPENDED"
	case StateQuitting:
		return "QUITTING"
	case StateTerminating:
		return "TERMINATING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// validTransition encodes the one-directional lifecycle; only ACTIVE and
// SUSPENDED are mutually reachable.
func validTransition(from, to State) bool {
	switch from {
	case StateInit:
		return to == StateActive || to == StateClosed
	case StateActive:
		return to == StateSuspended || to == StateQuitting
	case StateSuspended:
		return to == StateActive || to == StateQuitting
	case StateQuitting:
		return to == StateTerminating
	case StateTerminating:
		return to == StateClosed
	}
	return false
}

// Role is this node's position in the current leadership term.
type Role int64

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "FOLLOWER"
	case RoleCandidate:
		return "CANDIDATE"
	case RoleLeader:
		return "LEADER"
	}
	return "UNKNOWN"
}

// ToggleState is the operator control toggle: a single-slot mailbox written by
// an external control path and consumed by the agent. A value written while a
// previous one is still pending is lost by design of the CAS protocol.
type ToggleState int64

const (
	ToggleNeutral ToggleState = iota
	ToggleSuspend
	ToggleResume
	ToggleSnapshot
	ToggleShutdown
	ToggleAbort
)

func (t ToggleState) String() string {
	switch t {
	case ToggleNeutral:
		return "NEUTRAL"
	case ToggleSuspend:
		return "SUSPEND"
	case ToggleResume:
		return "RESUME"
	case ToggleSnapshot:
		return "SNAPSHOT"
	case ToggleShutdown:
		return "SHUTDOWN"
	case ToggleAbort:
		return "ABORT"
	}
	return "UNKNOWN"
}

// Toggle attempts to arm the control toggle from NEUTRAL. It reports false
// when another toggle is still pending consumption.
func (t ToggleState) Toggle(counter concurrent.AtomicCounter) bool {
	return counter.CompareAndSet(int64(ToggleNeutral), int64(t))
}

// ClusterAction is an operator-driven action agreed through the replicated
// log before the local state changes.
type ClusterAction int32

const (
	ActionSuspend ClusterAction = iota
	ActionResume
)

func (a ClusterAction) String() string {
	switch a {
	case ActionSuspend:
		return "SUSPEND"
	case ActionResume:
		return "RESUME"
	}
	return "UNKNOWN"
}

// CloseReason records why a session ended; the name is echoed to the client
// in the CLOSED egress event.
type CloseReason int32

const (
	CloseReasonNone CloseReason = iota
	CloseReasonTimeout
	CloseReasonServiceAction
	CloseReasonClientAction
	CloseReasonAuthenticationRejected
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonNone:
		return "NONE"
	case CloseReasonTimeout:
		return "TIMEOUT"
	case CloseReasonServiceAction:
		return "SERVICE_ACTION"
	case CloseReasonClientAction:
		return "CLIENT_ACTION"
	case CloseReasonAuthenticationRejected:
		return "AUTHENTICATION_REJECTED"
	}
	return "UNKNOWN"
}

// EventCode classifies egress events delivered to a client session.
type EventCode int32

const (
	EventCodeOK EventCode = iota
	EventCodeError
	EventCodeClosed
)

func (c EventCode) String() string {
	switch c {
	case EventCodeOK:
		return "OK"
	case EventCodeError:
		return "ERROR"
	case EventCodeClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}
