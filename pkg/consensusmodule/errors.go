package consensusmodule

import "errors"

// ErrClusterTermination is the distinguished signal that the module has
// completed (or irrecoverably entered) its termination path. It must
// propagate out of the duty cycle so the hosting runtime stops the agent;
// it is never swallowed, even when the termination hook itself fails.
var ErrClusterTermination = errors.New("consensusmodule: cluster termination")

// SessionLimitMsg is the detail message delivered in the ERROR egress event
// when a connect exceeds the configured maximum concurrent sessions. The text
// is part of the client-facing protocol.
const SessionLimitMsg = "concurrent session limit"

// SessionInvalidStateMsg is delivered when a connect arrives while the module
// is no longer accepting sessions (quitting or beyond).
const SessionInvalidStateMsg = "invalid state"
