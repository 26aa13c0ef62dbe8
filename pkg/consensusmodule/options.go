package consensusmodule

import (
	"errors"
	"log"
	"time"

	"github.com/amirimatin/go-consensus/pkg/concurrent"
	"github.com/amirimatin/go-consensus/pkg/members"
	"github.com/amirimatin/go-consensus/pkg/termlog"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Authenticator validates connect credentials. A non-nil error rejects the
// session with AUTHENTICATION_REJECTED. Credential semantics are external to
// this module.
type Authenticator func(credentials []byte) error

// Options carries the injected collaborators and runtime configuration of the
// consensus module agent. Counters may live in external shared memory; the
// agent relies only on their compare-and-set atomicity.
type Options struct {
	// MemberID is this node's id within the cluster member descriptor.
	MemberID int32
	// ClusterMembers is the pipe/comma member descriptor
	// (id,ingress,consensus,log,catchup,archive|...). Optional for a
	// single-node module.
	ClusterMembers string

	// MaxConcurrentSessions bounds the session table. Zero selects the default.
	MaxConcurrentSessions int
	// SessionTimeout is the inactivity window after which a CONNECTED session
	// is closed with reason TIMEOUT.
	SessionTimeout time.Duration
	// SlowTickInterval gates control-toggle evaluation and session sweeps.
	SlowTickInterval time.Duration
	// ServiceCount is the number of attached services whose termination
	// acknowledgements are awaited during shutdown.
	ServiceCount int
	// LogSessionID identifies the log publication session in term messages.
	LogSessionID int32

	LogPublisher    LogPublisher
	EgressPublisher EgressPublisher
	// TermPublication carries NewLeadershipTerm messages to followers.
	TermPublication transport.Publication
	TermLog         *termlog.TermLog

	Clock concurrent.Clock

	ModuleStateCounter     concurrent.AtomicCounter
	ControlToggleCounter   concurrent.AtomicCounter
	ClusterNodeRoleCounter concurrent.AtomicCounter
	TimedOutSessionCounter concurrent.AtomicCounter
	ActiveSessionCounter   concurrent.AtomicCounter
	LeadershipTermCounter  concurrent.AtomicCounter

	// ErrorHandler receives every recovered fault; ErrorCounter counts them.
	ErrorHandler concurrent.ErrorHandler
	ErrorCounter concurrent.AtomicCounter

	// TerminationHook runs when the module reaches TERMINATING. A panic inside
	// the hook is reported to the counted error sink and does not prevent the
	// termination signal from propagating.
	TerminationHook func()

	Authenticator Authenticator

	Logger *log.Logger
}

// Defaults for zero-valued options.
const (
	DefaultMaxConcurrentSessions = 10
	DefaultSessionTimeout        = 10 * time.Second
	DefaultSlowTickInterval      = 10 * time.Millisecond
	DefaultServiceCount          = 1
)

// Validate checks required collaborators and fills defaults in place.
func (o *Options) Validate() error {
	if o.LogPublisher == nil {
		return errors.New("consensusmodule: nil LogPublisher")
	}
	if o.EgressPublisher == nil {
		return errors.New("consensusmodule: nil EgressPublisher")
	}
	if o.TermPublication == nil {
		return errors.New("consensusmodule: nil TermPublication")
	}
	if o.TermLog == nil {
		return errors.New("consensusmodule: nil TermLog")
	}
	if o.ClusterMembers != "" {
		ms, err := members.Parse(o.ClusterMembers)
		if err != nil {
			return err
		}
		if _, ok := members.Find(ms, o.MemberID); !ok {
			return errors.New("consensusmodule: MemberID not present in ClusterMembers")
		}
	}
	if o.MaxConcurrentSessions <= 0 {
		o.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	if o.SlowTickInterval <= 0 {
		o.SlowTickInterval = DefaultSlowTickInterval
	}
	if o.ServiceCount <= 0 {
		o.ServiceCount = DefaultServiceCount
	}
	if o.Clock == nil {
		o.Clock = concurrent.SystemClock{}
	}
	if o.ModuleStateCounter == nil {
		o.ModuleStateCounter = concurrent.NewCounter()
	}
	if o.ControlToggleCounter == nil {
		o.ControlToggleCounter = concurrent.NewCounter()
	}
	if o.ClusterNodeRoleCounter == nil {
		o.ClusterNodeRoleCounter = concurrent.NewCounter()
	}
	if o.TimedOutSessionCounter == nil {
		o.TimedOutSessionCounter = concurrent.NewCounter()
	}
	if o.ActiveSessionCounter == nil {
		o.ActiveSessionCounter = concurrent.NewCounter()
	}
	if o.LeadershipTermCounter == nil {
		o.LeadershipTermCounter = concurrent.NewCounter()
	}
	if o.ErrorCounter == nil {
		o.ErrorCounter = concurrent.NewCounter()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}
