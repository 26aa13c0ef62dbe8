package node

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/amirimatin/go-consensus/pkg/codec"
	"github.com/amirimatin/go-consensus/pkg/concurrent"
	"github.com/amirimatin/go-consensus/pkg/consensusmodule"
	"github.com/amirimatin/go-consensus/pkg/discovery"
	"github.com/amirimatin/go-consensus/pkg/membership"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Options carries dependency-injected components and runtime configuration
// used to assemble a cluster node. Instances are typically produced from
// bootstrap.Config.
type Options struct {
	// MemberID is this node's id within the cluster member descriptor.
	MemberID int32
	// InstanceID uniquely identifies this process incarnation. Defaults to a
	// random UUID.
	InstanceID string

	// Agent and Adapter form the duty-cycle core (required).
	Agent   *consensusmodule.Agent
	Adapter *consensusmodule.Adapter

	// Membership is the gossip layer; optional for single-node deployments.
	Membership membership.Membership
	// Discovery provides seed addresses for the membership join.
	Discovery discovery.Discovery

	// Ingress serves client sessions and peer consensus calls.
	Ingress transport.IngressServer
	// Management serves the operator endpoints (/status, /control, /metrics).
	Management transport.ManagementServer
	// ManagementClient performs management calls against other nodes.
	ManagementClient transport.ManagementClient

	// TermOutbound is the consensus publication the agent writes
	// NewLeadershipTerm messages into; the node drains it and hands each
	// message to OnLeadershipTerm.
	TermOutbound *transport.RingPublication
	// OnLeadershipTerm receives every drained term announcement. Optional.
	OnLeadershipTerm func(codec.NewLeadershipTerm)

	// LogRing is the local replicated-log publication; drained frames are
	// handed to OnLogRecord for attached services.
	LogRing     *transport.RingPublication
	OnLogRecord func(payload []byte)

	// Counters shared with the agent. State, toggle and role are required so
	// the node can answer status and control requests without touching the
	// duty-cycle thread.
	ModuleStateCounter     concurrent.AtomicCounter
	ControlToggleCounter   concurrent.AtomicCounter
	RoleCounter            concurrent.AtomicCounter
	LeadershipTermCounter  concurrent.AtomicCounter
	ActiveSessionCounter   concurrent.AtomicCounter
	TimedOutSessionCounter concurrent.AtomicCounter
	ErrorCounter           concurrent.AtomicCounter

	// PollLimit bounds ingress messages dispatched per duty cycle.
	PollLimit int
	// SampleInterval is the cadence of the metrics/status sampler.
	SampleInterval time.Duration
	// Idle decides runner behaviour between work-less duty cycles.
	Idle concurrent.IdleStrategy

	Logger *log.Logger
}

// Defaults for zero-valued options.
const (
	DefaultPollLimit      = 10
	DefaultSampleInterval = time.Second
)

// Validate checks required components and fills defaults in place.
func (o *Options) Validate() error {
	if o.Agent == nil {
		return errors.New("node: nil Agent")
	}
	if o.Adapter == nil {
		return errors.New("node: nil Adapter")
	}
	if o.ModuleStateCounter == nil {
		return errors.New("node: nil ModuleStateCounter")
	}
	if o.ControlToggleCounter == nil {
		return errors.New("node: nil ControlToggleCounter")
	}
	if o.RoleCounter == nil {
		return errors.New("node: nil RoleCounter")
	}
	if o.InstanceID == "" {
		o.InstanceID = uuid.NewString()
	}
	if o.LeadershipTermCounter == nil {
		o.LeadershipTermCounter = concurrent.NewCounter()
	}
	if o.ActiveSessionCounter == nil {
		o.ActiveSessionCounter = concurrent.NewCounter()
	}
	if o.TimedOutSessionCounter == nil {
		o.TimedOutSessionCounter = concurrent.NewCounter()
	}
	if o.ErrorCounter == nil {
		o.ErrorCounter = concurrent.NewCounter()
	}
	if o.PollLimit <= 0 {
		o.PollLimit = DefaultPollLimit
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	if o.Idle == nil {
		o.Idle = concurrent.NewBackoffIdleStrategy()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}
