package node

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/amirimatin/go-consensus/pkg/codec"
	"github.com/amirimatin/go-consensus/pkg/consensusmodule"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/membership"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Node wires the consensus module agent together with gossip membership, the
// ingress service and the management endpoint into a runnable cluster node.
// The agent's duty cycle runs on a dedicated goroutine; every other subsystem
// communicates with it through the adapter queue and the shared counters.
type Node struct {
	opts Options
	mu   sync.Mutex
	run  struct {
		started bool
		closed  bool
	}
	cancel     context.CancelFunc
	runnerDone chan struct{}
	eb         eventBus
}

// New constructs a node from validated options. It performs no network
// activity; call Start to launch the node.
func New(opts Options) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Node{opts: opts}, nil
}

// Close is a convenience alias for Stop with a background context.
func (n *Node) Close() error {
	return n.Stop(context.Background())
}

// Start activates the agent, launches membership, the ingress and management
// servers, and begins the duty-cycle runner and supporting loops.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.run.closed {
		return ErrAlreadyClosed
	}
	if n.run.started {
		return nil
	}
	n.run.started = true

	obsmetrics.Register()

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	if err := n.opts.Agent.OnStart(); err != nil {
		cancel()
		return err
	}

	if n.opts.Membership != nil {
		if err := n.opts.Membership.Start(runCtx); err != nil {
			cancel()
			return err
		}
		if n.opts.Discovery != nil {
			if seeds := n.opts.Discovery.Seeds(); len(seeds) > 0 {
				logutil.Infof(n.opts.Logger, "joining membership seeds: %v", seeds)
				_ = n.opts.Membership.Join(seeds)
			}
		}
		go n.membershipEventsLoop(runCtx)
	}

	if n.opts.Ingress != nil {
		if err := n.opts.Ingress.Start(runCtx, n.ingressHandlers()); err != nil {
			cancel()
			return err
		}
		logutil.Infof(n.opts.Logger, "ingress listening at %s", n.opts.Ingress.Addr())
	}

	if n.opts.Management != nil {
		statusFn := func(ctx context.Context) ([]byte, error) { return n.statusJSON(ctx) }
		if err := n.opts.Management.Start(runCtx, statusFn, n.handleControl); err != nil {
			cancel()
			return err
		}
		logutil.Infof(n.opts.Logger, "management endpoint listening at %s (status/control/metrics)", n.opts.Management.Addr())
	}

	n.runnerDone = make(chan struct{})
	go n.runLoop(runCtx)
	go n.sampleLoop(runCtx)
	if n.opts.TermOutbound != nil {
		go n.termFanoutLoop(runCtx)
	}
	if n.opts.LogRing != nil && n.opts.OnLogRecord != nil {
		go n.logDrainLoop(runCtx)
	}
	return nil
}

// Stop shuts down the runner, the servers and membership. It is idempotent.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.run.closed {
		return nil
	}
	n.run.closed = true
	if !n.run.started {
		return nil
	}
	if n.cancel != nil {
		n.cancel()
	}
	if n.runnerDone != nil {
		select {
		case <-n.runnerDone:
		case <-ctx.Done():
		}
	}
	if n.opts.Ingress != nil {
		_ = n.opts.Ingress.Stop(ctx)
	}
	if n.opts.Management != nil {
		_ = n.opts.Management.Stop(ctx)
	}
	if n.opts.Membership != nil {
		_ = n.opts.Membership.Leave()
		_ = n.opts.Membership.Stop()
	}
	return nil
}

// Status returns a snapshot of the node assembled from the shared counters and
// the gossip view. Safe to call from any goroutine.
func (n *Node) Status(ctx context.Context) (*Status, error) {
	state := consensusmodule.State(n.opts.ModuleStateCounter.Get())
	toggle := consensusmodule.ToggleState(n.opts.ControlToggleCounter.Get())
	s := &Status{
		MemberID:         n.opts.MemberID,
		InstanceID:       n.opts.InstanceID,
		State:            state.String(),
		Role:             consensusmodule.Role(n.opts.RoleCounter.Get()).String(),
		LeadershipTermID: n.opts.LeadershipTermCounter.Get(),
		PendingToggle:    toggle.String(),
		ActiveSessions:   n.opts.ActiveSessionCounter.Get(),
		TimedOutSessions: n.opts.TimedOutSessionCounter.Get(),
		Errors:           n.opts.ErrorCounter.Get(),
		Healthy:          state == consensusmodule.StateActive,
	}
	if toggle != consensusmodule.ToggleNeutral {
		s.Warnings = append(s.Warnings, "control toggle pending: "+toggle.String())
	}
	if n.opts.Membership != nil {
		s.Members = n.opts.Membership.Members()
	}
	return s, nil
}

func (n *Node) statusJSON(ctx context.Context) ([]byte, error) {
	st, err := n.Status(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}

// Control arms an operator control action on the local toggle. Accepted=false
// means another action is still pending consumption by the duty cycle.
func (n *Node) Control(action string) (transport.ControlResponse, error) {
	return n.handleControl(context.Background(), transport.ControlRequest{Action: action})
}

func (n *Node) handleControl(_ context.Context, req transport.ControlRequest) (transport.ControlResponse, error) {
	toggle, err := parseAction(req.Action)
	if err != nil {
		return transport.ControlResponse{Error: err.Error()}, err
	}
	accepted := toggle.Toggle(n.opts.ControlToggleCounter)
	state := consensusmodule.State(n.opts.ModuleStateCounter.Get()).String()
	if accepted {
		obsmetrics.ClusterActions.WithLabelValues(toggle.String()).Inc()
		logutil.Infof(n.opts.Logger, "control action armed: %s (state=%s)", toggle, state)
	} else {
		logutil.Warnf(n.opts.Logger, "control action refused, toggle busy: %s", toggle)
	}
	return transport.ControlResponse{Accepted: accepted, State: state}, nil
}

func parseAction(action string) (consensusmodule.ToggleState, error) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "SUSPEND":
		return consensusmodule.ToggleSuspend, nil
	case "RESUME":
		return consensusmodule.ToggleResume, nil
	case "SNAPSHOT":
		return consensusmodule.ToggleSnapshot, nil
	case "SHUTDOWN":
		return consensusmodule.ToggleShutdown, nil
	case "ABORT":
		return consensusmodule.ToggleAbort, nil
	}
	return consensusmodule.ToggleNeutral, ErrUnknownAction
}

func (n *Node) ingressHandlers() transport.IngressHandlers {
	ad := n.opts.Adapter
	return transport.IngressHandlers{
		Connect: func(r transport.ConnectRequest) bool {
			return ad.OfferSessionConnect(r.CorrelationID, r.ResponseStreamID, r.ProtocolVersion, r.ResponseChannel, r.Credentials)
		},
		KeepAlive: func(r transport.KeepAliveRequest) bool {
			return ad.OfferSessionKeepAlive(r.SessionID, r.LeadershipTermID)
		},
		CloseSession: func(r transport.CloseSessionRequest) bool {
			return ad.OfferSessionClose(r.SessionID)
		},
		ServiceAck: func(r transport.ServiceAckRequest) bool {
			return ad.OfferServiceAck(r.LogPosition, r.Timestamp, r.AckID, r.RelevantID, r.ServiceID)
		},
		Canvass: func(r transport.CanvassRequest) bool {
			return ad.OfferCanvassPosition(r.LogLeadershipTermID, r.LogPosition, r.FollowerMemberID)
		},
	}
}

// runLoop is the single duty-cycle thread: it drains the adapter queue into
// the agent and advances the agent's own work, idling between empty cycles.
func (n *Node) runLoop(ctx context.Context) {
	defer close(n.runnerDone)
	for {
		if ctx.Err() != nil {
			break
		}
		workCount, err := n.opts.Adapter.Poll(n.opts.PollLimit)
		if err == nil {
			var agentWork int
			agentWork, err = n.opts.Agent.DoWork()
			workCount += agentWork
		}
		if err != nil {
			if errors.Is(err, consensusmodule.ErrClusterTermination) {
				logutil.Infof(n.opts.Logger, "cluster termination signalled, stopping runner")
				n.eb.publish(Event{Type: EventTerminated, At: time.Now()})
			} else {
				logutil.Errorf(n.opts.Logger, "duty cycle failed: %v", err)
			}
			break
		}
		n.opts.Idle.Idle(workCount)
	}
	n.opts.Agent.OnClose()
	n.cancel()
}

// sampleLoop mirrors the shared counters into Prometheus gauges and publishes
// state/role change events at the sampling cadence.
func (n *Node) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(n.opts.SampleInterval)
	defer ticker.Stop()
	prevState := n.opts.ModuleStateCounter.Get()
	prevRole := n.opts.RoleCounter.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := n.opts.ModuleStateCounter.Get()
			role := n.opts.RoleCounter.Get()
			obsmetrics.ModuleState.Set(float64(state))
			obsmetrics.NodeRole.Set(float64(role))
			obsmetrics.ControlToggle.Set(float64(n.opts.ControlToggleCounter.Get()))
			obsmetrics.LeadershipTerm.Set(float64(n.opts.LeadershipTermCounter.Get()))
			obsmetrics.ActiveSessions.Set(float64(n.opts.ActiveSessionCounter.Get()))
			if n.opts.Membership != nil {
				obsmetrics.GossipMembers.Set(float64(len(n.opts.Membership.Members())))
			}
			if state != prevState {
				prevState = state
				n.eb.publish(Event{
					Type:  EventStateChanged,
					At:    time.Now(),
					State: consensusmodule.State(state).String(),
				})
			}
			if role != prevRole {
				prevRole = role
				n.eb.publish(Event{
					Type: EventRoleChanged,
					At:   time.Now(),
					Role: consensusmodule.Role(role).String(),
				})
			}
		}
	}
}

// termFanoutLoop drains NewLeadershipTerm messages the agent published on the
// consensus channel and hands them to the configured consumer.
func (n *Node) termFanoutLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	handler := func(payload []byte) {
		msg, err := codec.DecodeNewLeadershipTerm(payload)
		if err != nil {
			logutil.Errorf(n.opts.Logger, "bad frame on consensus channel: %v", err)
			return
		}
		obsmetrics.TermMessagesPublished.Inc()
		logutil.Infof(n.opts.Logger, "leadership term announced: term=%d logPosition=%d truncate=%d",
			msg.LeadershipTermID, msg.LogPosition, msg.LogTruncatePosition)
		if n.opts.OnLeadershipTerm != nil {
			n.opts.OnLeadershipTerm(msg)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.opts.TermOutbound.Poll(handler, 16)
		}
	}
}

// logDrainLoop feeds committed replicated-log frames to the attached-service
// consumer and advances the log position gauge.
func (n *Node) logDrainLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	handler := func(payload []byte) {
		obsmetrics.LogPosition.Add(float64(len(payload)))
		n.opts.OnLogRecord(payload)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.opts.LogRing.Poll(handler, 64)
		}
	}
}

func (n *Node) membershipEventsLoop(ctx context.Context) {
	evch := n.opts.Membership.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-evch:
			if !ok {
				return
			}
			var et EventType
			switch e.Type {
			case membership.EventJoin:
				et = EventMemberJoin
			case membership.EventLeave:
				et = EventMemberLeave
			case membership.EventFailed:
				et = EventMemberFailed
			default:
				continue
			}
			obsmetrics.GossipMembers.Set(float64(len(n.opts.Membership.Members())))
			logutil.Infof(n.opts.Logger, "membership event: %s id=%s addr=%s", e.Type, e.Member.ID, e.Member.Addr)
			m := e.Member
			n.eb.publish(Event{Type: et, At: e.At, Member: &m})
		}
	}
}
