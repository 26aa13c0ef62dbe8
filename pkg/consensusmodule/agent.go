package consensusmodule

import (
	"fmt"

	"github.com/amirimatin/go-consensus/pkg/codec"
	"github.com/amirimatin/go-consensus/pkg/concurrent"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/members"
)

// Agent is the consensus-driving core of a cluster node. It owns the module
// lifecycle, supervises client sessions, answers leadership-term canvassing
// and issues control-toggle-driven actions, all from a single non-blocking
// duty cycle. Every mutation of the session table, the module state and the
// consumed side of the control toggle happens on the duty-cycle thread; the
// toggle writer and service acknowledgements reach the agent only through
// atomic counters and the synchronous dispatch entry points.
type Agent struct {
	opts   Options
	errors *concurrent.CountedErrorHandler

	moduleState State
	role        Role

	leadershipTermID int64
	logRecordingID   int64
	isStartup        bool

	clusterMembers []members.Member

	nextSessionID    int64
	pendingSessions  []*ClusterSession
	rejectedSessions []*ClusterSession
	sessionByID      map[int64]*ClusterSession

	termPublisher *termPublisher
	deferredTerms []codec.NewLeadershipTerm

	ackedServices map[int32]struct{}

	timeOfLastSlowTickMs int64
	slowTickIntervalMs   int64
	sessionTimeoutMs     int64
}

// NewAgent validates options and constructs an agent in the INIT state.
func NewAgent(opts Options) (*Agent, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		opts:               opts,
		errors:             concurrent.NewCountedErrorHandler(opts.ErrorHandler, opts.ErrorCounter),
		moduleState:        StateInit,
		role:               RoleFollower,
		nextSessionID:      1,
		sessionByID:        make(map[int64]*ClusterSession),
		ackedServices:      make(map[int32]struct{}),
		termPublisher:      &termPublisher{pub: opts.TermPublication},
		slowTickIntervalMs: opts.SlowTickInterval.Milliseconds(),
		sessionTimeoutMs:   opts.SessionTimeout.Milliseconds(),
	}
	if opts.ClusterMembers != "" {
		ms, err := members.Parse(opts.ClusterMembers)
		if err != nil {
			return nil, err
		}
		a.clusterMembers = ms
	}
	opts.ModuleStateCounter.Set(int64(StateInit))
	opts.ClusterNodeRoleCounter.Set(int64(RoleFollower))
	return a, nil
}

// OnStart recovers term metadata from the term log and activates the module.
func (a *Agent) OnStart() error {
	if latest, ok := a.opts.TermLog.LatestTerm(); ok {
		a.leadershipTermID = latest.LeadershipTermID
		a.logRecordingID = latest.RecordingID
		a.opts.LeadershipTermCounter.Set(latest.LeadershipTermID)
	}
	return a.transition(StateActive)
}

// OnClose marks the module CLOSED. Final teardown; no transition guard.
func (a *Agent) OnClose() {
	a.moduleState = StateClosed
	a.opts.ModuleStateCounter.Set(int64(StateClosed))
}

// State returns the current module state.
func (a *Agent) State() State { return a.moduleState }

// Role returns the node's role in the current term.
func (a *Agent) Role() Role { return a.role }

// SetRole is invoked by the leader-election subsystem on term transitions.
func (a *Agent) SetRole(role Role) {
	a.role = role
	a.opts.ClusterNodeRoleCounter.Set(int64(role))
}

// SetLeadershipTermID is invoked by the leader-election subsystem when a new
// term is established.
func (a *Agent) SetLeadershipTermID(termID int64) {
	a.leadershipTermID = termID
	a.opts.LeadershipTermCounter.Set(termID)
}

// LeadershipTermID returns the current leadership term id.
func (a *Agent) LeadershipTermID() int64 { return a.leadershipTermID }

// SetLogRecordingID records the archive recording that captures the log of
// the current term.
func (a *Agent) SetLogRecordingID(recordingID int64) { a.logRecordingID = recordingID }

// SessionCount returns connected plus connecting sessions.
func (a *Agent) SessionCount() int { return len(a.sessionByID) + len(a.pendingSessions) }

// DoWork advances the duty cycle: slow-tick gated supervision, pending and
// rejected session processing and deferred term publication. It never blocks;
// a non-nil error is terminal for the agent.
func (a *Agent) DoWork() (int, error) {
	workCount := 0
	nowMs := a.opts.Clock.TimeMs()

	if nowMs >= a.timeOfLastSlowTickMs+a.slowTickIntervalMs {
		a.timeOfLastSlowTickMs = nowMs
		workCount += a.slowTick(nowMs)
	}
	workCount += a.processPendingSessions(nowMs)
	workCount += a.processRejectedSessions()
	workCount += a.publishDeferredTerms()

	return workCount, nil
}

func (a *Agent) slowTick(nowMs int64) int {
	workCount := a.checkControlToggle(nowMs)
	if a.moduleState == StateActive && a.role == RoleLeader {
		workCount += a.timeoutSweep(nowMs)
	}
	return workCount
}

// checkControlToggle consumes a pending operator toggle. The toggle is reset
// to NEUTRAL only after the corresponding log append has succeeded, so a
// refused append leaves the toggle armed for the next slow tick and
// cluster-action records reach the log in toggle-observation order.
func (a *Agent) checkControlToggle(nowMs int64) int {
	toggle := ToggleState(a.opts.ControlToggleCounter.Get())
	switch toggle {
	case ToggleNeutral:
		return 0

	case ToggleSuspend:
		if a.moduleState == StateActive && a.role == RoleLeader {
			if a.opts.LogPublisher.AppendClusterAction(a.leadershipTermID, nowMs, ActionSuspend) {
				a.mustTransition(StateSuspended)
				a.resetToggle(toggle)
			}
		}

	case ToggleResume:
		if a.moduleState == StateSuspended && a.role == RoleLeader {
			if a.opts.LogPublisher.AppendClusterAction(a.leadershipTermID, nowMs, ActionResume) {
				a.mustTransition(StateActive)
				a.resetToggle(toggle)
			}
		}

	case ToggleShutdown, ToggleAbort:
		if a.moduleState == StateActive || a.moduleState == StateSuspended {
			a.mustTransition(StateQuitting)
			a.ackedServices = make(map[int32]struct{})
			a.resetToggle(toggle)
		}

	case ToggleSnapshot:
		// Snapshotting is driven by the archival subsystem, not this core.
		logutil.Warnf(a.opts.Logger, "consensusmodule: snapshot toggle ignored")
		a.resetToggle(toggle)

	default:
		a.errors.OnError(fmt.Errorf("consensusmodule: unknown control toggle %d", toggle))
		a.resetToggle(toggle)
	}
	return 1
}

func (a *Agent) resetToggle(from ToggleState) {
	if !a.opts.ControlToggleCounter.CompareAndSet(int64(from), int64(ToggleNeutral)) {
		a.errors.OnError(fmt.Errorf("consensusmodule: control toggle overwritten while pending"))
	}
}

// OnSessionConnect handles a client connect request dispatched from the
// ingress layer. The session only becomes CONNECTED once its open record has
// been durably appended by a later duty cycle.
func (a *Agent) OnSessionConnect(
	correlationID int64,
	responseStreamID int32,
	protocolVersion int32,
	responseChannel string,
	credentials []byte,
) {
	id := a.nextSessionID
	a.nextSessionID++
	session := newClusterSession(id, correlationID, responseStreamID, protocolVersion, responseChannel)
	session.lastActivityMs = a.opts.Clock.TimeMs()

	switch {
	case a.moduleState != StateActive && a.moduleState != StateSuspended:
		session.reject(CloseReasonClientAction, SessionInvalidStateMsg)
		a.rejectedSessions = append(a.rejectedSessions, session)

	case a.authRejected(credentials):
		session.reject(CloseReasonAuthenticationRejected, CloseReasonAuthenticationRejected.String())
		a.rejectedSessions = append(a.rejectedSessions, session)

	case a.SessionCount() >= a.opts.MaxConcurrentSessions:
		session.reject(CloseReasonClientAction, SessionLimitMsg)
		a.rejectedSessions = append(a.rejectedSessions, session)

	default:
		a.pendingSessions = append(a.pendingSessions, session)
	}
}

func (a *Agent) authRejected(credentials []byte) bool {
	if a.opts.Authenticator == nil {
		return false
	}
	return a.opts.Authenticator(credentials) != nil
}

// OnSessionKeepAlive refreshes a session's activity clock so the timeout
// sweep leaves it alone. Unknown session ids are ignored; the client learns
// of its closed session through the egress event already sent.
func (a *Agent) OnSessionKeepAlive(sessionID, leadershipTermID int64) {
	if session, ok := a.sessionByID[sessionID]; ok {
		session.lastActivityMs = a.opts.Clock.TimeMs()
	}
}

// OnSessionCloseRequest handles a client's own close request.
func (a *Agent) OnSessionCloseRequest(sessionID int64) {
	session, ok := a.sessionByID[sessionID]
	if !ok {
		return
	}
	nowMs := a.opts.Clock.TimeMs()
	session.closeReason = CloseReasonClientAction
	if a.opts.LogPublisher.AppendSessionClose(session, a.leadershipTermID, nowMs) {
		a.closeSession(session, CloseReasonClientAction)
	}
}

// OnServiceCloseSession handles an attached service's explicit request to
// close a session. The close is appended and the egress event sent within
// this dispatch; on append backpressure the session is marked and drained by
// the timeout machinery of later cycles.
func (a *Agent) OnServiceCloseSession(sessionID int64) {
	session, ok := a.sessionByID[sessionID]
	if !ok {
		return
	}
	nowMs := a.opts.Clock.TimeMs()
	session.closeReason = CloseReasonServiceAction
	if a.opts.LogPublisher.AppendSessionClose(session, a.leadershipTermID, nowMs) {
		a.closeSession(session, CloseReasonServiceAction)
	}
}

// OnServiceAck records one attached service's termination acknowledgement.
// Acks only count while QUITTING, at most once per service; the tally starts
// fresh on every entry into QUITTING. Once all expected services have
// acknowledged, the module transitions to TERMINATING, runs the termination
// hook and reports the distinguished termination signal to the caller. A hook
// failure goes to the counted error sink and never suppresses the signal.
func (a *Agent) OnServiceAck(logPosition, timestamp, ackID, relevantID int64, serviceID int32) error {
	if a.moduleState != StateQuitting {
		return nil
	}
	a.ackedServices[serviceID] = struct{}{}
	if len(a.ackedServices) < a.opts.ServiceCount {
		return nil
	}
	a.mustTransition(StateTerminating)
	a.runTerminationHook()
	return ErrClusterTermination
}

func (a *Agent) runTerminationHook() {
	if a.opts.TerminationHook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("consensusmodule: termination hook panic: %v", r)
			}
			a.errors.OnError(err)
		}
	}()
	a.opts.TerminationHook()
}

// OnCanvassPosition answers a follower's replicated-log progress report with
// a NewLeadershipTerm message. On publication backpressure the message is
// deferred to the next duty cycle rather than retried inline.
func (a *Agent) OnCanvassPosition(followerTermID, followerLogPosition int64, followerMemberID int32) {
	if a.role != RoleLeader {
		return
	}

	currentTerm, ok := a.opts.TermLog.FindTermEntry(a.leadershipTermID)
	if !ok {
		a.errors.OnError(fmt.Errorf("consensusmodule: no term log entry for current term %d", a.leadershipTermID))
		return
	}

	// The follower truncates any local entries beyond the position at which
	// its next term began; when the follower is already in the latest
	// recorded term the leader's live position bounds it instead.
	truncatePosition := a.opts.LogPublisher.Position()
	if next, ok := a.opts.TermLog.FindTermEntry(followerTermID + 1); ok {
		truncatePosition = next.TermBaseLogPosition
	}

	msg := codec.NewLeadershipTerm{
		LogLeadershipTermID: followerTermID,
		LogTruncatePosition: truncatePosition,
		LeadershipTermID:    a.leadershipTermID,
		TermBaseLogPosition: currentTerm.TermBaseLogPosition,
		LogPosition:         a.opts.LogPublisher.Position(),
		LeaderRecordingID:   a.logRecordingID,
		Timestamp:           currentTerm.Timestamp,
		LeaderMemberID:      a.opts.MemberID,
		LogSessionID:        a.opts.LogSessionID,
		IsStartup:           a.isStartup,
	}
	if !a.termPublisher.publish(&msg) {
		a.deferredTerms = append(a.deferredTerms, msg)
	}
}

func (a *Agent) publishDeferredTerms() int {
	workCount := 0
	remaining := a.deferredTerms[:0]
	for i := range a.deferredTerms {
		msg := a.deferredTerms[i]
		if a.termPublisher.publish(&msg) {
			workCount++
		} else {
			remaining = append(remaining, msg)
		}
	}
	a.deferredTerms = remaining
	return workCount
}

// processPendingSessions appends session-open records for CONNECTING sessions
// once this node leads the current term. Backpressure leaves the session
// pending; in-memory state is never destroyed by a refused append. Once the
// module has moved past SUSPENDED, sessions still pending are rejected instead
// of opened: only in-flight closes drain after that point.
func (a *Agent) processPendingSessions(nowMs int64) int {
	if len(a.pendingSessions) == 0 {
		return 0
	}
	if a.moduleState != StateActive && a.moduleState != StateSuspended {
		workCount := len(a.pendingSessions)
		for _, session := range a.pendingSessions {
			session.reject(CloseReasonClientAction, SessionInvalidStateMsg)
			a.rejectedSessions = append(a.rejectedSessions, session)
		}
		a.pendingSessions = a.pendingSessions[:0]
		return workCount
	}
	if a.role != RoleLeader {
		return 0
	}
	workCount := 0
	remaining := a.pendingSessions[:0]
	for _, session := range a.pendingSessions {
		logPosition, ok := a.opts.LogPublisher.AppendSessionOpen(session, a.leadershipTermID, nowMs)
		if !ok {
			remaining = append(remaining, session)
			continue
		}
		session.open(logPosition, nowMs)
		a.sessionByID[session.id] = session
		a.opts.ActiveSessionCounter.Set(int64(len(a.sessionByID)))
		workCount++
	}
	a.pendingSessions = remaining
	return workCount
}

// processRejectedSessions delivers ERROR events for sessions refused at
// connect time, retrying on egress backpressure.
func (a *Agent) processRejectedSessions() int {
	if len(a.rejectedSessions) == 0 {
		return 0
	}
	workCount := 0
	remaining := a.rejectedSessions[:0]
	for _, session := range a.rejectedSessions {
		if !a.opts.EgressPublisher.SendEvent(
			session, session.correlationID, a.leadershipTermID, EventCodeError, session.rejectionDetail) {
			remaining = append(remaining, session)
			continue
		}
		session.close(session.closeReason)
		workCount++
	}
	a.rejectedSessions = remaining
	return workCount
}

// timeoutSweep closes CONNECTED sessions whose inactivity exceeds the
// configured timeout. Runs at slow-tick cadence to bound the O(sessions) scan.
func (a *Agent) timeoutSweep(nowMs int64) int {
	workCount := 0
	for _, session := range a.sessionByID {
		if !session.timedOut(nowMs, a.sessionTimeoutMs) {
			continue
		}
		session.closeReason = CloseReasonTimeout
		if !a.opts.LogPublisher.AppendSessionClose(session, a.leadershipTermID, nowMs) {
			// Retried at the next slow tick; the session stays in the table.
			session.closeReason = CloseReasonNone
			continue
		}
		a.opts.TimedOutSessionCounter.Increment()
		a.closeSession(session, CloseReasonTimeout)
		workCount++
	}
	return workCount
}

// closeSession finalises a session whose close record has been appended: the
// egress CLOSED event is best-effort since the client may already be gone.
func (a *Agent) closeSession(session *ClusterSession, reason CloseReason) {
	session.close(reason)
	a.opts.EgressPublisher.SendEvent(
		session, session.correlationID, a.leadershipTermID, EventCodeClosed, reason.String())
	delete(a.sessionByID, session.id)
	a.opts.ActiveSessionCounter.Set(int64(len(a.sessionByID)))
}

func (a *Agent) transition(to State) error {
	if !validTransition(a.moduleState, to) {
		return fmt.Errorf("consensusmodule: invalid state transition %s -> %s", a.moduleState, to)
	}
	a.moduleState = to
	a.opts.ModuleStateCounter.Set(int64(to))
	return nil
}

func (a *Agent) mustTransition(to State) {
	if err := a.transition(to); err != nil {
		a.errors.OnError(err)
	}
}
