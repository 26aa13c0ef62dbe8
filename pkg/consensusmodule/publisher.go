package consensusmodule

import (
	"github.com/amirimatin/go-consensus/pkg/codec"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// LogPublisher appends session-lifecycle and cluster-action records into the
// replicated log. Every method is a non-blocking attempt: a false/zero result
// signals backpressure and the caller retries on a later duty cycle.
type LogPublisher interface {
	// AppendSessionOpen returns the log position of the appended record, or
	// ok=false on backpressure.
	AppendSessionOpen(session *ClusterSession, leadershipTermID, timestampMs int64) (int64, bool)
	AppendSessionClose(session *ClusterSession, leadershipTermID, timestampMs int64) bool
	AppendClusterAction(leadershipTermID, timestampMs int64, action ClusterAction) bool
	// Position is the current log position high-water mark.
	Position() int64
}

// EgressPublisher delivers response events to a specific client session.
// A false result signals backpressure; delivery is retried by the caller.
type EgressPublisher interface {
	SendEvent(session *ClusterSession, correlationID, leadershipTermID int64, code EventCode, detail string) bool
}

// termPublisher writes NewLeadershipTerm messages into the exclusive
// consensus publication with a claim-and-commit so each message appears as one
// length-prefixed frame or not at all.
type termPublisher struct {
	pub transport.Publication
}

func (p *termPublisher) publish(msg *codec.NewLeadershipTerm) bool {
	claim, ok := p.pub.TryClaim(codec.NewLeadershipTermLength)
	if !ok {
		return false
	}
	msg.Encode(claim.Buffer())
	claim.Commit()
	return true
}

// LogAppender is the in-process LogPublisher used when the replicated log is
// carried over a local publication: records are framed with the consensus
// codec and the log position advances by the encoded length of each record.
type LogAppender struct {
	pub      transport.Publication
	position int64
}

// NewLogAppender starts an appender at the given recovered log position.
func NewLogAppender(pub transport.Publication, startPosition int64) *LogAppender {
	return &LogAppender{pub: pub, position: startPosition}
}

func (a *LogAppender) AppendSessionOpen(session *ClusterSession, leadershipTermID, timestampMs int64) (int64, bool) {
	msg := codec.SessionOpen{
		LeadershipTermID: leadershipTermID,
		CorrelationID:    session.CorrelationID(),
		ClusterSessionID: session.ID(),
		Timestamp:        timestampMs,
		ResponseStreamID: session.ResponseStreamID(),
		ResponseChannel:  session.ResponseChannel(),
	}
	claim, ok := a.pub.TryClaim(msg.EncodedLength())
	if !ok {
		return 0, false
	}
	n := msg.Encode(claim.Buffer())
	claim.Commit()
	a.position += int64(n)
	return a.position, true
}

func (a *LogAppender) AppendSessionClose(session *ClusterSession, leadershipTermID, timestampMs int64) bool {
	msg := codec.SessionClose{
		LeadershipTermID: leadershipTermID,
		ClusterSessionID: session.ID(),
		Timestamp:        timestampMs,
		CloseReason:      int32(session.CloseReason()),
	}
	claim, ok := a.pub.TryClaim(codec.SessionCloseLength)
	if !ok {
		return false
	}
	n := msg.Encode(claim.Buffer())
	claim.Commit()
	a.position += int64(n)
	return true
}

func (a *LogAppender) AppendClusterAction(leadershipTermID, timestampMs int64, action ClusterAction) bool {
	msg := codec.ClusterAction{
		LeadershipTermID: leadershipTermID,
		LogPosition:      a.position,
		Timestamp:        timestampMs,
		Action:           int32(action),
	}
	claim, ok := a.pub.TryClaim(codec.ClusterActionLength)
	if !ok {
		return false
	}
	n := msg.Encode(claim.Buffer())
	claim.Commit()
	a.position += int64(n)
	return true
}

func (a *LogAppender) Position() int64 { return a.position }

var _ LogPublisher = (*LogAppender)(nil)
