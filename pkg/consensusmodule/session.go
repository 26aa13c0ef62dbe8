package consensusmodule

type sessionState int32

const (
	sessionConnecting sessionState = iota
	sessionConnected
	sessionClosed
)

// ClusterSession is one client connection to the cluster. Sessions are owned
// exclusively by the agent's session table; nothing outside the duty-cycle
// thread mutates them.
type ClusterSession struct {
	id               int64
	correlationID    int64
	responseStreamID int32
	protocolVersion  int32
	responseChannel  string

	openedLogPosition int64
	lastActivityMs    int64
	state             sessionState
	closeReason       CloseReason
	rejectionDetail   string
}

func newClusterSession(id, correlationID int64, responseStreamID, protocolVersion int32, responseChannel string) *ClusterSession {
	return &ClusterSession{
		id:               id,
		correlationID:    correlationID,
		responseStreamID: responseStreamID,
		protocolVersion:  protocolVersion,
		responseChannel:  responseChannel,
		state:            sessionConnecting,
	}
}

func (s *ClusterSession) ID() int64               { return s.id }
func (s *ClusterSession) CorrelationID() int64    { return s.correlationID }
func (s *ClusterSession) ResponseStreamID() int32 { return s.responseStreamID }
func (s *ClusterSession) ProtocolVersion() int32  { return s.protocolVersion }
func (s *ClusterSession) ResponseChannel() string { return s.responseChannel }

// OpenedLogPosition is the log position at which the session-open record was
// appended, zero while still connecting.
func (s *ClusterSession) OpenedLogPosition() int64 { return s.openedLogPosition }

// LastActivityMs is the cluster time of the session's last observed activity.
func (s *ClusterSession) LastActivityMs() int64 { return s.lastActivityMs }

// CloseReason is the pending or final close reason, CloseReasonNone while the
// session is healthy.
func (s *ClusterSession) CloseReason() CloseReason { return s.closeReason }

func (s *ClusterSession) open(logPosition, nowMs int64) {
	s.openedLogPosition = logPosition
	s.lastActivityMs = nowMs
	s.state = sessionConnected
}

func (s *ClusterSession) reject(reason CloseReason, detail string) {
	s.closeReason = reason
	s.rejectionDetail = detail
}

func (s *ClusterSession) close(reason CloseReason) {
	s.closeReason = reason
	s.state = sessionClosed
}

func (s *ClusterSession) isConnected() bool { return s.state == sessionConnected }

func (s *ClusterSession) timedOut(nowMs, timeoutMs int64) bool {
	return s.state == sessionConnected && nowMs-s.lastActivityMs > timeoutMs
}
