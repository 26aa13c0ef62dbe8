package transport

import "context"

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on node types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// ControlRequest asks the node to arm an operator control action
// (suspend, resume, snapshot, shutdown, abort).
type ControlRequest struct {
	Action string `json:"action"`
}

// ControlResponse reports whether the toggle was armed and the module state
// observed after the request.
type ControlResponse struct {
	Accepted bool   `json:"accepted"`
	State    string `json:"state,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ControlFunc handles operator control requests.
type ControlFunc func(ctx context.Context, req ControlRequest) (ControlResponse, error)

// ManagementServer exposes the operator endpoints (/status, /control,
// /healthz, /metrics) for tooling and intra-cluster calls.
type ManagementServer interface {
	Start(ctx context.Context, status StatusFunc, control ControlFunc) error
	Addr() string
	Stop(ctx context.Context) error
}

// ManagementClient performs management calls against other nodes.
type ManagementClient interface {
	GetStatus(ctx context.Context, addr string) ([]byte, error)
	PostControl(ctx context.Context, addr string, req ControlRequest) (ControlResponse, error)
}

// ConnectRequest is a client's session connect intent.
type ConnectRequest struct {
	CorrelationID    int64  `json:"correlationId"`
	ResponseStreamID int32  `json:"responseStreamId"`
	ProtocolVersion  int32  `json:"protocolVersion"`
	ResponseChannel  string `json:"responseChannel"`
	Credentials      []byte `json:"credentials,omitempty"`
}

// KeepAliveRequest refreshes a session's activity window.
type KeepAliveRequest struct {
	SessionID        int64 `json:"sessionId"`
	LeadershipTermID int64 `json:"leadershipTermId"`
}

// CloseSessionRequest is a client's own close request.
type CloseSessionRequest struct {
	SessionID int64 `json:"sessionId"`
}

// ServiceAckRequest is an attached service's acknowledgement of a log action.
type ServiceAckRequest struct {
	LogPosition int64 `json:"logPosition"`
	Timestamp   int64 `json:"timestamp"`
	AckID       int64 `json:"ackId"`
	RelevantID  int64 `json:"relevantId"`
	ServiceID   int32 `json:"serviceId"`
}

// CanvassRequest is a follower's report of its replicated-log progress.
type CanvassRequest struct {
	LogLeadershipTermID int64 `json:"logLeadershipTermId"`
	LogPosition         int64 `json:"logPosition"`
	FollowerMemberID    int32 `json:"followerMemberId"`
}

// Ack reports whether an ingress message was queued for the duty cycle.
// Queued=false signals backpressure; the caller should retry.
type Ack struct {
	Queued bool   `json:"queued"`
	Error  string `json:"error,omitempty"`
}

// SubscribeRequest registers an egress stream for a response channel.
type SubscribeRequest struct {
	ResponseChannel string `json:"responseChannel"`
}

// SessionEvent is one egress event delivered to a client session.
type SessionEvent struct {
	SessionID        int64  `json:"sessionId"`
	CorrelationID    int64  `json:"correlationId"`
	LeadershipTermID int64  `json:"leadershipTermId"`
	Code             string `json:"code"`
	Detail           string `json:"detail,omitempty"`
	LeaderMemberID   int32  `json:"leaderMemberId"`
}

// IngressHandlers are the node-side callbacks behind the ingress service.
// Each returns false when the duty-cycle queue refused the message.
type IngressHandlers struct {
	Connect      func(ConnectRequest) bool
	KeepAlive    func(KeepAliveRequest) bool
	CloseSession func(CloseSessionRequest) bool
	ServiceAck   func(ServiceAckRequest) bool
	Canvass      func(CanvassRequest) bool
}

// IngressServer exposes the ingress service to clients and cluster peers.
type IngressServer interface {
	Start(ctx context.Context, handlers IngressHandlers) error
	Addr() string
	Stop(ctx context.Context) error
}

// IngressClient performs session and consensus calls against a cluster node.
type IngressClient interface {
	Connect(ctx context.Context, addr string, req ConnectRequest) (Ack, error)
	KeepAlive(ctx context.Context, addr string, req KeepAliveRequest) (Ack, error)
	CloseSession(ctx context.Context, addr string, req CloseSessionRequest) (Ack, error)
	ServiceAck(ctx context.Context, addr string, req ServiceAckRequest) (Ack, error)
	Canvass(ctx context.Context, addr string, req CanvassRequest) (Ack, error)
	// Subscribe establishes a long-lived egress stream from addr and invokes
	// onEvent for each event delivered to the response channel. It blocks
	// until the stream ends or ctx is done.
	Subscribe(ctx context.Context, addr, responseChannel string, onEvent func(SessionEvent)) error
}
