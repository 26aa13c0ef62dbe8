package grpc

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/go-consensus/pkg/consensusmodule"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
	"github.com/amirimatin/go-consensus/pkg/observability/tracing"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Server exposes the cluster ingress and consensus services over gRPC with a
// JSON codec, and keeps the registry of egress subscriber streams. It
// implements consensusmodule.EgressPublisher: events are routed to the stream
// registered for the session's response channel.
type Server struct {
	bind     string
	memberID int32
	lis      net.Listener
	srv      *grpc.Server
	tlsCfg   *tls.Config

	mu   sync.Mutex
	subs map[string]*egressSub
}

// NewServer binds the ingress service to the given TCP address.
func NewServer(bind string, memberID int32) *Server {
	return &Server{bind: bind, memberID: memberID, subs: make(map[string]*egressSub)}
}

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type ack = transport.Ack

// ingressServer defines the methods exposed on the wire.
type ingressServer interface {
	Connect(ctx context.Context, in *transport.ConnectRequest) (*ack, error)
	KeepAlive(ctx context.Context, in *transport.KeepAliveRequest) (*ack, error)
	CloseSession(ctx context.Context, in *transport.CloseSessionRequest) (*ack, error)
	ServiceAck(ctx context.Context, in *transport.ServiceAckRequest) (*ack, error)
	CanvassPosition(ctx context.Context, in *transport.CanvassRequest) (*ack, error)
	Subscribe(*transport.SubscribeRequest, Ingress_SubscribeServer) error
}

type ingressImpl struct {
	handlers transport.IngressHandlers
	server   *Server
}

func queuedAck(queued bool) *ack {
	a := &ack{Queued: queued}
	if !queued {
		a.Error = "ingress queue full"
		obsmetrics.IngressDropped.Inc()
	}
	return a
}

func (i *ingressImpl) Connect(ctx context.Context, in *transport.ConnectRequest) (*ack, error) {
	if in == nil {
		in = &transport.ConnectRequest{}
	}
	_, end := tracing.StartSpan(ctx, "grpc.connect")
	defer end()
	return queuedAck(i.handlers.Connect(*in)), nil
}

func (i *ingressImpl) KeepAlive(ctx context.Context, in *transport.KeepAliveRequest) (*ack, error) {
	if in == nil {
		in = &transport.KeepAliveRequest{}
	}
	return queuedAck(i.handlers.KeepAlive(*in)), nil
}

func (i *ingressImpl) CloseSession(ctx context.Context, in *transport.CloseSessionRequest) (*ack, error) {
	if in == nil {
		in = &transport.CloseSessionRequest{}
	}
	return queuedAck(i.handlers.CloseSession(*in)), nil
}

func (i *ingressImpl) ServiceAck(ctx context.Context, in *transport.ServiceAckRequest) (*ack, error) {
	if in == nil {
		in = &transport.ServiceAckRequest{}
	}
	return queuedAck(i.handlers.ServiceAck(*in)), nil
}

func (i *ingressImpl) CanvassPosition(ctx context.Context, in *transport.CanvassRequest) (*ack, error) {
	if in == nil {
		in = &transport.CanvassRequest{}
	}
	_, end := tracing.StartSpan(ctx, "grpc.canvass")
	defer end()
	return queuedAck(i.handlers.Canvass(*in)), nil
}

func (i *ingressImpl) Subscribe(req *transport.SubscribeRequest, stream Ingress_SubscribeServer) error {
	if req == nil || req.ResponseChannel == "" {
		return nil
	}
	sub := i.server.addSub(req.ResponseChannel)
	defer i.server.removeSub(req.ResponseChannel, sub)
	for {
		select {
		case evt := <-sub.events:
			if err := stream.Send(&evt); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// egressSub buffers events for one response channel. The buffer bounds how
// far a slow client may lag before SendEvent reports backpressure.
type egressSub struct {
	events chan transport.SessionEvent
}

func (s *Server) addSub(channel string) *egressSub {
	sub := &egressSub{events: make(chan transport.SessionEvent, 64)}
	s.mu.Lock()
	s.subs[channel] = sub
	s.mu.Unlock()
	return sub
}

func (s *Server) removeSub(channel string, sub *egressSub) {
	s.mu.Lock()
	if s.subs[channel] == sub {
		delete(s.subs, channel)
	}
	s.mu.Unlock()
}

// SendEvent implements consensusmodule.EgressPublisher. It never blocks: a
// missing subscriber or a full buffer reports false and the agent retries.
func (s *Server) SendEvent(session *consensusmodule.ClusterSession, correlationID, leadershipTermID int64, code consensusmodule.EventCode, detail string) bool {
	s.mu.Lock()
	sub, ok := s.subs[session.ResponseChannel()]
	s.mu.Unlock()
	if !ok {
		return false
	}
	evt := transport.SessionEvent{
		SessionID:        session.ID(),
		CorrelationID:    correlationID,
		LeadershipTermID: leadershipTermID,
		Code:             code.String(),
		Detail:           detail,
		LeaderMemberID:   s.memberID,
	}
	select {
	case sub.events <- evt:
		switch code {
		case consensusmodule.EventCodeClosed:
			obsmetrics.SessionsClosed.WithLabelValues(detail).Inc()
		case consensusmodule.EventCodeError:
			obsmetrics.SessionsRejected.WithLabelValues(detail).Inc()
		}
		return true
	default:
		return false
	}
}

var _ consensusmodule.EgressPublisher = (*Server)(nil)
var _ transport.IngressServer = (*Server)(nil)

// Service descriptor and handlers (hand-written, no codegen required)
var _Ingress_serviceDesc = grpc.ServiceDesc{
	ServiceName: "consensus.v1.Ingress",
	HandlerType: (*ingressServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Connect", Handler: _Ingress_Connect_Handler},
		{MethodName: "KeepAlive", Handler: _Ingress_KeepAlive_Handler},
		{MethodName: "CloseSession", Handler: _Ingress_CloseSession_Handler},
		{MethodName: "ServiceAck", Handler: _Ingress_ServiceAck_Handler},
		{MethodName: "CanvassPosition", Handler: _Ingress_CanvassPosition_Handler},
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		ServerStreams: true,
		Handler:       _Ingress_Subscribe_Handler,
	}},
}

func _Ingress_Connect_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.ConnectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).Connect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Ingress/Connect"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).Connect(ctx, req.(*transport.ConnectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_KeepAlive_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.KeepAliveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).KeepAlive(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Ingress/KeepAlive"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).KeepAlive(ctx, req.(*transport.KeepAliveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_CloseSession_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.CloseSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).CloseSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Ingress/CloseSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).CloseSession(ctx, req.(*transport.CloseSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_ServiceAck_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.ServiceAckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).ServiceAck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Ingress/ServiceAck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).ServiceAck(ctx, req.(*transport.ServiceAckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Ingress_CanvassPosition_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.CanvassRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).CanvassPosition(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Ingress/CanvassPosition"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ingressServer).CanvassPosition(ctx, req.(*transport.CanvassRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type Ingress_SubscribeServer interface {
	Send(*transport.SessionEvent) error
	grpc.ServerStream
}

type ingressSubscribeServer struct{ grpc.ServerStream }

func (x *ingressSubscribeServer) Send(m *transport.SessionEvent) error {
	return x.ServerStream.SendMsg(m)
}

func _Ingress_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(transport.SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ingressServer).Subscribe(m, &ingressSubscribeServer{stream})
}

// Start launches the gRPC server with the given ingress handlers. The server
// is shut down when the context is canceled.
func (s *Server) Start(ctx context.Context, handlers transport.IngressHandlers) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis
	// Force JSON codec to avoid requiring protobuf types
	var opts []grpc.ServerOption
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	// keepalive settings for long-lived egress streams
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	s.srv = srv

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	srv.RegisterService(&_Ingress_serviceDesc, &ingressImpl{handlers: handlers, server: s})

	go func() {
		<-ctx.Done()
		ch := make(chan struct{})
		go func() { srv.GracefulStop(); close(ch) }()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			srv.Stop()
		}
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}

// Addr returns the actual listen address once started, else the configured bind.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { s.srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		s.srv.Stop()
	}
	s.srv = nil
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}
