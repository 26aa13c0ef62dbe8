package grpc

import (
	"context"
	"crypto/tls"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Client performs ingress and consensus calls against cluster nodes using the
// JSON codec, with cached connections per address.
type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config
	cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
		grpc.WithBlock(),
	}
	if c.tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.DialContext(ctx, target, opts...)
}

// getConn returns a managed connection, creating a manager if absent.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
	if c.cm == nil {
		c.cm = NewConnManager(30*time.Second, c.dialCtx)
	}
	return c.cm.Get(ctx, addr)
}

func (c *Client) invoke(ctx context.Context, addr, method string, req, resp interface{}) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return err
	}
	defer rel()
	return cc.Invoke(cctx, method, req, resp)
}

func (c *Client) Connect(ctx context.Context, addr string, req transport.ConnectRequest) (transport.Ack, error) {
	var resp transport.Ack
	err := c.invoke(ctx, addr, "/consensus.v1.Ingress/Connect", &req, &resp)
	return resp, err
}

func (c *Client) KeepAlive(ctx context.Context, addr string, req transport.KeepAliveRequest) (transport.Ack, error) {
	var resp transport.Ack
	err := c.invoke(ctx, addr, "/consensus.v1.Ingress/KeepAlive", &req, &resp)
	return resp, err
}

func (c *Client) CloseSession(ctx context.Context, addr string, req transport.CloseSessionRequest) (transport.Ack, error) {
	var resp transport.Ack
	err := c.invoke(ctx, addr, "/consensus.v1.Ingress/CloseSession", &req, &resp)
	return resp, err
}

func (c *Client) ServiceAck(ctx context.Context, addr string, req transport.ServiceAckRequest) (transport.Ack, error) {
	var resp transport.Ack
	err := c.invoke(ctx, addr, "/consensus.v1.Ingress/ServiceAck", &req, &resp)
	return resp, err
}

func (c *Client) Canvass(ctx context.Context, addr string, req transport.CanvassRequest) (transport.Ack, error) {
	var resp transport.Ack
	err := c.invoke(ctx, addr, "/consensus.v1.Ingress/CanvassPosition", &req, &resp)
	return resp, err
}

// Subscribe establishes the egress server-stream and invokes onEvent for every
// received session event. It blocks until the stream ends or ctx is done.
func (c *Client) Subscribe(ctx context.Context, addr, responseChannel string, onEvent func(transport.SessionEvent)) error {
	cc, rel, err := c.getConn(ctx, addr)
	if err != nil {
		return err
	}
	defer rel()
	sd := &grpc.StreamDesc{ServerStreams: true}
	cs, err := cc.NewStream(ctx, sd, "/consensus.v1.Ingress/Subscribe")
	if err != nil {
		return err
	}
	if err := cs.SendMsg(&transport.SubscribeRequest{ResponseChannel: responseChannel}); err != nil {
		return err
	}
	// close-send errors are irrelevant for a server stream
	_ = cs.CloseSend()
	for {
		var evt transport.SessionEvent
		if err := cs.RecvMsg(&evt); err != nil {
			return err
		}
		if onEvent != nil {
			onEvent(evt)
		}
	}
}

// Close releases all cached connections.
func (c *Client) Close() {
	if c.cm != nil {
		c.cm.Close()
	}
}

var _ transport.IngressClient = (*Client)(nil)
