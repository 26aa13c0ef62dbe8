//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/concurrent"
	"github.com/amirimatin/go-consensus/pkg/consensusmodule"
	"github.com/amirimatin/go-consensus/pkg/node"
	"github.com/amirimatin/go-consensus/pkg/termlog"
	"github.com/amirimatin/go-consensus/pkg/transport"
	ingressgrpc "github.com/amirimatin/go-consensus/pkg/transport/grpc"
)

type sessionFixture struct {
	node    *node.Node
	active  concurrent.AtomicCounter
	ingress *ingressgrpc.Server
}

func startLeaderNode(t *testing.T, ctx context.Context, bind string, auth consensusmodule.Authenticator) *sessionFixture {
	t.Helper()
	var (
		state  = concurrent.NewCounter()
		toggle = concurrent.NewCounter()
		role   = concurrent.NewCounter()
		active = concurrent.NewCounter()
	)
	logRing, err := transport.NewRingPublication(1 << 20)
	if err != nil {
		t.Fatalf("log ring: %v", err)
	}
	termRing, err := transport.NewRingPublication(1 << 16)
	if err != nil {
		t.Fatalf("term ring: %v", err)
	}
	ingress := ingressgrpc.NewServer(bind, 0)
	agent, err := consensusmodule.NewAgent(consensusmodule.Options{
		MemberID:               0,
		SlowTickInterval:       5 * time.Millisecond,
		LogPublisher:           consensusmodule.NewLogAppender(logRing, 0),
		EgressPublisher:        ingress,
		TermPublication:        termRing,
		TermLog:                termlog.New(),
		ModuleStateCounter:     state,
		ControlToggleCounter:   toggle,
		ClusterNodeRoleCounter: role,
		ActiveSessionCounter:   active,
		Authenticator:          auth,
	})
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	agent.SetRole(consensusmodule.RoleLeader)
	adapter := consensusmodule.NewAdapter(agent, 64, nil)
	n, err := node.New(node.Options{
		MemberID:             0,
		Agent:                agent,
		Adapter:              adapter,
		Ingress:              ingress,
		ModuleStateCounter:   state,
		ControlToggleCounter: toggle,
		RoleCounter:          role,
		ActiveSessionCounter: active,
	})
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	if err := n.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
	return &sessionFixture{node: n, active: active, ingress: ingress}
}

func subscribeEvents(ctx context.Context, t *testing.T, cli *ingressgrpc.Client, addr, channel string) <-chan transport.SessionEvent {
	t.Helper()
	events := make(chan transport.SessionEvent, 16)
	go func() {
		err := cli.Subscribe(ctx, addr, channel, func(e transport.SessionEvent) {
			events <- e
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("subscribe ended: %v", err)
		}
	}()
	// allow the stream to register before the first event is produced
	time.Sleep(300 * time.Millisecond)
	return events
}

func TestSession_ConnectAndClientCloseOverGRPC(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const addr = "127.0.0.1:9620"
	fx := startLeaderNode(t, ctx, addr, nil)
	_ = fx

	cli := ingressgrpc.NewClient(3 * time.Second)
	defer cli.Close()
	events := subscribeEvents(ctx, t, cli, addr, "cli-1")

	ack, err := cli.Connect(ctx, addr, transport.ConnectRequest{
		CorrelationID:    7,
		ResponseStreamID: 1,
		ProtocolVersion:  1,
		ResponseChannel:  "cli-1",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !ack.Queued {
		t.Fatalf("connect not queued: %+v", ack)
	}
	waitUntil(t, 5*time.Second, func() error {
		if fx.active.Get() != 1 {
			return errNotYet
		}
		return nil
	})

	if _, err := cli.CloseSession(ctx, addr, transport.CloseSessionRequest{SessionID: 1}); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case evt := <-events:
		if evt.Code != "CLOSED" || evt.Detail != "CLIENT_ACTION" || evt.SessionID != 1 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("CLOSED event not delivered")
	}
	waitUntil(t, 5*time.Second, func() error {
		if fx.active.Get() != 0 {
			return errNotYet
		}
		return nil
	})
}

func TestSession_RejectedCredentialsProduceErrorEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const addr = "127.0.0.1:9621"
	auth := func(credentials []byte) error {
		return errors.New("bad credentials")
	}
	startLeaderNode(t, ctx, addr, auth)

	cli := ingressgrpc.NewClient(3 * time.Second)
	defer cli.Close()
	events := subscribeEvents(ctx, t, cli, addr, "cli-2")

	ack, err := cli.Connect(ctx, addr, transport.ConnectRequest{
		CorrelationID:   11,
		ResponseChannel: "cli-2",
		Credentials:     []byte("wrong"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !ack.Queued {
		t.Fatalf("connect not queued: %+v", ack)
	}

	select {
	case evt := <-events:
		if evt.Code != "ERROR" || evt.Detail != "AUTHENTICATION_REJECTED" || evt.CorrelationID != 11 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ERROR event not delivered")
	}
}
