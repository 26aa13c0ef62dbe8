package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/concurrent"
	"github.com/amirimatin/go-consensus/pkg/consensusmodule"
	"github.com/amirimatin/go-consensus/pkg/termlog"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

type nopLogPublisher struct {
	position int64
}

func (p *nopLogPublisher) AppendSessionOpen(*consensusmodule.ClusterSession, int64, int64) (int64, bool) {
	p.position += 128
	return p.position, true
}

func (p *nopLogPublisher) AppendSessionClose(*consensusmodule.ClusterSession, int64, int64) bool {
	return true
}

func (p *nopLogPublisher) AppendClusterAction(int64, int64, consensusmodule.ClusterAction) bool {
	return true
}

func (p *nopLogPublisher) Position() int64 { return p.position }

type nopEgress struct{}

func (nopEgress) SendEvent(*consensusmodule.ClusterSession, int64, int64, consensusmodule.EventCode, string) bool {
	return true
}

type testNode struct {
	node    *Node
	agent   *consensusmodule.Agent
	adapter *consensusmodule.Adapter
	state   concurrent.AtomicCounter
	toggle  concurrent.AtomicCounter
	active  concurrent.AtomicCounter
}

func newTestNode(t *testing.T, serviceCount int) *testNode {
	t.Helper()
	state := concurrent.NewCounter()
	toggle := concurrent.NewCounter()
	role := concurrent.NewCounter()
	active := concurrent.NewCounter()
	termPub, err := transport.NewRingPublication(4096)
	if err != nil {
		t.Fatalf("ring publication: %v", err)
	}
	agent, err := consensusmodule.NewAgent(consensusmodule.Options{
		MemberID:               0,
		ServiceCount:           serviceCount,
		SlowTickInterval:       time.Millisecond,
		LogPublisher:           &nopLogPublisher{},
		EgressPublisher:        nopEgress{},
		TermPublication:        termPub,
		TermLog:                termlog.New(),
		ModuleStateCounter:     state,
		ControlToggleCounter:   toggle,
		ClusterNodeRoleCounter: role,
		ActiveSessionCounter:   active,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	adapter := consensusmodule.NewAdapter(agent, 16, nil)
	n, err := New(Options{
		MemberID:             0,
		Agent:                agent,
		Adapter:              adapter,
		ModuleStateCounter:   state,
		ControlToggleCounter: toggle,
		RoleCounter:          role,
		ActiveSessionCounter: active,
		SampleInterval:       10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return &testNode{node: n, agent: agent, adapter: adapter, state: state, toggle: toggle, active: active}
}

func awaitState(t *testing.T, c concurrent.AtomicCounter, want consensusmodule.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if consensusmodule.State(c.Get()) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state did not reach %s, got %s", want, consensusmodule.State(c.Get()))
}

func TestNodeControlArmsToggle(t *testing.T) {
	tn := newTestNode(t, 1)

	resp, err := tn.node.Control("SUSPEND")
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected suspend to be accepted")
	}
	if got := consensusmodule.ToggleState(tn.toggle.Get()); got != consensusmodule.ToggleSuspend {
		t.Fatalf("toggle = %s, want SUSPEND", got)
	}

	resp, err = tn.node.Control("RESUME")
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	if resp.Accepted {
		t.Fatalf("expected resume to be refused while suspend is pending")
	}
}

func TestNodeControlRejectsUnknownAction(t *testing.T) {
	tn := newTestNode(t, 1)
	if _, err := tn.node.Control("EXPLODE"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
	if got := tn.toggle.Get(); got != int64(consensusmodule.ToggleNeutral) {
		t.Fatalf("toggle disturbed by unknown action: %d", got)
	}
}

func TestNodeStartAndStatus(t *testing.T) {
	tn := newTestNode(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tn.node.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tn.node.Stop(context.Background())

	st, err := tn.node.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != "ACTIVE" {
		t.Fatalf("state = %s, want ACTIVE", st.State)
	}
	if st.Role != "FOLLOWER" {
		t.Fatalf("role = %s, want FOLLOWER", st.Role)
	}
	if !st.Healthy {
		t.Fatalf("expected healthy node")
	}
	if st.InstanceID == "" {
		t.Fatalf("expected instance id to be assigned")
	}
	if len(st.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", st.Warnings)
	}
}

func TestNodeStatusWarnsOnPendingToggle(t *testing.T) {
	tn := newTestNode(t, 1)
	if _, err := tn.node.Control("SUSPEND"); err != nil {
		t.Fatalf("control: %v", err)
	}
	st, err := tn.node.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.PendingToggle != "SUSPEND" {
		t.Fatalf("pending toggle = %s, want SUSPEND", st.PendingToggle)
	}
	if len(st.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one pending-toggle warning", st.Warnings)
	}
}

func TestNodeShutdownTerminatesRunner(t *testing.T) {
	tn := newTestNode(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := tn.node.Subscribe(ctx)
	if err := tn.node.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tn.node.Stop(context.Background())

	if _, err := tn.node.Control("SHUTDOWN"); err != nil {
		t.Fatalf("control: %v", err)
	}
	awaitState(t, tn.state, consensusmodule.StateQuitting)

	if !tn.adapter.OfferServiceAck(0, 0, 0, 0, 0) {
		t.Fatalf("service ack refused")
	}
	awaitState(t, tn.state, consensusmodule.StateClosed)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventTerminated {
				return
			}
		case <-deadline:
			t.Fatalf("terminated event not observed")
		}
	}
}

func TestNodeIngressHandlersFeedDutyCycle(t *testing.T) {
	tn := newTestNode(t, 1)
	handlers := tn.node.ingressHandlers()

	ok := handlers.Connect(transport.ConnectRequest{
		CorrelationID:    42,
		ResponseStreamID: 1,
		ProtocolVersion:  1,
		ResponseChannel:  "client-42",
	})
	if !ok {
		t.Fatalf("connect refused by adapter queue")
	}

	// Drive the duty cycle manually: the node is not started, so this test
	// owns the duty-cycle thread.
	if err := tn.agent.OnStart(); err != nil {
		t.Fatalf("agent start: %v", err)
	}
	tn.agent.SetRole(consensusmodule.RoleLeader)
	if _, err := tn.adapter.Poll(10); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if _, err := tn.agent.DoWork(); err != nil {
		t.Fatalf("do work: %v", err)
	}
	if got := tn.active.Get(); got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}
}
