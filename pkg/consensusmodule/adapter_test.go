package consensusmodule

import (
	"errors"
	"testing"

	"github.com/amirimatin/go-consensus/pkg/codec"
)

func TestAdapterDispatchesQueuedMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.agent.SetRole(RoleLeader)
	ad := NewAdapter(f.agent, 8, nil)

	if !ad.OfferSessionConnect(7, 1, 1, "ch-7", nil) {
		t.Fatalf("connect refused by empty queue")
	}
	n, err := ad.Poll(10)
	if err != nil || n != 1 {
		t.Fatalf("poll = (%d, %v), want (1, nil)", n, err)
	}
	f.doWork(t)
	if got := f.agent.SessionCount(); got != 1 {
		t.Fatalf("session count = %d, want 1", got)
	}
}

func TestAdapterRefusesWhenQueueFull(t *testing.T) {
	f := newFixture(t, nil)
	ad := NewAdapter(f.agent, 1, nil)

	if !ad.OfferSessionClose(1) {
		t.Fatalf("first offer refused")
	}
	if ad.OfferSessionClose(2) {
		t.Fatalf("second offer accepted on a full queue")
	}
}

func TestAdapterPollPropagatesTermination(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ServiceCount = 1 })
	f.start(t)
	ToggleShutdown.Toggle(f.toggle)
	f.clock.Update(10)
	f.doWork(t)
	if f.agent.State() != StateQuitting {
		t.Fatalf("state = %s, want QUITTING", f.agent.State())
	}

	ad := NewAdapter(f.agent, 8, nil)
	ad.OfferServiceAck(0, 0, 0, 0, 0)
	if _, err := ad.Poll(10); !errors.Is(err, ErrClusterTermination) {
		t.Fatalf("poll error = %v, want ErrClusterTermination", err)
	}
}

func TestAdapterOnFrameEnqueuesCanvass(t *testing.T) {
	f := newFixture(t, nil)
	fourTerms(t, f.termLog)
	f.start(t)
	f.agent.SetRole(RoleLeader)
	ad := NewAdapter(f.agent, 8, nil)

	msg := codec.CanvassPosition{LogLeadershipTermID: 1, LogPosition: 300, FollowerMemberID: 2}
	buf := make([]byte, codec.CanvassPositionLength)
	msg.Encode(buf)
	if !ad.OnFrame(buf) {
		t.Fatalf("frame refused")
	}
	if n, err := ad.Poll(10); err != nil || n != 1 {
		t.Fatalf("poll = (%d, %v), want (1, nil)", n, err)
	}
	if n := f.termPub.Poll(func([]byte) {}, 10); n != 1 {
		t.Fatalf("published frames = %d, want 1", n)
	}
}

func TestAdapterOnFrameRoutesDecodeFaultsToSink(t *testing.T) {
	f := newFixture(t, nil)
	var sunk []error
	ad := NewAdapter(f.agent, 8, func(err error) { sunk = append(sunk, err) })

	// Truncated header.
	if !ad.OnFrame([]byte{0x01, 0x02}) {
		t.Fatalf("malformed frame should be consumed")
	}
	// Valid header, unexpected template.
	term := codec.NewLeadershipTerm{LeadershipTermID: 1}
	buf := make([]byte, codec.NewLeadershipTermLength)
	term.Encode(buf)
	ad.OnFrame(buf)

	if len(sunk) != 2 {
		t.Fatalf("sink received %d errors, want 2", len(sunk))
	}
	if n, _ := ad.Poll(10); n != 0 {
		t.Fatalf("faulty frames reached the queue: %d", n)
	}
}
