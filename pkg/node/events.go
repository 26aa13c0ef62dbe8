package node

import (
	"context"
	"sync"
	"time"

	"github.com/amirimatin/go-consensus/pkg/membership"
)

type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventRoleChanged  EventType = "role_changed"
	EventMemberJoin   EventType = "member_join"
	EventMemberLeave  EventType = "member_leave"
	EventMemberFailed EventType = "member_failed"
	EventTerminated   EventType = "terminated"
)

// Event is an application-consumable notification of node state changes. Only
// the fields relevant to an event type are populated.
type Event struct {
	Type   EventType
	At     time.Time
	State  string
	Role   string
	Member *membership.MemberInfo
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the consumer
// is too slow (best-effort delivery) to avoid back-pressuring internals.
func (n *Node) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 64)
	n.eb.add(ch)
	go func() {
		<-ctx.Done()
		n.eb.remove(ch)
		close(ch)
	}()
	return ch
}

// internal event bus
type eventBus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[chan Event]struct{})
	}
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
	e.mu.Lock()
	if e.subs != nil {
		delete(e.subs, ch)
	}
	e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
	e.mu.Lock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// drop if receiver is slow
		}
	}
	e.mu.Unlock()
}
