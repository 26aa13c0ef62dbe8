package membership

import (
	"context"
	"strconv"
	"time"
)

// Meta keys gossiped with each node so peers can map a gossip member back to
// its slot in the cluster member descriptor and find its management endpoint.
const (
	MetaMemberID  = "member_id"
	MetaMgmtAddr  = "mgmt_addr"
	MetaConsensus = "consensus_addr"
	MetaIngress   = "ingress_addr"
)

// MemberInfo describes a cluster member as observed by the gossip layer.
type MemberInfo struct {
	ID   string
	Addr string
	Meta map[string]string
}

// DescriptorID returns the member's id within the cluster member descriptor,
// or -1 when the meta does not carry one.
func (m MemberInfo) DescriptorID() int32 {
	s, ok := m.Meta[MetaMemberID]
	if !ok {
		return -1
	}
	id, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return -1
	}
	return int32(id)
}

type EventType string

const (
	// EventJoin indicates a member joined or became visible.
	EventJoin EventType = "join"
	// EventLeave indicates a member left the cluster.
	EventLeave EventType = "leave"
	// EventFailed indicates membership marked the node as failed/unreachable.
	EventFailed EventType = "failed"
)

// Event is the translated membership change notification.
type Event struct {
	Type   EventType
	Member MemberInfo
	At     time.Time
}

// Membership is the abstraction over the underlying gossip/failure-detection
// layer. It is responsible for peer visibility, join/leave and event delivery.
type Membership interface {
	Start(ctx context.Context) error
	Join(seeds []string) error
	Local() MemberInfo
	Members() []MemberInfo
	Events() <-chan Event
	Leave() error
	Stop() error
}
