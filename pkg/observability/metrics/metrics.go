package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ModuleState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "module_state",
		Help:      "Consensus module lifecycle state code (0=INIT .. 5=CLOSED)",
	})

	NodeRole = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "node_role",
		Help:      "Node role in the current term (0=FOLLOWER, 1=CANDIDATE, 2=LEADER)",
	})

	ControlToggle = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "control_toggle",
		Help:      "Pending operator control toggle code (0=NEUTRAL)",
	})

	LeadershipTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "leadership_term_id",
		Help:      "Current leadership term id",
	})

	LogPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Name:      "log_position",
		Help:      "Replicated log position high-water mark",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Connected plus connecting client sessions",
	})

	SessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "sessions",
		Name:      "closed_total",
		Help:      "Total client sessions closed, by close reason",
	}, []string{"reason"})

	SessionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "sessions",
		Name:      "rejected_total",
		Help:      "Total client connects rejected, by detail",
	}, []string{"detail"})

	ClusterActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "cluster_actions_total",
		Help:      "Total operator control actions accepted, by action",
	}, []string{"action"})

	TermMessagesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "canvass",
		Name:      "term_messages_total",
		Help:      "Total NewLeadershipTerm messages published to followers",
	})

	AgentErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Name:      "agent_errors_total",
		Help:      "Total faults recorded by the agent error sink",
	})

	IngressDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "ingress",
		Name:      "dropped_total",
		Help:      "Total ingress messages refused because the adapter queue was full",
	})

	GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "grpc_conn",
		Name:      "dials_total",
		Help:      "Total number of new gRPC connections dialed",
	})
	GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "grpc_conn",
		Name:      "reuse_total",
		Help:      "Total number of gRPC connection reuses from cache",
	})
	GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "go_consensus",
		Subsystem: "grpc_conn",
		Name:      "evictions_total",
		Help:      "Total number of cached gRPC connections evicted",
	})
	GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Subsystem: "grpc_conn",
		Name:      "active",
		Help:      "Number of active cached gRPC connections",
	})

	GossipMembers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "go_consensus",
		Subsystem: "gossip",
		Name:      "members_total",
		Help:      "Current number of gossip-visible cluster members",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(ModuleState)
		prometheus.MustRegister(NodeRole)
		prometheus.MustRegister(ControlToggle)
		prometheus.MustRegister(LeadershipTerm)
		prometheus.MustRegister(LogPosition)
		prometheus.MustRegister(ActiveSessions)
		prometheus.MustRegister(SessionsClosed)
		prometheus.MustRegister(SessionsRejected)
		prometheus.MustRegister(ClusterActions)
		prometheus.MustRegister(TermMessagesPublished)
		prometheus.MustRegister(AgentErrors)
		prometheus.MustRegister(IngressDropped)
		prometheus.MustRegister(GRPCConnDials)
		prometheus.MustRegister(GRPCConnReuse)
		prometheus.MustRegister(GRPCConnEvictions)
		prometheus.MustRegister(GRPCConnActive)
		prometheus.MustRegister(GossipMembers)
	})
}
