package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amirimatin/go-consensus/pkg/codec"
	"github.com/amirimatin/go-consensus/pkg/concurrent"
	"github.com/amirimatin/go-consensus/pkg/consensusmodule"
	"github.com/amirimatin/go-consensus/pkg/discovery"
	dDNS "github.com/amirimatin/go-consensus/pkg/discovery/dns"
	dFile "github.com/amirimatin/go-consensus/pkg/discovery/file"
	dStatic "github.com/amirimatin/go-consensus/pkg/discovery/static"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/members"
	"github.com/amirimatin/go-consensus/pkg/membership"
	ml "github.com/amirimatin/go-consensus/pkg/membership/memberlist"
	"github.com/amirimatin/go-consensus/pkg/node"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
	tlsx "github.com/amirimatin/go-consensus/pkg/security/tlsconfig"
	"github.com/amirimatin/go-consensus/pkg/termlog"
	"github.com/amirimatin/go-consensus/pkg/transport"
	ingressgrpc "github.com/amirimatin/go-consensus/pkg/transport/grpc"
	"github.com/amirimatin/go-consensus/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a consensus node with sensible
// defaults. Applications embed the node by providing this structure (or
// loading it from YAML) and calling Build/Run.
type Config struct {
	// MemberID is this node's id within the cluster member descriptor.
	MemberID int32 `yaml:"memberId"`
	// ClusterName prefixes the gossip node name.
	ClusterName string `yaml:"clusterName"`
	// ClusterMembers is the static member descriptor
	// (id,ingress,consensus,log,catchup,archive|...).
	ClusterMembers string `yaml:"clusterMembers"`

	// IngressBind is the gRPC ingress bind address. Empty disables ingress.
	IngressBind string `yaml:"ingressBind"`
	// MgmtBind is the HTTP management bind address. Empty disables management.
	MgmtBind string `yaml:"mgmtBind"`
	// GossipBind is the memberlist bind address. Empty disables gossip.
	GossipBind string `yaml:"gossipBind"`
	// GossipAdvertise overrides the address peers use to reach this node.
	GossipAdvertise string `yaml:"gossipAdvertise"`

	Discovery DiscoveryConfig `yaml:"discovery"`

	// DataDir holds the durable term log; empty keeps it in memory.
	DataDir string `yaml:"dataDir"`

	MaxSessions      int           `yaml:"maxSessions"`
	SessionTimeout   time.Duration `yaml:"sessionTimeout"`
	SlowTickInterval time.Duration `yaml:"slowTickInterval"`
	ServiceCount     int           `yaml:"serviceCount"`
	LogSessionID     int32         `yaml:"logSessionId"`
	LogBufferBytes   int           `yaml:"logBufferBytes"`
	TermBufferBytes  int           `yaml:"termBufferBytes"`
	IngressQueueSize int           `yaml:"ingressQueueSize"`

	TLS TLSConfig `yaml:"tls"`

	// Logger (optional). If nil, log.Default() is used.
	Logger *log.Logger `yaml:"-"`
	// Authenticator validates connect credentials. Optional.
	Authenticator consensusmodule.Authenticator `yaml:"-"`
	// TerminationHook runs when the module reaches TERMINATING.
	TerminationHook func() `yaml:"-"`
	// OnLogRecord receives every committed replicated-log frame.
	OnLogRecord func(payload []byte) `yaml:"-"`
	// OnLeadershipTerm receives drained term announcements.
	OnLeadershipTerm func(codec.NewLeadershipTerm) `yaml:"-"`
}

// DiscoveryConfig selects and configures the seed discovery backend.
type DiscoveryConfig struct {
	// Kind is "static" (default), "dns" or "file".
	Kind     string        `yaml:"kind"`
	Seeds    string        `yaml:"seeds"`
	DNSNames string        `yaml:"dnsNames"`
	DNSPort  int           `yaml:"dnsPort"`
	Refresh  time.Duration `yaml:"refresh"`
	FilePath string        `yaml:"filePath"`
	FileEnv  string        `yaml:"fileEnv"`
}

// TLSConfig enables mTLS for the ingress and management transports.
type TLSConfig struct {
	Enable     bool   `yaml:"enable"`
	CAFile     string `yaml:"caFile"`
	CertFile   string `yaml:"certFile"`
	KeyFile    string `yaml:"keyFile"`
	ServerName string `yaml:"serverName"`
	SkipVerify bool   `yaml:"skipVerify"`
}

// LoadFile reads a YAML config file.
func LoadFile(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("bootstrap: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Build assembles a node.Node from Config without starting it.
func Build(cfg Config) (*node.Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	// Durable term log
	tl := termlog.New()
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		store, err := termlog.OpenBoltStore(filepath.Join(cfg.DataDir, "termlog.db"))
		if err != nil {
			return nil, err
		}
		tl, err = termlog.NewWithStore(store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	logCap := cfg.LogBufferBytes
	if logCap <= 0 {
		logCap = 1 << 20
	}
	termCap := cfg.TermBufferBytes
	if termCap <= 0 {
		termCap = 1 << 16
	}
	logRing, err := transport.NewRingPublication(logCap)
	if err != nil {
		return nil, err
	}
	termRing, err := transport.NewRingPublication(termCap)
	if err != nil {
		return nil, err
	}

	// The log appender resumes from the recovered term's position.
	startPosition := int64(0)
	if latest, ok := tl.LatestTerm(); ok {
		startPosition = latest.LogPosition
	}

	// Counters shared between the agent, the node and external tooling.
	var (
		stateC    = concurrent.NewCounter()
		toggleC   = concurrent.NewCounter()
		roleC     = concurrent.NewCounter()
		termC     = concurrent.NewCounter()
		activeC   = concurrent.NewCounter()
		timedOutC = concurrent.NewCounter()
		errorC    = concurrent.NewCounter()
	)

	var srvTLS, cliTLS *tls.Config
	if cfg.TLS.Enable {
		topts := tlsx.Options{
			Enable:             true,
			CAFile:             cfg.TLS.CAFile,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			ServerName:         cfg.TLS.ServerName,
			InsecureSkipVerify: cfg.TLS.SkipVerify,
		}
		// Hot-reload configs allow manual rotation by replacing the files.
		if srvTLS, err = topts.ServerHotReload(); err != nil {
			return nil, err
		}
		if cliTLS, err = topts.ClientHotReload(); err != nil {
			return nil, err
		}
	}

	// The gRPC ingress server doubles as the egress publisher: events are
	// routed to the subscriber stream of the session's response channel.
	ingress := ingressgrpc.NewServer(cfg.IngressBind, cfg.MemberID)
	if srvTLS != nil {
		ingress.UseTLS(srvTLS)
	}

	agent, err := consensusmodule.NewAgent(consensusmodule.Options{
		MemberID:              cfg.MemberID,
		ClusterMembers:        cfg.ClusterMembers,
		MaxConcurrentSessions: cfg.MaxSessions,
		SessionTimeout:        cfg.SessionTimeout,
		SlowTickInterval:      cfg.SlowTickInterval,
		ServiceCount:          cfg.ServiceCount,
		LogSessionID:          cfg.LogSessionID,
		LogPublisher:          consensusmodule.NewLogAppender(logRing, startPosition),
		EgressPublisher:       ingress,
		TermPublication:       termRing,
		TermLog:               tl,

		ModuleStateCounter:     stateC,
		ControlToggleCounter:   toggleC,
		ClusterNodeRoleCounter: roleC,
		LeadershipTermCounter:  termC,
		ActiveSessionCounter:   activeC,
		TimedOutSessionCounter: timedOutC,

		ErrorHandler: func(err error) {
			obsmetrics.AgentErrors.Inc()
			logutil.Errorf(cfg.Logger, "agent fault: %v", err)
		},
		ErrorCounter: errorC,

		TerminationHook: cfg.TerminationHook,
		Authenticator:   cfg.Authenticator,
		Logger:          cfg.Logger,
	})
	if err != nil {
		_ = tl.Close()
		return nil, err
	}

	adapter := consensusmodule.NewAdapter(agent, cfg.IngressQueueSize, func(err error) {
		logutil.Errorf(cfg.Logger, "ingress fault: %v", err)
	})

	// Discovery backend
	var disc discovery.Discovery
	switch cfg.Discovery.Kind {
	case "dns":
		opts := dDNS.Options{Names: dStatic.Parse(cfg.Discovery.DNSNames), Port: cfg.Discovery.DNSPort}
		if cfg.Discovery.Refresh > 0 {
			opts.Refresh = cfg.Discovery.Refresh
		}
		disc = dDNS.New(opts)
	case "file":
		opts := dFile.Options{Path: cfg.Discovery.FilePath, Env: cfg.Discovery.FileEnv}
		if cfg.Discovery.Refresh > 0 {
			opts.Refresh = cfg.Discovery.Refresh
		}
		disc = dFile.New(opts)
	default:
		disc = dStatic.New(dStatic.Parse(cfg.Discovery.Seeds)...)
	}

	// Membership (memberlist), gossiping the descriptor id and the management
	// address so peers can map gossip members back to descriptor slots.
	var mem membership.Membership
	if cfg.GossipBind != "" {
		clusterName := cfg.ClusterName
		if clusterName == "" {
			clusterName = "consensus"
		}
		meta := map[string]string{
			membership.MetaMemberID: strconv.Itoa(int(cfg.MemberID)),
		}
		if cfg.MgmtBind != "" {
			meta[membership.MetaMgmtAddr] = cfg.MgmtBind
		}
		if cfg.ClusterMembers != "" {
			if ms, perr := members.Parse(cfg.ClusterMembers); perr == nil {
				if self, ok := members.Find(ms, cfg.MemberID); ok {
					meta[membership.MetaConsensus] = self.ConsensusEndpoint
					meta[membership.MetaIngress] = self.IngressEndpoint
				}
			}
		}
		mem, err = ml.New(ml.Options{
			NodeID:    fmt.Sprintf("%s-%d", clusterName, cfg.MemberID),
			Bind:      cfg.GossipBind,
			Advertise: cfg.GossipAdvertise,
			Meta:      meta,
			Logger:    cfg.Logger,
		})
		if err != nil {
			_ = tl.Close()
			return nil, err
		}
	}

	// Management API (HTTP + Prometheus)
	var mgmtSrv transport.ManagementServer
	var mgmtCli transport.ManagementClient
	if cfg.MgmtBind != "" {
		s := httpjson.NewServer(cfg.MgmtBind, cfg.Logger)
		if srvTLS != nil {
			s.UseTLS(srvTLS)
		}
		c := httpjson.NewClient(3 * time.Second)
		if cliTLS != nil {
			c.UseTLS(cliTLS)
		}
		mgmtSrv, mgmtCli = s, c
	}

	var ingressSrv transport.IngressServer
	if cfg.IngressBind != "" {
		ingressSrv = ingress
	}

	return node.New(node.Options{
		MemberID: cfg.MemberID,

		Agent:   agent,
		Adapter: adapter,

		Membership: mem,
		Discovery:  disc,

		Ingress:          ingressSrv,
		Management:       mgmtSrv,
		ManagementClient: mgmtCli,

		TermOutbound:     termRing,
		OnLeadershipTerm: cfg.OnLeadershipTerm,
		LogRing:          logRing,
		OnLogRecord:      cfg.OnLogRecord,

		ModuleStateCounter:     stateC,
		ControlToggleCounter:   toggleC,
		RoleCounter:            roleC,
		LeadershipTermCounter:  termC,
		ActiveSessionCounter:   activeC,
		TimedOutSessionCounter: timedOutC,
		ErrorCounter:           errorC,

		Logger: cfg.Logger,
	})
}

// Run builds and starts the node, returning the instance for lifecycle
// control. The caller is responsible for calling Close() when finished.
func Run(ctx context.Context, cfg Config) (*node.Node, error) {
	n, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		return nil, err
	}
	return n, nil
}
