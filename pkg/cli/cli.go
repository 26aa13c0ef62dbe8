package cli

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amirimatin/go-consensus/pkg/bootstrap"
	tracing "github.com/amirimatin/go-consensus/pkg/observability/tracing"
	tlsx "github.com/amirimatin/go-consensus/pkg/security/tlsconfig"
	"github.com/amirimatin/go-consensus/pkg/transport"
	"github.com/amirimatin/go-consensus/pkg/transport/httpjson"
)

// AddAll attaches node subcommands (run/status/suspend/resume/snapshot/
// shutdown/abort) to the provided root command.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
	for _, action := range controlActions {
		root.AddCommand(newControlCmd(action))
	}
}

// NewConsensusCommand returns a parent command "consensus" containing the node
// subcommands.
func NewConsensusCommand() *cobra.Command {
	parent := &cobra.Command{Use: "consensus", Short: "consensus node commands"}
	AddAll(parent)
	return parent
}

// NewRunCmd returns the "run" command used to start a consensus node.
func NewRunCmd() *cobra.Command {
	var (
		configPath                                        string
		memberID                                          int32
		clusterName, members                              string
		ingressBind, mgmtBind, gossipBind, gossipAdv      string
		discoveryKind, seedsCSV, dnsNames, filePath, fEnv string
		dnsPort                                           int
		discRefresh                                       time.Duration
		dataDir                                           string
		sessionTimeout, slowTick                          time.Duration
		maxSessions, serviceCount                         int
		tlsEnable, tlsSkip, traceEnable                   bool
		tlsCA, tlsCert, tlsKey, tlsServerName             string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a consensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if traceEnable {
				shutdown, err := tracing.Setup(true)
				if err != nil {
					log.Printf("tracing setup error: %v", err)
				} else {
					defer func() { _ = shutdown(context.Background()) }()
				}
			}

			var cfg bootstrap.Config
			if configPath != "" {
				var err error
				cfg, err = bootstrap.LoadFile(configPath)
				if err != nil {
					return err
				}
			} else {
				cfg = bootstrap.Config{
					MemberID:         memberID,
					ClusterName:      clusterName,
					ClusterMembers:   members,
					IngressBind:      ingressBind,
					MgmtBind:         mgmtBind,
					GossipBind:       gossipBind,
					GossipAdvertise:  gossipAdv,
					DataDir:          dataDir,
					MaxSessions:      maxSessions,
					SessionTimeout:   sessionTimeout,
					SlowTickInterval: slowTick,
					ServiceCount:     serviceCount,
					Discovery: bootstrap.DiscoveryConfig{
						Kind:     discoveryKind,
						Seeds:    seedsCSV,
						DNSNames: dnsNames,
						DNSPort:  dnsPort,
						Refresh:  discRefresh,
						FilePath: filePath,
						FileEnv:  fEnv,
					},
					TLS: bootstrap.TLSConfig{
						Enable:     tlsEnable,
						CAFile:     tlsCA,
						CertFile:   tlsCert,
						KeyFile:    tlsKey,
						ServerName: tlsServerName,
						SkipVerify: tlsSkip,
					},
				}
			}
			cfg.Logger = log.Default()

			n, err := bootstrap.Run(ctx, cfg)
			if err != nil {
				return err
			}
			defer n.Close()

			fmt.Println("consensus node running. Press Ctrl+C to exit.")
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file; flags are ignored when set")
	cmd.Flags().Int32Var(&memberID, "member-id", 0, "member id within the cluster descriptor")
	cmd.Flags().StringVar(&clusterName, "cluster-name", "consensus", "cluster name (gossip prefix)")
	cmd.Flags().StringVar(&members, "members", "", "cluster member descriptor (id,ingress,consensus,log,catchup,archive|...)")
	cmd.Flags().StringVar(&ingressBind, "ingress-bind", ":9520", "gRPC ingress bind addr (tcp)")
	cmd.Flags().StringVar(&mgmtBind, "mgmt-bind", ":17946", "management HTTP bind addr (tcp)")
	cmd.Flags().StringVar(&gossipBind, "gossip-bind", ":7946", "membership bind addr (host:port)")
	cmd.Flags().StringVar(&gossipAdv, "gossip-adv", "", "membership advertise addr (host:port, optional)")
	cmd.Flags().StringVar(&discoveryKind, "discovery", "static", "discovery backend: static|dns|file")
	cmd.Flags().StringVar(&seedsCSV, "join", "", "comma-separated seed nodes (host:port) — used by discovery=static")
	cmd.Flags().StringVar(&dnsNames, "dns-names", "", "comma-separated DNS names or SRV records (e.g., _consensus._tcp.example.com)")
	cmd.Flags().IntVar(&dnsPort, "dns-port", 7946, "port used for A/AAAA lookups")
	cmd.Flags().DurationVar(&discRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
	cmd.Flags().StringVar(&filePath, "file-path", "", "path to a file with seeds (one per line or CSV)")
	cmd.Flags().StringVar(&fEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
	cmd.Flags().StringVar(&dataDir, "data", "", "data dir for the durable term log (empty: in-memory)")
	cmd.Flags().DurationVar(&sessionTimeout, "session-timeout", 0, "client session inactivity timeout (0: default)")
	cmd.Flags().DurationVar(&slowTick, "slow-tick", 0, "slow tick interval (0: default)")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "max concurrent client sessions (0: default)")
	cmd.Flags().IntVar(&serviceCount, "service-count", 0, "attached service count (0: default)")
	cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for ingress and management transports")
	cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to node certificate (PEM)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to node private key (PEM)")
	cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
	cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
	cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
	return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch node status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			client := httpjson.NewClient(timeout)
			data, err := client.GetStatus(ctx, addr)
			if err != nil {
				return fmt.Errorf("status error: %w", err)
			}
			os.Stdout.Write(data)
			if len(data) == 0 || data[len(data)-1] != '\n' {
				os.Stdout.Write([]byte("\n"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management HTTP address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

var controlActions = []string{"suspend", "resume", "snapshot", "shutdown", "abort"}

// newControlCmd returns a command that arms one operator control action on the
// target node's toggle.
func newControlCmd(action string) *cobra.Command {
	var (
		addr                                  string
		timeout                               time.Duration
		tlsEnable, tlsSkip                    bool
		tlsCA, tlsCert, tlsKey, tlsServerName string
	)
	cmd := &cobra.Command{
		Use:   action,
		Short: fmt.Sprintf("Arm the %s control action on a node", action),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cliTLS *tls.Config
			if tlsEnable {
				topts := tlsx.Options{
					Enable:             true,
					CAFile:             tlsCA,
					CertFile:           tlsCert,
					KeyFile:            tlsKey,
					ServerName:         tlsServerName,
					InsecureSkipVerify: tlsSkip,
				}
				var err error
				cliTLS, err = topts.Client()
				if err != nil {
					return fmt.Errorf("tls client config: %w", err)
				}
			}
			client := httpjson.NewClient(timeout)
			if cliTLS != nil {
				client.UseTLS(cliTLS)
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			resp, err := client.PostControl(ctx, addr, transport.ControlRequest{Action: action})
			if err != nil {
				return fmt.Errorf("%s error: %w", action, err)
			}
			if !resp.Accepted {
				fmt.Fprintf(os.Stderr, "%s refused: another control action is pending\n", action)
			}
			return json.NewEncoder(os.Stdout).Encode(resp)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for the management transport")
	cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to client certificate (PEM)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to client private key (PEM)")
	cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
	cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx, cancel
}
