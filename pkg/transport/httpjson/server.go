package httpjson

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amirimatin/go-consensus/pkg/observability/tracing"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Server is a minimal HTTP server exposing the management endpoints: node
// status, operator control (suspend/resume/snapshot/shutdown/abort), health
// and Prometheus metrics. It is intended for operator tooling.
type Server struct {
	bind   string
	srv    *http.Server
	lis    net.Listener
	logger *log.Logger
	tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":8010").
func NewServer(bind string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Start launches the HTTP server and registers handlers backed by the
// provided functions. The server is shut down when the context is canceled.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc, control transport.ControlFunc) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, end := tracing.StartSpan(r.Context(), "http.status")
		defer end()
		data, err := status(ctx)
		if err != nil {
			http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	controlHandler := func(action string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if control == nil {
				http.Error(w, "control not supported", http.StatusNotImplemented)
				return
			}
			req := transport.ControlRequest{Action: action}
			if action == "" {
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
					return
				}
			}
			ctx, end := tracing.StartSpan(r.Context(), "http.control."+strings.ToLower(req.Action))
			defer end()
			resp, err := control(ctx, req)
			w.Header().Set("Content-Type", "application/json")
			if err != nil {
				if resp.Error == "" {
					resp.Error = err.Error()
				}
				w.WriteHeader(http.StatusInternalServerError)
			} else if !resp.Accepted {
				w.WriteHeader(http.StatusConflict)
			}
			_ = json.NewEncoder(w).Encode(resp)
		}
	}
	mux.HandleFunc("/control", controlHandler(""))
	mux.HandleFunc("/suspend", controlHandler("SUSPEND"))
	mux.HandleFunc("/resume", controlHandler("RESUME"))
	mux.HandleFunc("/snapshot", controlHandler("SNAPSHOT"))
	mux.HandleFunc("/shutdown", controlHandler("SHUTDOWN"))
	mux.HandleFunc("/abort", controlHandler("ABORT"))

	s.srv = &http.Server{Addr: s.bind, Handler: mux}

	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = ln
	if s.tlsCfg != nil {
		ln = tls.NewListener(ln, s.tlsCfg)
	}

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("httpjson: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the actual listen address once started, else the configured bind.
func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(c)
	s.srv = nil
	return err
}

var _ transport.ManagementServer = (*Server)(nil)
