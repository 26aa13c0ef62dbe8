//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/bootstrap"
	"github.com/amirimatin/go-consensus/pkg/transport"
	ingressgrpc "github.com/amirimatin/go-consensus/pkg/transport/grpc"
	httpjson "github.com/amirimatin/go-consensus/pkg/transport/httpjson"
)

// The node comes up ACTIVE, answers management status, arms control toggles
// and terminates once the attached service acknowledges the shutdown.
func TestNode_ControlPlaneLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := bootstrap.Run(ctx, bootstrap.Config{
		MemberID:         0,
		IngressBind:      "127.0.0.1:9520",
		MgmtBind:         "127.0.0.1:17946",
		ServiceCount:     1,
		SlowTickInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer n.Close()

	cli := httpjson.NewClient(3 * time.Second)
	waitUntil(t, 10*time.Second, func() error {
		s, err := fetchStatus(ctx, cli, "127.0.0.1:17946")
		if err != nil {
			return err
		}
		if !s.Healthy || s.State != "ACTIVE" {
			return errNotYet
		}
		return nil
	})

	// Snapshot is consumed and reset without a state change.
	resp, err := cli.PostControl(ctx, "127.0.0.1:17946", transport.ControlRequest{Action: "SNAPSHOT"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("snapshot toggle refused: %+v", resp)
	}
	waitUntil(t, 5*time.Second, func() error {
		s, err := fetchStatus(ctx, cli, "127.0.0.1:17946")
		if err != nil {
			return err
		}
		if s.PendingToggle != "NEUTRAL" || s.State != "ACTIVE" {
			return errNotYet
		}
		return nil
	})

	// Shutdown moves the module to QUITTING...
	if _, err := cli.PostControl(ctx, "127.0.0.1:17946", transport.ControlRequest{Action: "SHUTDOWN"}); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	waitUntil(t, 5*time.Second, func() error {
		st, err := n.Status(ctx)
		if err != nil {
			return err
		}
		if st.State != "QUITTING" {
			return errNotYet
		}
		return nil
	})

	// ...and the service acknowledgement over gRPC completes the termination.
	gcli := ingressgrpc.NewClient(3 * time.Second)
	defer gcli.Close()
	ack, err := gcli.ServiceAck(ctx, "127.0.0.1:9520", transport.ServiceAckRequest{ServiceID: 0})
	if err != nil {
		t.Fatalf("service ack: %v", err)
	}
	if !ack.Queued {
		t.Fatalf("service ack not queued: %+v", ack)
	}
	waitUntil(t, 5*time.Second, func() error {
		st, err := n.Status(ctx)
		if err != nil {
			return err
		}
		if st.State != "CLOSED" {
			return errNotYet
		}
		return nil
	})
}
