//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/bootstrap"
	httpjson "github.com/amirimatin/go-consensus/pkg/transport/httpjson"
)

// Three gossiping nodes converge on a shared membership view.
func TestThreeNodes_GossipConverges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := func(id int32, gossipBind, mgmtBind, seeds string) {
		t.Helper()
		n, err := bootstrap.Run(ctx, bootstrap.Config{
			MemberID:    id,
			ClusterName: "itest",
			MgmtBind:    mgmtBind,
			GossipBind:  gossipBind,
			Discovery:   bootstrap.DiscoveryConfig{Kind: "static", Seeds: seeds},
		})
		if err != nil {
			t.Fatalf("node %d: %v", id, err)
		}
		t.Cleanup(func() { _ = n.Close() })
	}

	start(0, "127.0.0.1:7946", "127.0.0.1:17946", "")
	start(1, "127.0.0.1:8946", "127.0.0.1:18946", "127.0.0.1:7946")
	start(2, "127.0.0.1:9946", "127.0.0.1:19946", "127.0.0.1:7946")

	cli := httpjson.NewClient(3 * time.Second)
	for _, addr := range []string{"127.0.0.1:17946", "127.0.0.1:18946", "127.0.0.1:19946"} {
		addr := addr
		waitUntil(t, 20*time.Second, func() error {
			s, err := fetchStatus(ctx, cli, addr)
			if err != nil {
				return err
			}
			if len(s.Members) != 3 {
				return errNotYet
			}
			return nil
		})
	}
}
