//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	httpjson "github.com/amirimatin/go-consensus/pkg/transport/httpjson"
)

// nodeStatus mirrors the management /status payload.
type nodeStatus struct {
	MemberID         int32  `json:"memberId"`
	InstanceID       string `json:"instanceId"`
	State            string `json:"state"`
	Role             string `json:"role"`
	LeadershipTermID int64  `json:"leadershipTermId"`
	PendingToggle    string `json:"pendingToggle"`
	ActiveSessions   int64  `json:"activeSessions"`
	Healthy          bool   `json:"healthy"`
	Members          []struct {
		ID string `json:"ID"`
	} `json:"members"`
}

var errNotYet = &temporaryError{}

type temporaryError struct{}

func (e *temporaryError) Error() string { return "not yet" }

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last error
	for time.Now().Before(deadline) {
		if err := fn(); err == nil {
			return
		} else {
			last = err
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition: %v", last)
}

func fetchStatus(ctx context.Context, cli *httpjson.Client, addr string) (nodeStatus, error) {
	var s nodeStatus
	b, err := cli.GetStatus(ctx, addr)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	return s, nil
}
