package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	data := []byte(`
memberId: 2
clusterName: orders
clusterMembers: "0,a:1,a:2,a:3,a:4,a:5|1,b:1,b:2,b:3,b:4,b:5|2,c:1,c:2,c:3,c:4,c:5"
ingressBind: ":9520"
mgmtBind: ":17946"
gossipBind: ":7946"
sessionTimeout: 5s
serviceCount: 2
discovery:
  kind: static
  seeds: "10.0.0.1:7946,10.0.0.2:7946"
tls:
  enable: false
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MemberID != 2 {
		t.Fatalf("memberId = %d, want 2", cfg.MemberID)
	}
	if cfg.ClusterName != "orders" {
		t.Fatalf("clusterName = %q", cfg.ClusterName)
	}
	if cfg.SessionTimeout != 5*time.Second {
		t.Fatalf("sessionTimeout = %v, want 5s", cfg.SessionTimeout)
	}
	if cfg.ServiceCount != 2 {
		t.Fatalf("serviceCount = %d, want 2", cfg.ServiceCount)
	}
	if cfg.Discovery.Kind != "static" || cfg.Discovery.Seeds == "" {
		t.Fatalf("discovery not parsed: %+v", cfg.Discovery)
	}
	if cfg.TLS.Enable {
		t.Fatalf("tls should be disabled")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestBuildMinimal(t *testing.T) {
	n, err := Build(Config{MemberID: 0})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if n == nil {
		t.Fatalf("nil node")
	}
}

func TestBuildWithDurableTermLog(t *testing.T) {
	dir := t.TempDir()
	n, err := Build(Config{MemberID: 1, DataDir: dir})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if n == nil {
		t.Fatalf("nil node")
	}
	if _, err := os.Stat(filepath.Join(dir, "termlog.db")); err != nil {
		t.Fatalf("term log store not created: %v", err)
	}
}

func TestBuildRejectsBadDescriptor(t *testing.T) {
	if _, err := Build(Config{MemberID: 9, ClusterMembers: "not-a-descriptor"}); err == nil {
		t.Fatalf("expected descriptor parse error")
	}
}
