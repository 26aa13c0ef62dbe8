//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/bootstrap"
	tlsx "github.com/amirimatin/go-consensus/pkg/security/tlsconfig"
	"github.com/amirimatin/go-consensus/pkg/transport"
	httpjson "github.com/amirimatin/go-consensus/pkg/transport/httpjson"
)

// A TLS-enabled node serves status and control over mutual TLS, and refuses
// clients that present no certificate.
func TestTLS_ManagementPlane(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dir := t.TempDir()
	caCrt, srvCrt, srvKey, cliCrt, cliKey := mustMakeTestCerts(t, dir)

	const mgmtAddr = "127.0.0.1:27946"
	n, err := bootstrap.Run(ctx, bootstrap.Config{
		MemberID:         0,
		MgmtBind:         mgmtAddr,
		SlowTickInterval: 5 * time.Millisecond,
		TLS: bootstrap.TLSConfig{
			Enable:   true,
			CAFile:   caCrt,
			CertFile: srvCrt,
			KeyFile:  srvKey,
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer n.Close()

	topts := tlsx.Options{Enable: true, CAFile: caCrt, CertFile: cliCrt, KeyFile: cliKey}
	cliTLS, err := topts.Client()
	if err != nil {
		t.Fatalf("tls client: %v", err)
	}
	cli := httpjson.NewClient(3 * time.Second).UseTLS(cliTLS)

	waitUntil(t, 10*time.Second, func() error {
		s, err := fetchStatus(ctx, cli, mgmtAddr)
		if err != nil {
			return err
		}
		if !s.Healthy || s.State != "ACTIVE" {
			return errNotYet
		}
		return nil
	})

	resp, err := cli.PostControl(ctx, mgmtAddr, transport.ControlRequest{Action: "SNAPSHOT"})
	if err != nil {
		t.Fatalf("control over TLS: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("snapshot toggle refused: %+v", resp)
	}

	// A client without a certificate must be rejected by the handshake.
	bare := httpjson.NewClient(3 * time.Second)
	if _, err := bare.GetStatus(ctx, mgmtAddr); err == nil {
		t.Fatalf("plaintext client unexpectedly succeeded")
	}
}

func mustMakeTestCerts(t *testing.T, dir string) (caCrt, srvCrt, srvKey, cliCrt, cliKey string) {
	t.Helper()
	caPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("ca key: %v", err)
	}
	caTpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "go-consensus-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(48 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caPriv.PublicKey, caPriv)
	if err != nil {
		t.Fatalf("ca cert: %v", err)
	}
	caCrt = filepath.Join(dir, "ca.crt")
	writePEM(t, caCrt, "CERTIFICATE", caDER)

	makeLeaf := func(cn, crtName, keyName string, usage x509.ExtKeyUsage) (string, string) {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("%s key: %v", cn, err)
		}
		tpl := &x509.Certificate{
			SerialNumber: big.NewInt(time.Now().UnixNano()),
			Subject:      pkix.Name{CommonName: cn},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			ExtKeyUsage:  []x509.ExtKeyUsage{usage},
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		}
		der, err := x509.CreateCertificate(rand.Reader, tpl, caTpl, &priv.PublicKey, caPriv)
		if err != nil {
			t.Fatalf("%s cert: %v", cn, err)
		}
		crtPath := filepath.Join(dir, crtName)
		keyPath := filepath.Join(dir, keyName)
		writePEM(t, crtPath, "CERTIFICATE", der)
		writePEM(t, keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))
		return crtPath, keyPath
	}

	srvCrt, srvKey = makeLeaf("go-consensus-server", "server.crt", "server.key", x509.ExtKeyUsageServerAuth)
	cliCrt, cliKey = makeLeaf("go-consensus-client", "client.crt", "client.key", x509.ExtKeyUsageClientAuth)
	return
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: typ, Bytes: der}); err != nil {
		t.Fatalf("pem encode %s: %v", path, err)
	}
}
