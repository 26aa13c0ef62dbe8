// Package tlsconfig builds mutual-TLS configurations for the ingress and
// management transports from file-based PEM material.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// certCacheTTL bounds how stale a cached key pair may be before the next
// handshake re-reads it from disk. Rotation is therefore a file replace.
const certCacheTTL = 10 * time.Second

// Options defines mTLS configuration inputs.
type Options struct {
	Enable             bool
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
	ServerName         string
}

func loadPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tls: no certificates found in %s", caFile)
	}
	return pool, nil
}

// Server returns a tls.Config for servers if enabled, otherwise nil. When a
// CA bundle is given, client certificates are required and verified.
func (o Options) Server() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, errors.New("tls: server cert/key required when TLS enabled")
	}
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if o.CAFile != "" {
		pool, err := loadPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// Client returns a tls.Config for clients if enabled, otherwise nil.
func (o Options) Client() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	cfg := &tls.Config{
		InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec
		ServerName:         o.ServerName,
	}
	if o.CAFile != "" {
		pool, err := loadPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if o.CertFile != "" && o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// certCache lazily loads a key pair from disk and serves it for certCacheTTL
// before re-reading, so rotated files take effect without a restart.
type certCache struct {
	certFile string
	keyFile  string

	mu     sync.RWMutex
	cached *tls.Certificate
	loaded time.Time
}

func (c *certCache) get() (*tls.Certificate, error) {
	c.mu.RLock()
	if c.cached != nil && time.Since(c.loaded) < certCacheTTL {
		cert := *c.cached
		c.mu.RUnlock()
		return &cert, nil
	}
	c.mu.RUnlock()

	cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cached = &cert
	c.loaded = time.Now()
	c.mu.Unlock()
	return &cert, nil
}

// ServerHotReload returns a server tls.Config whose certificate is re-read
// from disk on handshake (bounded by certCacheTTL). The CA pool is loaded
// once.
func (o Options) ServerHotReload() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, errors.New("tls: server cert/key required when TLS enabled")
	}
	cfg := &tls.Config{}
	if o.CAFile != "" {
		pool, err := loadPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	cache := &certCache{certFile: o.CertFile, keyFile: o.KeyFile}
	cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return cache.get()
	}
	return cfg, nil
}

// ClientHotReload returns a client tls.Config whose certificate is re-read
// from disk on demand. CA roots are loaded once.
func (o Options) ClientHotReload() (*tls.Config, error) {
	if !o.Enable {
		return nil, nil
	}
	cfg := &tls.Config{
		InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec
		ServerName:         o.ServerName,
	}
	if o.CAFile != "" {
		pool, err := loadPool(o.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return cfg, nil
	}
	cache := &certCache{certFile: o.CertFile, keyFile: o.KeyFile}
	cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		return cache.get()
	}
	return cfg, nil
}
