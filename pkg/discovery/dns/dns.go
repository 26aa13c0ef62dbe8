package dns

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amirimatin/go-consensus/pkg/discovery"
)

// Options configures DNS-based discovery.
type Options struct {
	// Names are SRV records or hostnames to resolve. Examples:
	// "_consensus._tcp.example.com" (SRV) or "node1.example.com" (A/AAAA).
	// Entries already in host:port form are passed through unresolved.
	Names []string

	// Port used when resolving A/AAAA records (no port info in the answer).
	Port int

	// Refresh controls cache staleness; if zero, defaults to 5s.
	Refresh time.Duration

	// Resolver optionally overrides the DNS resolver used.
	Resolver *net.Resolver
}

type dnsSeeds struct {
	opts  Options
	mu    sync.Mutex
	last  time.Time
	cache []string
}

// New returns a DNS-backed discovery that resolves SRV and A/AAAA names and
// caches results for the Refresh duration.
func New(opts Options) discovery.Discovery {
	if opts.Refresh <= 0 {
		opts.Refresh = 5 * time.Second
	}
	if opts.Port == 0 {
		opts.Port = 7946
	}
	return &dnsSeeds{opts: opts}
}

func (d *dnsSeeds) Seeds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.last) < d.opts.Refresh && len(d.cache) > 0 {
		return append([]string(nil), d.cache...)
	}
	d.cache = d.resolveAll(context.Background())
	d.last = time.Now()
	return append([]string(nil), d.cache...)
}

func (d *dnsSeeds) resolveAll(ctx context.Context) []string {
	seen := make(map[string]struct{})
	add := func(hp string) {
		if _, ok := seen[hp]; !ok {
			seen[hp] = struct{}{}
		}
	}
	for _, name := range d.opts.Names {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
		case strings.Contains(name, ":") && !strings.HasPrefix(name, "_"):
			add(name)
		case strings.HasPrefix(name, "_") && strings.Contains(name, "._"):
			for _, hp := range d.lookupSRV(ctx, name) {
				add(hp)
			}
		default:
			for _, hp := range d.lookupHost(ctx, name, d.opts.Port) {
				add(hp)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for hp := range seen {
		out = append(out, hp)
	}
	sort.Strings(out)
	return out
}

func (d *dnsSeeds) resolver() *net.Resolver {
	if d.opts.Resolver != nil {
		return d.opts.Resolver
	}
	return net.DefaultResolver
}

func (d *dnsSeeds) lookupSRV(ctx context.Context, fqdn string) []string {
	svc, proto, domain := parseSRVName(fqdn)
	if svc == "" {
		return nil
	}
	_, addrs, err := d.resolver().LookupSRV(ctx, svc, proto, domain)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		host := strings.TrimSuffix(a.Target, ".")
		out = append(out, net.JoinHostPort(host, strconv.Itoa(int(a.Port))))
	}
	return out
}

func (d *dnsSeeds) lookupHost(ctx context.Context, host string, port int) []string {
	ips, err := d.resolver().LookupHost(ctx, host)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.JoinHostPort(ip, strconv.Itoa(port)))
	}
	return out
}

// parseSRVName splits the _service._proto.name pattern.
func parseSRVName(fqdn string) (service, proto, name string) {
	parts := strings.SplitN(fqdn, ".", 3)
	if len(parts) < 3 {
		return "", "", ""
	}
	return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
