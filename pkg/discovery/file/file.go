package file

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirimatin/go-consensus/pkg/discovery"
)

// Options configures file/ENV-based discovery.
type Options struct {
	// Path to a file containing one seed per line or a comma-separated list.
	Path string
	// Env overrides the file when the variable is set and non-empty.
	Env string
	// Refresh controls cache staleness; if zero, defaults to 5s.
	Refresh time.Duration
}

type fileSeeds struct {
	opts  Options
	mu    sync.Mutex
	last  time.Time
	mtime time.Time
	cache []string
}

// New returns a Discovery that reads seed addresses from a file, with an
// optional environment-variable override, caching between refreshes.
func New(opts Options) discovery.Discovery {
	if opts.Refresh <= 0 {
		opts.Refresh = 5 * time.Second
	}
	return &fileSeeds{opts: opts}
}

func (f *fileSeeds) Seeds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.opts.Env != "" {
		if v := strings.TrimSpace(os.Getenv(f.opts.Env)); v != "" {
			return normalize(strings.Split(v, ","))
		}
	}
	if f.opts.Path == "" {
		return nil
	}

	stat, err := os.Stat(f.opts.Path)
	if err != nil {
		return append([]string(nil), f.cache...)
	}
	now := time.Now()
	if stat.ModTime().After(f.mtime) || now.Sub(f.last) >= f.opts.Refresh {
		f.cache = loadFile(f.opts.Path)
		f.last = now
		f.mtime = stat.ModTime()
	}
	return append([]string(nil), f.cache...)
}

func loadFile(path string) []string {
	fh, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer fh.Close()
	var raw []string
	s := bufio.NewScanner(fh)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw = append(raw, strings.Split(line, ",")...)
	}
	if err := s.Err(); err != nil {
		return nil
	}
	return normalize(raw)
}

func normalize(raw []string) []string {
	set := make(map[string]struct{}, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
