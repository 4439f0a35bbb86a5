package proxy

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/header-rotator/internal/types"
	log "github.com/sirupsen/logrus"
)

// Parse turns a proxy URL into an endpoint descriptor. Bare host:port pairs
// default to the http scheme; missing ports default per scheme.
func Parse(raw string) (types.ProxyEndpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.ProxyEndpoint{}, fmt.Errorf("empty proxy URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return types.ProxyEndpoint{}, fmt.Errorf("parse proxy URL %q: %w", raw, err)
	}
	if parsed.Hostname() == "" {
		return types.ProxyEndpoint{}, fmt.Errorf("proxy URL missing hostname: %q", raw)
	}
	switch parsed.Scheme {
	case "http", "https", "socks5":
	default:
		return types.ProxyEndpoint{}, fmt.Errorf("unsupported proxy scheme: %q", parsed.Scheme)
	}

	port := 80
	switch parsed.Scheme {
	case "https":
		port = 443
	case "socks5":
		port = 1080
	}
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return types.ProxyEndpoint{}, fmt.Errorf("invalid proxy port in %q", raw)
		}
	}

	endpoint := types.ProxyEndpoint{
		Scheme: parsed.Scheme,
		Host:   parsed.Hostname(),
		Port:   port,
		Weight: 1.0,
	}
	if parsed.User != nil {
		endpoint.Username = parsed.User.Username()
		endpoint.Password, _ = parsed.User.Password()
	}
	return endpoint, nil
}

// Provider holds the current proxy pool. Descriptors are immutable; the pool
// snapshot is replaced wholesale on refresh.
type Provider struct {
	mu        sync.RWMutex
	endpoints []types.ProxyEndpoint
	index     map[string]types.ProxyEndpoint
}

func NewProvider(endpoints []types.ProxyEndpoint) *Provider {
	p := &Provider{index: make(map[string]types.ProxyEndpoint)}
	p.Replace(endpoints)
	return p
}

func (p *Provider) Replace(endpoints []types.ProxyEndpoint) {
	deduped := Deduplicate(endpoints)
	index := make(map[string]types.ProxyEndpoint, len(deduped))
	for _, ep := range deduped {
		index[ep.ID()] = ep
	}
	p.mu.Lock()
	p.endpoints = deduped
	p.index = index
	p.mu.Unlock()
}

func (p *Provider) All() []types.ProxyEndpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.ProxyEndpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

func (p *Provider) Get(id string) (types.ProxyEndpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ep, ok := p.index[id]
	return ep, ok
}

func (p *Provider) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// FromLines parses newline-delimited proxy URLs, skipping blanks, comments,
// and entries that fail to parse.
func FromLines(lines []string) []types.ProxyEndpoint {
	endpoints := make([]types.ProxyEndpoint, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ep, err := Parse(line)
		if err != nil {
			log.Debugf("Skipping proxy entry: %v", err)
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

// FromFile loads a newline-delimited proxy list from disk.
func FromFile(path string) ([]types.ProxyEndpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy file: %w", err)
	}
	return FromLines(strings.Split(string(data), "\n")), nil
}

// FromEnv loads comma-separated proxy URLs from an environment variable.
func FromEnv(envVar string) []types.ProxyEndpoint {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil
	}
	return FromLines(strings.Split(raw, ","))
}

// Deduplicate removes endpoints that share scheme/host/port, keeping the
// first occurrence.
func Deduplicate(endpoints []types.ProxyEndpoint) []types.ProxyEndpoint {
	seen := make(map[string]struct{}, len(endpoints))
	unique := make([]types.ProxyEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		id := ep.ID()
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, ep)
	}
	return unique
}
