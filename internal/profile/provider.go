package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/header-rotator/internal/types"
	log "github.com/sirupsen/logrus"
)

// Provider holds the profile set and serves lookups by identifier. Profiles
// are immutable once loaded; Extend replaces the snapshot atomically.
type Provider struct {
	mu       sync.RWMutex
	profiles []types.Profile
	index    map[string]types.Profile
}

func NewProvider(profiles []types.Profile) *Provider {
	p := &Provider{index: make(map[string]types.Profile)}
	if len(profiles) == 0 {
		profiles = Builtin()
	}
	p.Extend(profiles)
	return p
}

// Extend merges records by ID and keeps the list ordered by weight descending
// so round-robin order stays deterministic across refreshes.
func (p *Provider) Extend(profiles []types.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, prof := range profiles {
		p.index[prof.ID] = prof
	}
	merged := make([]types.Profile, 0, len(p.index))
	for _, prof := range p.index {
		merged = append(merged, prof)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Weight != merged[j].Weight {
			return merged[i].Weight > merged[j].Weight
		}
		return merged[i].ID < merged[j].ID
	})
	p.profiles = merged
}

func (p *Provider) All() []types.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Profile, len(p.profiles))
	copy(out, p.profiles)
	return out
}

func (p *Provider) Get(id string) (types.Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prof, ok := p.index[id]
	return prof, ok
}

// FromJSONFile loads profiles from a local JSON file. The payload is either a
// bare array or an object with a "profiles" key.
func FromJSONFile(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	profiles, err := decodeProfiles(data)
	if err != nil {
		return nil, fmt.Errorf("parse profile file %s: %w", path, err)
	}
	return NewProvider(profiles), nil
}

// FromRemote fetches a profile corpus from a JSON feed. Invalid entries are
// skipped; an empty result falls back to the builtin set.
func FromRemote(ctx context.Context, url string, timeout time.Duration) (*Provider, error) {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profiles from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch profiles from %s: HTTP %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read profile feed: %w", err)
	}
	profiles, err := decodeProfiles(data)
	if err != nil {
		return nil, fmt.Errorf("parse profile feed %s: %w", url, err)
	}
	if len(profiles) == 0 {
		log.Warnf("Profile feed %s was empty, using builtin set", url)
	}
	return NewProvider(profiles), nil
}

func decodeProfiles(data []byte) ([]types.Profile, error) {
	var wrapper struct {
		Profiles []types.Profile `json:"profiles"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Profiles) > 0 {
		return validProfiles(wrapper.Profiles), nil
	}
	var bare []types.Profile
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, err
	}
	return validProfiles(bare), nil
}

func validProfiles(in []types.Profile) []types.Profile {
	out := make([]types.Profile, 0, len(in))
	for _, prof := range in {
		if prof.ID == "" || prof.UserAgent == "" {
			log.Warnf("Skipping profile with missing id or user-agent")
			continue
		}
		if prof.Weight <= 0 {
			prof.Weight = 1.0
		}
		out = append(out, prof)
	}
	return out
}
