package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/header-rotator/internal/health"
	"github.com/header-rotator/internal/types"
	log "github.com/sirupsen/logrus"
)

// Source re-enumerates the candidate pool, typically backed by a provider
// that reads files, env vars, or remote feeds.
type Source func(ctx context.Context) ([]Candidate, error)

// Registry owns the ordered candidate list for one kind (profiles or proxies)
// and selects from it through a rotation strategy, consulting the cooldown
// store for availability. Candidates are keyed by stable identifiers; the
// registry never stores health itself.
type Registry struct {
	kind     types.Kind
	strategy Strategy
	store    *health.Store
	source   Source

	mu         sync.RWMutex
	candidates []Candidate
}

func NewRegistry(kind types.Kind, strategy Strategy, store *health.Store, source Source) *Registry {
	return &Registry{
		kind:     kind,
		strategy: strategy,
		store:    store,
		source:   source,
	}
}

// Refresh re-queries the source and swaps in the new candidate list.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	candidates, err := r.source(ctx)
	if err != nil {
		return fmt.Errorf("refresh %s candidates: %w", r.kind, err)
	}
	r.SetCandidates(candidates)
	log.Debugf("Registry %s refreshed: %d candidates", r.kind, len(candidates))
	return nil
}

func (r *Registry) SetCandidates(candidates []Candidate) {
	r.mu.Lock()
	r.candidates = candidates
	r.mu.Unlock()
}

func (r *Registry) Candidates() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candidates)
}

// Pick selects the next candidate identifier. Entries in exclude are skipped
// for this call only; the orchestrator uses it to avoid re-picking candidates
// that already failed within the same logical request.
func (r *Registry) Pick(ctx context.Context, sessionToken string, exclude map[string]bool) (string, error) {
	candidates := r.Candidates()
	if len(candidates) == 0 {
		return "", types.ErrNoneAvailable
	}

	now := time.Now()
	view := View{
		Available: func(id string) bool {
			if exclude[id] {
				return false
			}
			return r.store.IsAvailable(ctx, r.kind, id, now)
		},
		Failures: func(id string) int {
			rec, err := r.store.Snapshot(ctx, r.kind, id)
			if err != nil {
				return 0
			}
			return rec.ConsecutiveFailures
		},
	}

	return r.strategy.Select(candidates, view, sessionToken)
}
