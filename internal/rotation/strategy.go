package rotation

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/header-rotator/internal/types"
)

// Candidate is one selectable entry: a profile or proxy identifier with its
// static weight.
type Candidate struct {
	ID     string
	Weight float64
}

// View is the health snapshot a strategy consults during selection. Both
// funcs must be side-effect-free and safe under concurrent calls.
type View struct {
	Available func(id string) bool
	Failures  func(id string) int
}

// Strategy picks the next candidate. Implementations must guarantee progress:
// if at least one candidate is available they return one, and they return
// types.ErrNoneAvailable only when the whole pool is cooling down. The session
// token is ignored by everything except Sticky.
type Strategy interface {
	Select(candidates []Candidate, view View, sessionToken string) (string, error)
}

// New builds a strategy by config name. A zero seed falls back to the given
// default source; tests pass a fixed seed for deterministic tie-breaks.
func New(name string, seed int64, bindings *Bindings) (Strategy, error) {
	rng := rand.New(rand.NewSource(seed))
	switch name {
	case "round_robin":
		return NewRoundRobin(), nil
	case "weighted":
		return NewWeighted(rng), nil
	case "random":
		return NewRandom(rng), nil
	case "sticky":
		return NewSticky(bindings, NewWeighted(rng)), nil
	default:
		return nil, fmt.Errorf("unknown rotation strategy: %s", name)
	}
}

// RoundRobin walks the ordered candidate list with a wrapping cursor,
// skipping unavailable entries.
type RoundRobin struct {
	mu     sync.Mutex
	cursor int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Select(candidates []Candidate, view View, _ string) (string, error) {
	total := len(candidates)
	if total == 0 {
		return "", types.ErrNoneAvailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < total; i++ {
		c := candidates[r.cursor%total]
		r.cursor = (r.cursor + 1) % total
		if view.Available(c.ID) {
			return c.ID, nil
		}
	}
	return "", types.ErrNoneAvailable
}

// Weighted draws proportionally to each candidate's weight scaled down by its
// recent consecutive failures, so flaky entries are picked less often before
// they ever hit cooldown.
type Weighted struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewWeighted(rng *rand.Rand) *Weighted {
	return &Weighted{rng: rng}
}

func (w *Weighted) Select(candidates []Candidate, view View, _ string) (string, error) {
	type scored struct {
		id     string
		weight float64
	}
	pool := make([]scored, 0, len(candidates))
	total := 0.0
	for _, c := range candidates {
		if !view.Available(c.ID) {
			continue
		}
		weight := c.Weight
		if weight <= 0 {
			weight = 1.0
		}
		weight /= float64(1 + view.Failures(c.ID))
		pool = append(pool, scored{id: c.ID, weight: weight})
		total += weight
	}
	if len(pool) == 0 {
		return "", types.ErrNoneAvailable
	}

	w.mu.Lock()
	threshold := w.rng.Float64() * total
	w.mu.Unlock()

	cumulative := 0.0
	for _, s := range pool {
		cumulative += s.weight
		if cumulative >= threshold {
			return s.id, nil
		}
	}
	return pool[len(pool)-1].id, nil
}

// Random picks uniformly among available candidates.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (r *Random) Select(candidates []Candidate, view View, _ string) (string, error) {
	pool := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if view.Available(c.ID) {
			pool = append(pool, c.ID)
		}
	}
	if len(pool) == 0 {
		return "", types.ErrNoneAvailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return pool[r.rng.Intn(len(pool))], nil
}

// Sticky returns the candidate previously bound to the session token while it
// is still available, otherwise delegates and rebinds. Without a token it
// behaves like its delegate.
type Sticky struct {
	bindings *Bindings
	delegate Strategy
}

func NewSticky(bindings *Bindings, delegate Strategy) *Sticky {
	return &Sticky{bindings: bindings, delegate: delegate}
}

func (s *Sticky) Select(candidates []Candidate, view View, sessionToken string) (string, error) {
	if sessionToken != "" && s.bindings != nil {
		if bound, ok := s.bindings.Get(sessionToken); ok {
			for _, c := range candidates {
				if c.ID == bound && view.Available(c.ID) {
					return c.ID, nil
				}
			}
		}
	}

	chosen, err := s.delegate.Select(candidates, view, sessionToken)
	if err != nil {
		return "", err
	}
	if sessionToken != "" && s.bindings != nil {
		s.bindings.Bind(sessionToken, chosen)
	}
	return chosen, nil
}
