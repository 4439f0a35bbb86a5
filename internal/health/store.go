package health

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/header-rotator/internal/config"
	"github.com/header-rotator/internal/persist"
	"github.com/header-rotator/internal/types"
	log "github.com/sirupsen/logrus"
)

const casRetries = 5

// Store tracks per-proxy and per-profile failure state through a pluggable
// persistence adapter. All mutations go through Record; reads never mutate.
type Store struct {
	adapter   persist.Adapter
	namespace string
	cfg       config.CooldownConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	nowFn func() time.Time
}

func NewStore(adapter persist.Adapter, namespace string, cfg config.CooldownConfig) *Store {
	return &Store{
		adapter:   adapter,
		namespace: namespace,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		nowFn:     time.Now,
	}
}

func (s *Store) key(kind types.Kind, id string) string {
	return fmt.Sprintf("%s:health:%s:%s", s.namespace, kind, id)
}

// Record applies one attempt outcome to the identifier's health record with a
// compare-and-set loop, so concurrent writers never lose the cooldown expiry.
// It reports whether this call transitioned the record from available to
// cooling down, which is the edge the telemetry cooldown events fire on.
func (s *Store) Record(ctx context.Context, kind types.Kind, id string, outcome types.Outcome) (bool, error) {
	key := s.key(kind, id)

	for attempt := 0; attempt < casRetries; attempt++ {
		raw, ok, err := s.adapter.Get(ctx, key)
		if err != nil {
			return false, fmt.Errorf("health get %s: %w", key, err)
		}

		var rec types.HealthRecord
		if ok {
			if err := json.Unmarshal(raw, &rec); err != nil {
				// Corrupt record: rebuild from a clean slate. The CAS below
				// still compares against the corrupt bytes so the rewrite
				// replaces them instead of losing to the stale key.
				log.Warnf("Rewriting unreadable health record %s: %v", key, err)
				rec = types.HealthRecord{}
			}
		}

		now := s.nowFn()
		wasCooling := rec.CoolingDown(now)
		s.apply(&rec, outcome, now)

		encoded, err := json.Marshal(rec)
		if err != nil {
			return false, fmt.Errorf("health marshal %s: %w", key, err)
		}

		var expected []byte
		if ok {
			expected = raw
		}
		swapped, err := s.adapter.CompareAndSet(ctx, key, expected, encoded, 0)
		if err != nil {
			return false, fmt.Errorf("health cas %s: %w", key, err)
		}
		if swapped {
			return !wasCooling && rec.CoolingDown(now), nil
		}
	}

	return false, fmt.Errorf("health record %s: gave up after %d contended writes", key, casRetries)
}

// apply mutates rec in place for the given outcome. Cooldown expiry is
// monotonic: an unexpired expiry is extended, never shortened, except by an
// explicit success.
func (s *Store) apply(rec *types.HealthRecord, outcome types.Outcome, now time.Time) {
	switch outcome {
	case types.OutcomeSuccess:
		rec.ConsecutiveFailures = 0
		rec.CooldownUntilMs = 0
		rec.TotalSuccesses++

	case types.OutcomeSoftFailure:
		rec.ConsecutiveFailures++
		rec.TotalFailures++
		rec.LastFailureMs = now.UnixMilli()
		if rec.ConsecutiveFailures >= s.cfg.FailureThreshold {
			s.extendCooldown(rec, now, s.backoff(rec.ConsecutiveFailures))
		}

	case types.OutcomeHardFailure:
		// Fast-fail path: maximum backoff immediately, regardless of count.
		rec.ConsecutiveFailures++
		rec.TotalFailures++
		rec.LastFailureMs = now.UnixMilli()
		s.extendCooldown(rec, now, time.Duration(s.cfg.BackoffCapMs)*time.Millisecond)
	}
}

func (s *Store) extendCooldown(rec *types.HealthRecord, now time.Time, d time.Duration) {
	until := now.Add(d).UnixMilli()
	if rec.CooldownUntilMs > now.UnixMilli() && rec.CooldownUntilMs >= until {
		return
	}
	rec.CooldownUntilMs = until
}

// backoff grows exponentially from the configured base once the threshold is
// crossed, capped, with uniform jitter to stagger re-entry after shared
// cooldowns.
func (s *Store) backoff(consecutive int) time.Duration {
	exp := consecutive - s.cfg.FailureThreshold
	if exp > 20 {
		exp = 20
	}
	ms := int64(s.cfg.BackoffBaseMs) << uint(exp)
	if ms > int64(s.cfg.BackoffCapMs) {
		ms = int64(s.cfg.BackoffCapMs)
	}
	if s.cfg.BackoffJitterMs > 0 {
		s.rngMu.Lock()
		ms += s.rng.Int63n(int64(s.cfg.BackoffJitterMs))
		s.rngMu.Unlock()
		if ms > int64(s.cfg.BackoffCapMs) {
			ms = int64(s.cfg.BackoffCapMs)
		}
	}
	return time.Duration(ms) * time.Millisecond
}

// Snapshot returns the current health record. A missing record reads as the
// zero value: healthy, never used.
func (s *Store) Snapshot(ctx context.Context, kind types.Kind, id string) (types.HealthRecord, error) {
	raw, ok, err := s.adapter.Get(ctx, s.key(kind, id))
	if err != nil {
		return types.HealthRecord{}, fmt.Errorf("health get: %w", err)
	}
	if !ok {
		return types.HealthRecord{}, nil
	}
	var rec types.HealthRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.HealthRecord{}, fmt.Errorf("health unmarshal: %w", err)
	}
	return rec, nil
}

// IsAvailable reports whether the identifier may be selected at the given
// instant. It is side-effect-free and called from the hot selection path.
// Backend failures degrade to available: keeping the scraping path alive
// outranks perfect health-state fidelity.
func (s *Store) IsAvailable(ctx context.Context, kind types.Kind, id string, now time.Time) bool {
	raw, ok, err := s.adapter.Get(ctx, s.key(kind, id))
	if err != nil {
		log.Warnf("Health backend unavailable for %s %s, treating as healthy: %v", kind, id, err)
		return true
	}
	if !ok {
		return true
	}
	var rec types.HealthRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return true
	}
	return !rec.CoolingDown(now)
}
