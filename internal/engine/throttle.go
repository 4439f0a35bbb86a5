package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/header-rotator/internal/config"
	"golang.org/x/time/rate"
)

// Throttle paces outgoing attempts and computes retry backoff. The limiter
// gates steady-state throughput across all callers of one engine; backoff is
// the per-request penalty between failed attempts.
type Throttle struct {
	cfg     config.ThrottleConfig
	limiter *rate.Limiter
}

func NewThrottle(cfg config.ThrottleConfig) *Throttle {
	t := &Throttle{cfg: cfg}
	if cfg.Enabled && cfg.RequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return t
}

// Wait blocks until the rate limiter admits the next attempt.
func (t *Throttle) Wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// Backoff returns the delay before retry number attempt (1-based), growing
// quadratically and respecting a Retry-After server hint when configured.
func (t *Throttle) Backoff(attempt int, resp *TransportResponse) time.Duration {
	delay := time.Duration(attempt*attempt*100) * time.Millisecond

	if resp != nil && t.cfg.Enabled && t.cfg.UseServerHints {
		if hint := resp.Headers.Get("Retry-After"); hint != "" {
			if seconds, err := strconv.ParseFloat(hint, 64); err == nil {
				hinted := time.Duration(seconds * float64(time.Second))
				if hinted > delay {
					delay = hinted
				}
			}
		}
	}

	const maxBackoff = 30 * time.Second
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
