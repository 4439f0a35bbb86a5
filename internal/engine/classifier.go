package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/header-rotator/internal/config"
	"github.com/header-rotator/internal/types"
)

// Classifier maps raw transport outcomes onto the success/soft/hard taxonomy
// that drives the cooldown policy. Predicates come from configuration.
type Classifier struct {
	soft map[int]bool
	hard map[int]bool

	// Successful responses smaller than this are treated as ban pages.
	minBodyBytes int
}

func NewClassifier(cfg config.ClassifyConfig) *Classifier {
	c := &Classifier{
		soft:         make(map[int]bool, len(cfg.SoftStatuses)),
		hard:         make(map[int]bool, len(cfg.HardStatuses)),
		minBodyBytes: cfg.MinBodyBytes,
	}
	for _, status := range cfg.SoftStatuses {
		c.soft[status] = true
	}
	for _, status := range cfg.HardStatuses {
		c.hard[status] = true
	}
	return c
}

// Classify returns the outcome for one attempt plus a short detail string for
// telemetry. Exactly one of resp/err is expected to be set.
func (c *Classifier) Classify(resp *TransportResponse, err error) (types.Outcome, string) {
	if err != nil {
		return c.classifyError(err)
	}

	if c.hard[resp.Status] {
		return types.OutcomeHardFailure, fmt.Sprintf("HTTP %d", resp.Status)
	}
	if c.soft[resp.Status] || resp.Status >= 500 {
		return types.OutcomeSoftFailure, fmt.Sprintf("HTTP %d", resp.Status)
	}
	if resp.Status >= 200 && resp.Status < 400 {
		if c.minBodyBytes > 0 && len(resp.Body) < c.minBodyBytes {
			return types.OutcomeHardFailure, fmt.Sprintf("body %dB below threshold", len(resp.Body))
		}
		return types.OutcomeSuccess, ""
	}
	// Remaining 4xx: the target answered, the fingerprint wasn't rejected.
	return types.OutcomeSoftFailure, fmt.Sprintf("HTTP %d", resp.Status)
}

func (c *Classifier) classifyError(err error) (types.Outcome, string) {
	// A refused connection means the proxy itself is dead: fast-fail.
	if errors.Is(err, syscall.ECONNREFUSED) {
		return types.OutcomeHardFailure, "connection refused"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.OutcomeSoftFailure, "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.OutcomeSoftFailure, "timeout"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return types.OutcomeSoftFailure, "connection reset"
	}
	return types.OutcomeSoftFailure, err.Error()
}
