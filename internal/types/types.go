package types

import (
	"errors"
	"fmt"
	"time"
)

// Kind namespaces health records so proxy and profile state never collide.
type Kind string

const (
	KindProxy   Kind = "proxy"
	KindProfile Kind = "profile"
)

// Outcome classifies the result of one transport attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeSoftFailure Outcome = "soft_failure"
	OutcomeHardFailure Outcome = "hard_failure"
)

// Header is a single name/value pair. Profiles keep headers ordered because
// real browsers send them in a stable order and some targets fingerprint it.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Locale carries the language/geo metadata attached to a profile.
type Locale struct {
	Language string `json:"language"` // Accept-Language value, e.g. "en-US,en;q=0.9"
	Country  string `json:"country,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Profile is an immutable browser fingerprint: user-agent, ordered header
// template, and locale. Health for a profile is tracked separately under its ID.
type Profile struct {
	ID        string   `json:"id"`
	UserAgent string   `json:"user_agent"`
	Headers   []Header `json:"headers"`
	Locale    Locale   `json:"locale"`
	Weight    float64  `json:"weight"`
}

// HeaderMap materializes the template in order, prepending the profile's
// user-agent and appending Accept-Language. The flat map is keyed by name for
// callers that don't care about order.
func (p *Profile) HeaderMap() ([]Header, map[string]string) {
	ordered := make([]Header, 0, len(p.Headers)+2)
	ordered = append(ordered, Header{Name: "User-Agent", Value: p.UserAgent})
	ordered = append(ordered, p.Headers...)
	if p.Locale.Language != "" {
		ordered = append(ordered, Header{Name: "Accept-Language", Value: p.Locale.Language})
	}
	flat := make(map[string]string, len(ordered))
	for _, h := range ordered {
		flat[h.Name] = h.Value
	}
	return ordered, flat
}

// ProxyEndpoint describes one proxy in the rotation pool. The descriptor is
// immutable; health lives in the cooldown store keyed by ID() so the same
// endpoint can be shared across processes.
type ProxyEndpoint struct {
	Scheme   string  `json:"scheme"` // "http", "https", "socks5"
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	Username string  `json:"username,omitempty"`
	Password string  `json:"password,omitempty"`
	Weight   float64 `json:"weight"`
}

// ID returns the stable identifier used for health records and rotation state.
func (p ProxyEndpoint) ID() string {
	return fmt.Sprintf("%s://%s:%d", p.Scheme, p.Host, p.Port)
}

// URL renders a ready-to-dial proxy URL including credentials.
func (p ProxyEndpoint) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Scheme, p.Username, p.Password, p.Host, p.Port)
	}
	return p.ID()
}

// HealthRecord is the per-identifier failure/cooldown state persisted through
// the adapter. The zero value means "healthy, never used"; a missing record is
// treated the same way.
type HealthRecord struct {
	ConsecutiveFailures int   `json:"consecutive_failures"`
	LastFailureMs       int64 `json:"last_failure_ms,omitempty"`
	CooldownUntilMs     int64 `json:"cooldown_until_ms,omitempty"` // 0 = not cooling down
	TotalSuccesses      int64 `json:"total_successes"`
	TotalFailures       int64 `json:"total_failures"`
}

// CoolingDown reports whether the record excludes its owner from selection at
// the given instant. Expired cooldowns count as absent.
func (r HealthRecord) CoolingDown(now time.Time) bool {
	return r.CooldownUntilMs > now.UnixMilli()
}

var (
	// ErrNoneAvailable is returned by a rotation strategy when every
	// candidate in the pool is cooling down.
	ErrNoneAvailable = errors.New("no available candidates")

	// ErrPoolExhausted is the terminal error when selection retries run out
	// before any transport attempt could be made.
	ErrPoolExhausted = errors.New("candidate pool exhausted")
)

// ExhaustedError is raised to the caller when every attempt failed. It carries
// the last classified outcome so callers can distinguish bans from flakiness.
type ExhaustedError struct {
	Attempts    int
	LastOutcome Outcome
	LastStatus  int
	LastErr     error
}

func (e *ExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("exhausted %d attempts, last outcome %s: %v", e.Attempts, e.LastOutcome, e.LastErr)
	}
	return fmt.Sprintf("exhausted %d attempts, last outcome %s (status %d)", e.Attempts, e.LastOutcome, e.LastStatus)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }
