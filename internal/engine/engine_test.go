package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/header-rotator/internal/config"
	"github.com/header-rotator/internal/health"
	"github.com/header-rotator/internal/persist"
	"github.com/header-rotator/internal/profile"
	"github.com/header-rotator/internal/proxy"
	"github.com/header-rotator/internal/telemetry"
	"github.com/header-rotator/internal/types"
)

type fakeTransport struct {
	mu      sync.Mutex
	calls   []TransportRequest
	respond func(req TransportRequest) (*TransportResponse, error)
}

func (f *fakeTransport) RoundTrip(_ context.Context, req TransportRequest) (*TransportResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) call(i int) TransportRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func respondStatus(status int) func(TransportRequest) (*TransportResponse, error) {
	return func(TransportRequest) (*TransportResponse, error) {
		return &TransportResponse{Status: status, Headers: http.Header{}, Body: []byte("response payload")}, nil
	}
}

func testProfiles(n int) *profile.Provider {
	profiles := make([]types.Profile, 0, n)
	names := []string{"prof-a", "prof-b", "prof-c", "prof-d"}
	for i := 0; i < n; i++ {
		profiles = append(profiles, types.Profile{
			ID:        names[i],
			UserAgent: "Agent/" + names[i],
			Headers:   []types.Header{{Name: "Accept", Value: "text/html"}},
			Locale:    types.Locale{Language: "en-US,en;q=0.9"},
			Weight:    1.0,
		})
	}
	return profile.NewProvider(profiles)
}

func testProxies(n int) *proxy.Provider {
	endpoints := make([]types.ProxyEndpoint, 0, n)
	for i := 0; i < n; i++ {
		endpoints = append(endpoints, types.ProxyEndpoint{
			Scheme: "http",
			Host:   "10.0.0.1",
			Port:   8080 + i,
			Weight: 1.0,
		})
	}
	return proxy.NewProvider(endpoints)
}

func newTestEngine(t *testing.T, cfg *config.Config, poolSize int, respond func(TransportRequest) (*TransportResponse, error)) (*Engine, *fakeTransport, *telemetry.CaptureSink) {
	t.Helper()

	adapter := persist.NewMemoryAdapter()
	store := health.NewStore(adapter, cfg.Persistence.Namespace, cfg.Cooldown)

	publisher := telemetry.NewPublisher(true, 1.0)
	capture := telemetry.NewCaptureSink()
	publisher.Subscribe(capture)

	transport := &fakeTransport{respond: respond}
	eng, err := New(cfg, testProfiles(poolSize), testProxies(poolSize), store, adapter, transport, publisher)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return eng, transport, capture
}

func testEngineConfig() *config.Config {
	cfg := config.Default()
	cfg.Rotation.ProxiesEnabled = true
	cfg.Rotation.Seed = 7
	return cfg
}

func eventCount(capture *telemetry.CaptureSink, eventType string) int {
	count := 0
	for _, event := range capture.Events() {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func TestDoSuccessFirstAttempt(t *testing.T) {
	eng, transport, capture := newTestEngine(t, testEngineConfig(), 3, respondStatus(200))

	result, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if result.Status != 200 || result.Attempts != 1 {
		t.Errorf("result = (status %d, attempts %d), want (200, 1)", result.Status, result.Attempts)
	}
	if result.ProfileID == "" || result.ProxyID == "" {
		t.Errorf("result missing identifiers: profile=%q proxy=%q", result.ProfileID, result.ProxyID)
	}
	if transport.callCount() != 1 {
		t.Errorf("transport called %d times, want 1", transport.callCount())
	}
	if got := eventCount(capture, telemetry.EventRequestSuccess); got != 1 {
		t.Errorf("success events = %d, want 1", got)
	}

	// The fingerprint goes out with the user-agent first.
	sent := transport.call(0)
	if len(sent.Headers) == 0 || sent.Headers[0].Name != "User-Agent" {
		t.Errorf("first header = %+v, want User-Agent", sent.Headers)
	}
}

func TestDoExhaustsAttemptsAcrossCandidates(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Retry.MaxAttempts = 3
	eng, transport, capture := newTestEngine(t, cfg, 3, respondStatus(503))

	_, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})

	var exhausted *types.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 3 || exhausted.LastOutcome != types.OutcomeSoftFailure || exhausted.LastStatus != 503 {
		t.Errorf("exhausted = %+v, want 3 soft-failure attempts ending in 503", exhausted)
	}
	if transport.callCount() != 3 {
		t.Fatalf("transport called %d times, want 3", transport.callCount())
	}

	// Each attempt within one request must use a fresh proxy.
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id := transport.call(i).Proxy.ID()
		if seen[id] {
			t.Errorf("proxy %s reused within a single request", id)
		}
		seen[id] = true
	}

	if got := eventCount(capture, telemetry.EventRequestRetry); got != 2 {
		t.Errorf("retry events = %d, want 2", got)
	}
	if got := eventCount(capture, telemetry.EventRequestError); got != 1 {
		t.Errorf("error events = %d, want 1", got)
	}
}

func TestRepeatedFailuresDepleteThePool(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Retry.MaxAttempts = 3
	cfg.Cooldown.FailureThreshold = 2
	eng, transport, _ := newTestEngine(t, cfg, 3, respondStatus(503))

	// Two failed requests put two soft failures on every proxy, which crosses
	// the threshold of 2 and cools the whole pool down.
	for i := 0; i < 2; i++ {
		_, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})
		var exhausted *types.ExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("request %d: err = %v, want ExhaustedError", i+1, err)
		}
	}
	if transport.callCount() != 6 {
		t.Fatalf("transport called %d times, want 6", transport.callCount())
	}

	_, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})
	if !errors.Is(err, types.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted with the whole pool cooling", err)
	}
	if transport.callCount() != 6 {
		t.Errorf("transport called for a depleted pool")
	}
}

func TestDoPoolExhaustedBeforeTransport(t *testing.T) {
	cfg := testEngineConfig()
	eng, transport, _ := newTestEngine(t, cfg, 1, respondStatus(200))

	// Cool the only profile down so selection can never produce a pair.
	if _, err := eng.Store().Record(context.Background(), types.KindProfile, "prof-a", types.OutcomeHardFailure); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})
	if !errors.Is(err, types.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
	if transport.callCount() != 0 {
		t.Errorf("transport called %d times for an exhausted pool, want 0", transport.callCount())
	}
}

func TestDoHardFailureCoolsBothKinds(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Retry.MaxAttempts = 2
	eng, transport, capture := newTestEngine(t, cfg, 1, respondStatus(403))

	_, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})
	if !errors.Is(err, types.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted after the only pair hard-failed", err)
	}
	if transport.callCount() != 1 {
		t.Errorf("transport called %d times, want 1", transport.callCount())
	}

	ctx := context.Background()
	now := time.Now()
	if eng.Store().IsAvailable(ctx, types.KindProxy, "http://10.0.0.1:8080", now) {
		t.Error("proxy still available after a hard failure")
	}
	if eng.Store().IsAvailable(ctx, types.KindProfile, "prof-a", now) {
		t.Error("profile still available after a hard failure")
	}

	if got := eventCount(capture, telemetry.EventProxyCooldown); got != 1 {
		t.Errorf("proxy cooldown events = %d, want 1", got)
	}
	if got := eventCount(capture, telemetry.EventProfileCooldown); got != 1 {
		t.Errorf("profile cooldown events = %d, want 1", got)
	}
}

func TestDoSoftFailureThenSuccessClearsState(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Retry.MaxAttempts = 2

	attempts := 0
	eng, _, _ := newTestEngine(t, cfg, 3, nil)
	transport := &fakeTransport{respond: func(TransportRequest) (*TransportResponse, error) {
		attempts++
		if attempts == 1 {
			return &TransportResponse{Status: 429, Headers: http.Header{}, Body: []byte("slow down")}, nil
		}
		return &TransportResponse{Status: 200, Headers: http.Header{}, Body: []byte("ok body here")}, nil
	}}
	eng.transport = transport

	result, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", result.Attempts)
	}

	rec, err := eng.Store().Snapshot(context.Background(), types.KindProfile, result.ProfileID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("winning profile kept %d consecutive failures after success", rec.ConsecutiveFailures)
	}
}

func TestDoCanceledContext(t *testing.T) {
	eng, transport, _ := newTestEngine(t, testEngineConfig(), 3, respondStatus(200))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Do(ctx, Request{URL: "http://target.example/page"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if transport.callCount() != 0 {
		t.Errorf("transport called after cancellation")
	}
}

func TestDoTransportErrorClassifiedSoft(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Retry.MaxAttempts = 1
	eng, _, _ := newTestEngine(t, cfg, 3, func(TransportRequest) (*TransportResponse, error) {
		return nil, context.DeadlineExceeded
	})

	_, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})
	var exhausted *types.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.LastOutcome != types.OutcomeSoftFailure {
		t.Errorf("timeout classified as %s, want soft failure", exhausted.LastOutcome)
	}
}

func TestDoHeaderOverrides(t *testing.T) {
	eng, transport, _ := newTestEngine(t, testEngineConfig(), 1, respondStatus(200))

	_, err := eng.Do(context.Background(), Request{
		URL:     "http://target.example/page",
		Headers: map[string]string{"Accept": "application/json", "X-Custom": "yes"},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	sent := transport.call(0)
	values := make(map[string]string, len(sent.Headers))
	for _, h := range sent.Headers {
		values[h.Name] = h.Value
	}
	if values["Accept"] != "application/json" {
		t.Errorf("Accept = %q, want the override", values["Accept"])
	}
	if values["X-Custom"] != "yes" {
		t.Errorf("extra header missing: %v", values)
	}
	if values["User-Agent"] == "" {
		t.Error("profile user-agent dropped by overrides")
	}
}

func TestDoNoProxySkipsProxySelection(t *testing.T) {
	eng, transport, _ := newTestEngine(t, testEngineConfig(), 2, respondStatus(200))

	result, err := eng.Do(context.Background(), Request{URL: "http://target.example/page", NoProxy: true})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if result.ProxyID != "" {
		t.Errorf("proxy id = %q, want empty with NoProxy", result.ProxyID)
	}
	if transport.call(0).Proxy != nil {
		t.Error("transport received a proxy despite NoProxy")
	}
}

func TestDoBeforeSendHookFailureIsHard(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Retry.MaxAttempts = 1
	eng, transport, _ := newTestEngine(t, cfg, 2, respondStatus(200))
	eng.AddHook(rejectingHook{})

	_, err := eng.Do(context.Background(), Request{URL: "http://target.example/page"})
	var exhausted *types.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.LastOutcome != types.OutcomeHardFailure {
		t.Errorf("hook rejection classified as %s, want hard failure", exhausted.LastOutcome)
	}
	if transport.callCount() != 0 {
		t.Error("transport called after the before-send hook rejected the attempt")
	}
}

type rejectingHook struct{}

func (rejectingHook) BeforeSend(*TransportRequest) error { return errors.New("signing failed") }
func (rejectingHook) AfterResponse(*TransportRequest, *TransportResponse) error {
	return nil
}

func TestSessionSticksToCandidates(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Rotation.Strategy = "sticky"
	cfg.Sticky.Enabled = true
	eng, transport, _ := newTestEngine(t, cfg, 3, respondStatus(200))

	session := eng.Session("")
	if session.Token() == "" {
		t.Fatal("session minted no token with stickiness enabled")
	}

	first, err := session.Get(context.Background(), "http://target.example/page")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := 0; i < 3; i++ {
		next, err := session.Get(context.Background(), "http://target.example/page")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if next.ProfileID != first.ProfileID || next.ProxyID != first.ProxyID {
			t.Fatalf("sticky session drifted: (%s, %s) -> (%s, %s)",
				first.ProfileID, first.ProxyID, next.ProfileID, next.ProxyID)
		}
	}
	if transport.callCount() != 4 {
		t.Errorf("transport called %d times, want 4", transport.callCount())
	}
}

func TestSessionWithoutStickinessHasNoToken(t *testing.T) {
	eng, _, _ := newTestEngine(t, testEngineConfig(), 2, respondStatus(200))
	if token := eng.Session("").Token(); token != "" {
		t.Errorf("token = %q, want empty with stickiness disabled", token)
	}
}

func TestPoolStateReflectsHealth(t *testing.T) {
	eng, _, _ := newTestEngine(t, testEngineConfig(), 2, respondStatus(200))
	ctx := context.Background()

	if _, err := eng.Store().Record(ctx, types.KindProxy, "http://10.0.0.1:8080", types.OutcomeHardFailure); err != nil {
		t.Fatalf("record: %v", err)
	}

	states := eng.PoolState(ctx, types.KindProxy)
	if len(states) != 2 {
		t.Fatalf("pool size = %d, want 2", len(states))
	}
	byID := make(map[string]CandidateState, len(states))
	for _, state := range states {
		byID[state.ID] = state
	}
	if byID["http://10.0.0.1:8080"].Available {
		t.Error("cooled proxy reported available")
	}
	if !byID["http://10.0.0.1:8081"].Available {
		t.Error("healthy proxy reported unavailable")
	}
}
