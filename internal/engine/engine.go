package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/header-rotator/internal/config"
	"github.com/header-rotator/internal/health"
	"github.com/header-rotator/internal/persist"
	"github.com/header-rotator/internal/profile"
	"github.com/header-rotator/internal/proxy"
	"github.com/header-rotator/internal/rotation"
	"github.com/header-rotator/internal/telemetry"
	"github.com/header-rotator/internal/types"
	log "github.com/sirupsen/logrus"
)

// Request is one logical scraping request. Headers override the chosen
// profile's template by name.
type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      []byte
	StickyKey string
	NoProxy   bool
}

// Result is the terminal success of a logical request.
type Result struct {
	Status    int
	Headers   map[string][]string
	Body      []byte
	ProfileID string
	ProxyID   string
	Attempts  int
}

// Engine drives one logical request through up to MaxAttempts transport
// attempts, selecting a (profile, proxy) pair per attempt, recording outcomes
// in the cooldown store, and emitting lifecycle telemetry.
type Engine struct {
	cfg        *config.Config
	profiles   *profile.Provider
	proxies    *proxy.Provider
	profileReg *rotation.Registry
	proxyReg   *rotation.Registry
	store      *health.Store
	transport  Transport
	classifier *Classifier
	hooks      *HookChain
	throttle   *Throttle
	publisher  *telemetry.Publisher

	profileBindings *rotation.Bindings
	proxyBindings   *rotation.Bindings

	sleep func(ctx context.Context, d time.Duration) error
}

// New wires the engine from its collaborators. The adapter is shared between
// the health store and the sticky bindings so one backend carries all
// cross-process state.
func New(
	cfg *config.Config,
	profiles *profile.Provider,
	proxies *proxy.Provider,
	store *health.Store,
	adapter persist.Adapter,
	transport Transport,
	publisher *telemetry.Publisher,
) (*Engine, error) {
	ns := cfg.Persistence.Namespace
	ttl := time.Duration(cfg.Sticky.TTLSeconds) * time.Second

	var profileBindings, proxyBindings *rotation.Bindings
	if cfg.Sticky.Enabled {
		profileBindings = rotation.NewBindings(adapter, ns, types.KindProfile, ttl)
		proxyBindings = rotation.NewBindings(adapter, ns, types.KindProxy, ttl)
	}

	seed := cfg.Rotation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	profileStrategy, err := rotation.New(cfg.Rotation.Strategy, seed, profileBindings)
	if err != nil {
		return nil, err
	}
	proxyStrategy, err := rotation.New(cfg.Rotation.Strategy, seed+1, proxyBindings)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:             cfg,
		profiles:        profiles,
		proxies:         proxies,
		store:           store,
		transport:       transport,
		classifier:      NewClassifier(cfg.Classify),
		hooks:           NewHookChain(),
		throttle:        NewThrottle(cfg.Throttle),
		publisher:       publisher,
		profileBindings: profileBindings,
		proxyBindings:   proxyBindings,
		sleep:           sleepCtx,
	}

	e.profileReg = rotation.NewRegistry(types.KindProfile, profileStrategy, store, func(context.Context) ([]rotation.Candidate, error) {
		return profileCandidates(profiles), nil
	})
	e.proxyReg = rotation.NewRegistry(types.KindProxy, proxyStrategy, store, func(context.Context) ([]rotation.Candidate, error) {
		return proxyCandidates(proxies), nil
	})
	e.profileReg.SetCandidates(profileCandidates(profiles))
	e.proxyReg.SetCandidates(proxyCandidates(proxies))

	return e, nil
}

// AddHook registers a middleware hook. Hooks run in order before each send
// and in reverse order after each response.
func (e *Engine) AddHook(hook Hook) {
	e.hooks.Add(hook)
}

// RefreshRegistries re-snapshots providers into the rotation registries,
// typically after the provider refresh loop replaced the pools.
func (e *Engine) RefreshRegistries(ctx context.Context) {
	if err := e.profileReg.Refresh(ctx); err != nil {
		log.Warnf("Profile registry refresh failed: %v", err)
	}
	if err := e.proxyReg.Refresh(ctx); err != nil {
		log.Warnf("Proxy registry refresh failed: %v", err)
	}
}

// Store exposes the health store for inspection endpoints.
func (e *Engine) Store() *health.Store {
	return e.store
}

// CandidateState is one pool entry with its current health, for inspection
// endpoints and availability gauges.
type CandidateState struct {
	ID        string             `json:"id"`
	Weight    float64            `json:"weight"`
	Available bool               `json:"available"`
	Record    types.HealthRecord `json:"record"`
}

// PoolState snapshots the candidate pool of one kind with per-candidate
// health. Reads are best-effort: a failing backend reports candidates as
// available with a zero record, matching selection behavior.
func (e *Engine) PoolState(ctx context.Context, kind types.Kind) []CandidateState {
	reg := e.profileReg
	if kind == types.KindProxy {
		reg = e.proxyReg
	}

	now := time.Now()
	candidates := reg.Candidates()
	out := make([]CandidateState, 0, len(candidates))
	for _, c := range candidates {
		rec, err := e.store.Snapshot(ctx, kind, c.ID)
		if err != nil {
			rec = types.HealthRecord{}
		}
		out = append(out, CandidateState{
			ID:        c.ID,
			Weight:    c.Weight,
			Available: e.store.IsAvailable(ctx, kind, c.ID, now),
			Record:    rec,
		})
	}
	return out
}

// Do runs the retry loop for one logical request. It returns the response of
// the first successful attempt, ErrPoolExhausted when no candidate was
// available to try, or an ExhaustedError carrying the last classified failure.
func (e *Engine) Do(ctx context.Context, req Request) (*Result, error) {
	if req.Method == "" {
		req.Method = "GET"
	}
	if e.cfg.Retry.TotalTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.Retry.TotalTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	useProxy := e.cfg.Rotation.ProxiesEnabled && !req.NoProxy && e.proxyReg.Size() > 0
	excludeProfiles := make(map[string]bool)
	excludeProxies := make(map[string]bool)

	var lastOutcome types.Outcome
	var lastStatus int
	var lastErr error

	maxAttempts := e.cfg.Retry.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.throttle.Wait(ctx); err != nil {
			return nil, err
		}

		profileID, err := e.pick(ctx, e.profileReg, req.StickyKey, excludeProfiles)
		if err != nil {
			return nil, err
		}
		prof, ok := e.profiles.Get(profileID)
		if !ok {
			return nil, fmt.Errorf("selected profile %s not in provider", profileID)
		}

		var endpoint *types.ProxyEndpoint
		if useProxy {
			proxyID, err := e.pick(ctx, e.proxyReg, req.StickyKey, excludeProxies)
			if err != nil {
				return nil, err
			}
			ep, ok := e.proxies.Get(proxyID)
			if !ok {
				return nil, fmt.Errorf("selected proxy %s not in provider", proxyID)
			}
			endpoint = &ep
		}

		resp, elapsed, outcome, detail, terr := e.attempt(ctx, req, prof, endpoint)

		proxyID := ""
		if endpoint != nil {
			proxyID = endpoint.ID()
		}

		if outcome == types.OutcomeSuccess {
			e.recordOutcome(ctx, prof.ID, proxyID, types.OutcomeSuccess)
			e.emit(telemetry.Event{
				Type:      telemetry.EventRequestSuccess,
				ProfileID: prof.ID,
				ProxyID:   proxyID,
				URL:       req.URL,
				Method:    req.Method,
				Attempt:   attempt,
				Status:    resp.Status,
				ElapsedMs: elapsed.Milliseconds(),
			})
			return &Result{
				Status:    resp.Status,
				Headers:   resp.Headers,
				Body:      resp.Body,
				ProfileID: prof.ID,
				ProxyID:   proxyID,
				Attempts:  attempt,
			}, nil
		}

		// Failure path: attribute the outcome to both the proxy and the
		// profile, even when the caller has already gone away.
		lastOutcome = outcome
		lastErr = terr
		lastStatus = 0
		if resp != nil {
			lastStatus = resp.Status
		}

		e.recordOutcome(ctx, prof.ID, proxyID, outcome)
		e.dropSticky(req.StickyKey)
		excludeProfiles[prof.ID] = true
		if proxyID != "" {
			excludeProxies[proxyID] = true
		}

		event := telemetry.Event{
			ProfileID: prof.ID,
			ProxyID:   proxyID,
			URL:       req.URL,
			Method:    req.Method,
			Attempt:   attempt,
			Status:    lastStatus,
			ElapsedMs: elapsed.Milliseconds(),
			Outcome:   string(outcome),
			Detail:    detail,
		}

		if attempt < maxAttempts {
			event.Type = telemetry.EventRequestRetry
			e.emit(event)
			if err := e.sleep(ctx, e.throttle.Backoff(attempt, resp)); err != nil {
				return nil, err
			}
			continue
		}

		event.Type = telemetry.EventRequestError
		e.emit(event)
	}

	return nil, &types.ExhaustedError{
		Attempts:    maxAttempts,
		LastOutcome: lastOutcome,
		LastStatus:  lastStatus,
		LastErr:     lastErr,
	}
}

// attempt performs one transport call with hooks and classification.
func (e *Engine) attempt(ctx context.Context, req Request, prof types.Profile, endpoint *types.ProxyEndpoint) (*TransportResponse, time.Duration, types.Outcome, string, error) {
	ordered, _ := prof.HeaderMap()
	headers := overrideHeaders(ordered, req.Headers)

	treq := TransportRequest{
		Method:  req.Method,
		URL:     req.URL,
		Headers: headers,
		Body:    req.Body,
		Proxy:   endpoint,
	}

	if err := e.hooks.BeforeSend(&treq); err != nil {
		return nil, 0, types.OutcomeHardFailure, fmt.Sprintf("before-send hook: %v", err), err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.Retry.AttemptTimeoutMs)*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp, err := e.transport.RoundTrip(attemptCtx, treq)
	elapsed := time.Since(start)

	if err != nil {
		outcome, detail := e.classifier.Classify(nil, err)
		return nil, elapsed, outcome, detail, err
	}

	if err := e.hooks.AfterResponse(&treq, resp); err != nil {
		return resp, elapsed, types.OutcomeHardFailure, fmt.Sprintf("after-response hook: %v", err), err
	}

	outcome, detail := e.classifier.Classify(resp, nil)
	return resp, elapsed, outcome, detail, nil
}

// pick selects a candidate, refreshing the registry on exhaustion when
// configured, and maps terminal unavailability onto ErrPoolExhausted.
func (e *Engine) pick(ctx context.Context, reg *rotation.Registry, token string, exclude map[string]bool) (string, error) {
	retries := e.cfg.Rotation.SelectionRetries
	for i := 0; i <= retries; i++ {
		id, err := reg.Pick(ctx, token, exclude)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, types.ErrNoneAvailable) {
			return "", err
		}
		if e.cfg.Providers.RefreshOnExhaustion {
			if rerr := reg.Refresh(ctx); rerr != nil {
				log.Warnf("Registry refresh on exhaustion failed: %v", rerr)
			}
		}
	}
	return "", types.ErrPoolExhausted
}

// recordOutcome writes the outcome for both the profile and (when present)
// the proxy, emitting edge-triggered cooldown events. Recording survives
// caller cancellation: an observed outcome is never dropped.
func (e *Engine) recordOutcome(ctx context.Context, profileID, proxyID string, outcome types.Outcome) {
	recordCtx := context.WithoutCancel(ctx)

	started, err := e.store.Record(recordCtx, types.KindProfile, profileID, outcome)
	if err != nil {
		log.Warnf("Recording %s for profile %s failed: %v", outcome, profileID, err)
	} else if started {
		e.emit(telemetry.Event{Type: telemetry.EventProfileCooldown, ProfileID: profileID})
	}

	if proxyID == "" {
		return
	}
	started, err = e.store.Record(recordCtx, types.KindProxy, proxyID, outcome)
	if err != nil {
		log.Warnf("Recording %s for proxy %s failed: %v", outcome, proxyID, err)
	} else if started {
		e.emit(telemetry.Event{Type: telemetry.EventProxyCooldown, ProxyID: proxyID})
	}
}

// dropSticky clears bindings after a failed attempt so the next selection
// rebinds to a healthy candidate.
func (e *Engine) dropSticky(token string) {
	if token == "" {
		return
	}
	if e.profileBindings != nil {
		e.profileBindings.Drop(token)
	}
	if e.proxyBindings != nil {
		e.proxyBindings.Drop(token)
	}
}

func (e *Engine) emit(event telemetry.Event) {
	if e.publisher != nil {
		e.publisher.Emit(event)
	}
}

func overrideHeaders(ordered []types.Header, overrides map[string]string) []types.Header {
	if len(overrides) == 0 {
		return ordered
	}
	seen := make(map[string]bool, len(overrides))
	out := make([]types.Header, 0, len(ordered)+len(overrides))
	for _, h := range ordered {
		if value, ok := overrides[h.Name]; ok {
			out = append(out, types.Header{Name: h.Name, Value: value})
			seen[h.Name] = true
			continue
		}
		out = append(out, h)
	}
	for name, value := range overrides {
		if !seen[name] {
			out = append(out, types.Header{Name: name, Value: value})
		}
	}
	return out
}

func profileCandidates(p *profile.Provider) []rotation.Candidate {
	all := p.All()
	out := make([]rotation.Candidate, 0, len(all))
	for _, prof := range all {
		out = append(out, rotation.Candidate{ID: prof.ID, Weight: prof.Weight})
	}
	return out
}

func proxyCandidates(p *proxy.Provider) []rotation.Candidate {
	all := p.All()
	out := make([]rotation.Candidate, 0, len(all))
	for _, ep := range all {
		out = append(out, rotation.Candidate{ID: ep.ID(), Weight: ep.Weight})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
