package telemetry

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Lifecycle event types emitted by the engine.
const (
	EventRequestSuccess  = "request.success"
	EventRequestRetry    = "request.retry"
	EventRequestError    = "request.error"
	EventProxyCooldown   = "proxy.cooldown"
	EventProfileCooldown = "profile.cooldown"
)

// Event is one structured lifecycle record. Everything identifying is a
// stable string identifier, never an object reference.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ProfileID string    `json:"profile_id,omitempty"`
	ProxyID   string    `json:"proxy_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Method    string    `json:"method,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Status    int       `json:"status,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink consumes events. A sink wanting asynchronous handling buffers
// internally; the publisher delivers synchronously.
type Sink interface {
	Handle(event Event)
}

// Publisher fans events out to zero or more sinks. Emit never fails the
// caller: each sink invocation is isolated so one broken sink cannot block
// delivery to the others or abort the request flow.
type Publisher struct {
	enabled    bool
	sampleRate float64

	mu    sync.RWMutex
	sinks []Sink

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewPublisher(enabled bool, sampleRate float64) *Publisher {
	return &Publisher{
		enabled:    enabled,
		sampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *Publisher) Subscribe(sink Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, sink)
	p.mu.Unlock()
}

func (p *Publisher) Emit(event Event) {
	if p == nil || !p.enabled {
		return
	}
	if p.sampleRate < 1.0 {
		p.rngMu.Lock()
		sampled := p.rng.Float64() <= p.sampleRate
		p.rngMu.Unlock()
		if !sampled {
			return
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.RUnlock()

	for _, sink := range sinks {
		deliver(sink, event)
	}
}

func deliver(sink Sink, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("Telemetry sink panicked on %s: %v", event.Type, r)
		}
	}()
	sink.Handle(event)
}

// LogSink writes events through the standard logger.
type LogSink struct{}

func (LogSink) Handle(event Event) {
	log.WithFields(log.Fields{
		"event":      event.Type,
		"profile_id": event.ProfileID,
		"proxy_id":   event.ProxyID,
		"method":     event.Method,
		"url":        event.URL,
		"attempt":    event.Attempt,
		"status":     event.Status,
		"elapsed_ms": event.ElapsedMs,
		"detail":     event.Detail,
	}).Info("Telemetry event")
}

// CaptureSink collects events in memory for diagnostics and tests.
type CaptureSink struct {
	mu     sync.Mutex
	events []Event
}

func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

func (c *CaptureSink) Handle(event Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *CaptureSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
