package metrics

import (
	"github.com/header-rotator/internal/telemetry"
	"github.com/header-rotator/internal/types"
)

// Sink forwards telemetry lifecycle events into the prometheus collector so
// every emitted event shows up on /metrics without coupling the engine to
// prometheus directly.
type Sink struct {
	collector *Collector
}

func NewSink(collector *Collector) *Sink {
	return &Sink{collector: collector}
}

func (s *Sink) Handle(event telemetry.Event) {
	seconds := float64(event.ElapsedMs) / 1000.0
	switch event.Type {
	case telemetry.EventRequestSuccess:
		s.collector.RecordAttempt(string(types.OutcomeSuccess), seconds)
		s.collector.RecordRequest("success")
	case telemetry.EventRequestRetry:
		s.collector.RecordAttempt(event.Outcome, seconds)
	case telemetry.EventRequestError:
		s.collector.RecordAttempt(event.Outcome, seconds)
		s.collector.RecordRequest("error")
	case telemetry.EventProxyCooldown:
		s.collector.RecordCooldown(string(types.KindProxy))
	case telemetry.EventProfileCooldown:
		s.collector.RecordCooldown(string(types.KindProfile))
	}
}
