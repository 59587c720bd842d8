package observability

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"aprvault/core/events"
	"aprvault/core/types"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aprvault",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

// Relay is an events.Emitter that counts and logs every event before handing
// it to the wrapped emitter.
type Relay struct {
	logger *slog.Logger
	next   events.Emitter
}

// NewRelay wraps next with metrics and structured logging. A nil next drops
// events after observation.
func NewRelay(logger *slog.Logger, next events.Emitter) *Relay {
	if next == nil {
		next = events.NoopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger, next: next}
}

// broadcastable is satisfied by payloads that flatten themselves into an
// attribute map for logs and downstream consumers.
type broadcastable interface {
	Event() *types.Event
}

// Emit implements events.Emitter. Payloads that provide a flat attribute map
// are logged with every attribute; others log the type alone.
func (r *Relay) Emit(evt events.Event) {
	Events().RecordEvent(evt.EventType())
	args := []any{slog.String("type", evt.EventType())}
	if payload, ok := evt.(broadcastable); ok {
		if flat := payload.Event(); flat != nil {
			keys := make([]string, 0, len(flat.Attributes))
			for key := range flat.Attributes {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				args = append(args, slog.String(key, flat.Attributes[key]))
			}
		}
	}
	r.logger.Info("engine event", args...)
	r.next.Emit(evt)
}
