package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"tutorpay/core/events"
)

type engineMetrics struct {
	operations *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *engineMetrics
)

// EngineMetrics returns the lazily-initialised metrics registry used to
// record engine event activity.
func EngineMetrics() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &engineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tutorpay",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Total engine events segmented by event type.",
			}, []string{"event"}),
		}
	})
	return engineRegistry
}

// Register attaches the collectors to the provided registry. Already
// registered collectors are tolerated.
func (m *engineMetrics) Register(reg prometheus.Registerer) error {
	if m == nil || reg == nil {
		return nil
	}
	if err := reg.Register(m.operations); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	return nil
}

// RecordEvent increments the counter for an event type.
func (m *engineMetrics) RecordEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.operations.WithLabelValues(eventType).Inc()
}

// Observer bridges the engine event stream into the metrics registry.
type Observer struct{}

// Emit implements the events.Emitter interface.
func (Observer) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	EngineMetrics().RecordEvent(evt.EventType())
}
