package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics records event-bus dispatch outcomes.
type EventMetrics struct {
	dispatched    *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec
	dispatchTime  *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// NewEventMetrics registers event dispatch metrics on the provided registerer.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	if reg == nil {
		return &EventMetrics{}
	}
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dispatched_total",
		Help: "System events dispatched to subscribers.",
	}, []string{"module", "event"})
	handlerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "event_handler_errors_total",
		Help: "Subscriber handler failures during event dispatch.",
	}, []string{"module", "event"})
	dispatchTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "event_dispatch_seconds",
		Help:    "Time spent dispatching one event to all subscribers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"module", "event"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Notifications created from rule matches.",
	}, []string{"source_module"})
	reg.MustRegister(dispatched, handlerErrors, dispatchTime, notifications)
	return &EventMetrics{
		dispatched:    dispatched,
		handlerErrors: handlerErrors,
		dispatchTime:  dispatchTime,
		notifications: notifications,
	}
}

// IncDispatched increments the dispatched counter for a module/event pair.
func (m *EventMetrics) IncDispatched(module, event string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(jobLabel(module), jobLabel(event)).Inc()
}

// IncHandlerError increments the handler error counter for a module/event pair.
func (m *EventMetrics) IncHandlerError(module, event string) {
	if m == nil || m.handlerErrors == nil {
		return
	}
	m.handlerErrors.WithLabelValues(jobLabel(module), jobLabel(event)).Inc()
}

// ObserveDispatch records how long one dispatch fan-out took.
func (m *EventMetrics) ObserveDispatch(module, event string, d time.Duration) {
	if m == nil || m.dispatchTime == nil {
		return
	}
	m.dispatchTime.WithLabelValues(jobLabel(module), jobLabel(event)).Observe(d.Seconds())
}

// IncNotificationsCreated adds created notifications for a source module.
func (m *EventMetrics) IncNotificationsCreated(sourceModule string, n int) {
	if m == nil || m.notifications == nil || n <= 0 {
		return
	}
	m.notifications.WithLabelValues(jobLabel(sourceModule)).Add(float64(n))
}
