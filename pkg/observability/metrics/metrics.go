package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics captures counters for the booking bot: inbound updates,
// booking attempts, notification fan-out legs and classifier outcomes.
type BookingMetrics struct {
	updatesTotal    *prometheus.CounterVec
	bookingsTotal   *prometheus.CounterVec
	fanoutTotal     *prometheus.CounterVec
	classifierTotal *prometheus.CounterVec
}

// NewBookingMetrics registers the counters on reg. A nil reg means the
// default registerer.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &BookingMetrics{
		updatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "booking",
				Subsystem: "telegram",
				Name:      "updates_total",
				Help:      "Count of Telegram updates by kind and handling result",
			},
			[]string{"kind", "result"},
		),
		bookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "booking",
				Subsystem: "appointments",
				Name:      "created_total",
				Help:      "Count of booking attempts by result",
			},
			[]string{"result"},
		),
		fanoutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "booking",
				Subsystem: "dispatcher",
				Name:      "fanout_total",
				Help:      "Count of notification and side-effect legs by leg and result",
			},
			[]string{"leg", "result"},
		),
		classifierTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "booking",
				Subsystem: "classifier",
				Name:      "requests_total",
				Help:      "Count of free-text classification attempts by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.updatesTotal, m.bookingsTotal, m.fanoutTotal, m.classifierTotal)
	return m
}

// ObserveUpdate records an inbound update ("message", "callback", "other").
func (m *BookingMetrics) ObserveUpdate(kind, result string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(kind, result).Inc()
}

// ObserveBooking records a booking attempt ("created", "duplicate",
// "slot_taken", "limit", "error").
func (m *BookingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveFanout(leg string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fanoutTotal.WithLabelValues(leg, result).Inc()
}

// ObserveClassifier records a classification ("match", "miss", "error").
func (m *BookingMetrics) ObserveClassifier(result string) {
	if m == nil {
		return
	}
	m.classifierTotal.WithLabelValues(result).Inc()
}
