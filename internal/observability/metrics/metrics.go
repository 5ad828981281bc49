package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for queue engine operations.
type EngineMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	checkInsTotal     *prometheus.CounterVec
	reliabilityTotal  *prometheus.CounterVec
	shiftsTotal       *prometheus.CounterVec
	shiftDuration     prometheus.Histogram
	compressedTotal   prometheus.Counter
	suspectedTotal    prometheus.Counter
	queueSize         prometheus.Histogram
	lockContentionTot prometheus.Counter
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartflow",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking requests by outcome",
		}, []string{"outcome"}),
		checkInsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartflow",
			Subsystem: "checkin",
			Name:      "total",
			Help:      "Check-ins by shadow resolution outcome",
		}, []string{"resolution"}),
		reliabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartflow",
			Subsystem: "reliability",
			Name:      "events_total",
			Help:      "Reliability score transitions by event",
		}, []string{"event"}),
		shiftsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartflow",
			Subsystem: "reschedule",
			Name:      "shifts_total",
			Help:      "Schedule shifts by result",
		}, []string{"result"}),
		shiftDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartflow",
			Subsystem: "reschedule",
			Name:      "shift_duration_seconds",
			Help:      "Time spent planning and committing a shift",
			Buckets:   prometheus.DefBuckets,
		}),
		compressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartflow",
			Subsystem: "drift",
			Name:      "compressed_appointments_total",
			Help:      "Appointments moved earlier by compression",
		}),
		suspectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartflow",
			Subsystem: "watchdog",
			Name:      "suspected_missing_total",
			Help:      "Appointments flagged as suspected missing",
		}),
		queueSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "smartflow",
			Subsystem: "queue",
			Name:      "reorder_size",
			Help:      "Number of appointments ranked per reorder",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		lockContentionTot: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartflow",
			Subsystem: "lock",
			Name:      "not_acquired_total",
			Help:      "Practitioner lock acquisitions that timed out",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.checkInsTotal,
		m.reliabilityTotal,
		m.shiftsTotal,
		m.shiftDuration,
		m.compressedTotal,
		m.suspectedTotal,
		m.queueSize,
		m.lockContentionTot,
	)
	return m
}

func (m *EngineMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) ObserveCheckIn(resolution string) {
	if m == nil {
		return
	}
	m.checkInsTotal.WithLabelValues(resolution).Inc()
}

func (m *EngineMetrics) ObserveReliability(event string) {
	if m == nil {
		return
	}
	m.reliabilityTotal.WithLabelValues(event).Inc()
}

func (m *EngineMetrics) ObserveShift(result string, seconds float64) {
	if m == nil {
		return
	}
	m.shiftsTotal.WithLabelValues(result).Inc()
	m.shiftDuration.Observe(seconds)
}

func (m *EngineMetrics) AddCompressed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.compressedTotal.Add(float64(n))
}

func (m *EngineMetrics) AddSuspectedMissing(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.suspectedTotal.Add(float64(n))
}

func (m *EngineMetrics) ObserveQueueSize(n int) {
	if m == nil {
		return
	}
	m.queueSize.Observe(float64(n))
}

func (m *EngineMetrics) IncLockContention() {
	if m == nil {
		return
	}
	m.lockContentionTot.Inc()
}

// HTTPMetrics exposes request counters and latency per route pattern.
type HTTPMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestLatency.WithLabelValues(method, route).Observe(seconds)
}
