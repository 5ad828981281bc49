package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEngineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveBooking("shadow")
	m.ObserveBooking("shadow")
	m.ObserveBooking("booked")
	m.ObserveCheckIn("no_conflict")
	m.ObserveReliability("NO_SHOW")
	m.ObserveShift("ok", 0.02)
	m.AddCompressed(3)
	m.AddSuspectedMissing(0)
	m.ObserveQueueSize(4)
	m.IncLockContention()

	if got := testutil.ToFloat64(m.bookingsTotal.WithLabelValues("shadow")); got != 2 {
		t.Fatalf("expected 2 shadow bookings, got %v", got)
	}
	if got := testutil.ToFloat64(m.compressedTotal); got != 3 {
		t.Fatalf("expected 3 compressed, got %v", got)
	}
	if got := testutil.ToFloat64(m.suspectedTotal); got != 0 {
		t.Fatalf("zero adds must be ignored, got %v", got)
	}
}

func TestHTTPMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest("POST", "/appointments/{id}/check-in", "200", 0.01)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/appointments/{id}/check-in", "200")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *EngineMetrics
	m.ObserveBooking("booked")
	m.ObserveCheckIn("x")
	m.ObserveReliability("LATE")
	m.ObserveShift("ok", 1)
	m.AddCompressed(1)
	m.AddSuspectedMissing(1)
	m.ObserveQueueSize(1)
	m.IncLockContention()

	var h *HTTPMetrics
	h.ObserveRequest("GET", "/", "200", 0.1)
}
