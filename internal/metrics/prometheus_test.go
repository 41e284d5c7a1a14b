package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsUsesOwnRegistry(t *testing.T) {
	// Two instances on separate registries must not collide.
	first := NewMetrics(prometheus.NewRegistry())
	second := NewMetrics(prometheus.NewRegistry())

	first.RecordDatagramReceived()
	if got := testutil.ToFloat64(second.DatagramsReceived); got != 0 {
		t.Errorf("Expected independent counters, got %f", got)
	}
}

func TestRecordInsert(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordInsert(true, 0.01)
	m.RecordInsert(true, 0.02)
	m.RecordInsert(false, 5)

	if got := testutil.ToFloat64(m.DatagramsStored); got != 2 {
		t.Errorf("Expected 2 stored, got %f", got)
	}
	if got := testutil.ToFloat64(m.StoreErrors); got != 1 {
		t.Errorf("Expected 1 store error, got %f", got)
	}
}

func TestRecordRelaySend(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRelaySend("")
	m.RecordRelaySend("transport")
	m.RecordRelaySend("transport")

	if got := testutil.ToFloat64(m.RelaySends); got != 3 {
		t.Errorf("Expected 3 sends, got %f", got)
	}
	if got := testutil.ToFloat64(m.RelayFailures.WithLabelValues("transport")); got != 2 {
		t.Errorf("Expected 2 transport failures, got %f", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordHTTPRequest("GET", "static", "200", 0.001)
	m.RecordHTTPError("GET", "static", "client_error")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "static", "200")); got != 1 {
		t.Errorf("Expected 1 request, got %f", got)
	}
	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues("GET", "static", "client_error")); got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}
}
