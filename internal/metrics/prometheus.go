package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the form relay service
type Metrics struct {
	// UDP ingest metrics
	DatagramsReceived    prometheus.Counter
	DatagramsStored      prometheus.Counter
	DatagramsRateLimited prometheus.Counter
	DatagramsOversized   prometheus.Counter
	DecodeErrors         prometheus.Counter
	StoreErrors          prometheus.Counter
	QueueSize            prometheus.Gauge
	InsertDuration       prometheus.Histogram

	// Relay metrics
	RelaySends    prometheus.Counter
	RelayFailures *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "formrelay_datagrams_received_total",
			Help: "Total number of UDP datagrams received by the ingest server",
		}),
		DatagramsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "formrelay_datagrams_stored_total",
			Help: "Total number of records successfully inserted into storage",
		}),
		DatagramsRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "formrelay_datagrams_rate_limited_total",
			Help: "Total number of datagrams dropped by the ingest rate limit",
		}),
		DatagramsOversized: factory.NewCounter(prometheus.CounterOpts{
			Name: "formrelay_datagrams_oversized_total",
			Help: "Total number of datagrams dropped for exceeding the size limit",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "formrelay_decode_errors_total",
			Help: "Total number of datagrams with malformed fragments",
		}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "formrelay_store_errors_total",
			Help: "Total number of failed storage inserts",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "formrelay_ingest_queue_size",
			Help: "Current number of datagrams waiting for a worker",
		}),
		InsertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "formrelay_insert_duration_seconds",
			Help:    "Duration of storage inserts",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		RelaySends: factory.NewCounter(prometheus.CounterOpts{
			Name: "formrelay_relay_sends_total",
			Help: "Total number of form payloads relayed over UDP",
		}),
		RelayFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formrelay_relay_failures_total",
			Help: "Total number of failed relay sends",
		}, []string{"reason"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formrelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "formrelay_http_errors_total",
			Help: "Total number of HTTP error responses",
		}, []string{"method", "route", "error_type"}),
	}
}

// RecordDatagramReceived increments the datagrams received counter
func (m *Metrics) RecordDatagramReceived() {
	m.DatagramsReceived.Inc()
}

// RecordRateLimited increments the rate limited counter
func (m *Metrics) RecordRateLimited() {
	m.DatagramsRateLimited.Inc()
}

// RecordOversized increments the oversized datagram counter
func (m *Metrics) RecordOversized() {
	m.DatagramsOversized.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordInsert records the outcome and duration of a storage insert
func (m *Metrics) RecordInsert(ok bool, durationSeconds float64) {
	if ok {
		m.DatagramsStored.Inc()
	} else {
		m.StoreErrors.Inc()
	}
	m.InsertDuration.Observe(durationSeconds)
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordRelaySend records a relay attempt; reason is empty on success
func (m *Metrics) RecordRelaySend(reason string) {
	m.RelaySends.Inc()
	if reason != "" {
		m.RelayFailures.WithLabelValues(reason).Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, route, errorType string) {
	m.HTTPErrors.WithLabelValues(method, route, errorType).Inc()
}
