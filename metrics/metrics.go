// Package metrics exposes Prometheus instrumentation for the HTTP transport
// and the JSON-RPC processor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnehpets/onerpc/endpoint"
	"github.com/mnehpets/onerpc/jsonrpc"
)

var (
	HTTPLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	BatchSizeBuckets   = []float64{1, 2, 5, 10, 25, 50, 100, 250}
)

// Metrics groups the HTTP and RPC collectors.
type Metrics struct {
	// HTTP
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// RPC
	BatchesTotal    *prometheus.CounterVec
	BatchSize       *prometheus.HistogramVec
	ResponsesTotal  *prometheus.CounterVec
	ProcessDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg selects
// the default registry. Handler serves reg when it is also a Gatherer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onerpc_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "handler", "status_class"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onerpc_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: HTTPLatencyBuckets,
			},
			[]string{"method", "handler"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "onerpc_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onerpc_rpc_batches_total",
				Help: "Total number of decoded JSON-RPC payloads",
			},
			[]string{"session", "mode"},
		),
		BatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onerpc_rpc_batch_size",
				Help:    "Number of requests per JSON-RPC payload",
				Buckets: BatchSizeBuckets,
			},
			[]string{"mode"},
		),
		ResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onerpc_rpc_responses_total",
				Help: "Total number of JSON-RPC responses by outcome and error code",
			},
			[]string{"session", "outcome", "code"},
		),
		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onerpc_rpc_process_duration_seconds",
				Help:    "Time spent processing one JSON-RPC payload",
				Buckets: HTTPLatencyBuckets,
			},
			[]string{"session"},
		),
		gatherer: prometheus.DefaultGatherer,
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.BatchesTotal,
		m.BatchSize,
		m.ResponsesTotal,
		m.ProcessDuration,
	)
	return m
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// GetStatusClass converts an HTTP status code to its class label.
func GetStatusClass(statusCode int) string {
	switch {
	case statusCode >= 100 && statusCode < 200:
		return "1xx"
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Processor returns an endpoint.Processor recording request counts and
// latency. Put it first so rejections by later processors are counted.
func (m *Metrics) Processor() endpoint.Processor {
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w}
		err := next(rec, r)

		status := rec.status
		if err != nil {
			status = endpoint.StatusCode(err)
		} else if status == 0 {
			status = http.StatusOK
		}
		handler := r.Pattern
		if handler == "" {
			handler = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(r.Method, handler, GetStatusClass(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
		return err
	})
}

func (m *Metrics) ObserveBatch(session string, mode jsonrpc.Mode, size int) {
	m.BatchesTotal.WithLabelValues(session, mode.String()).Inc()
	m.BatchSize.WithLabelValues(mode.String()).Observe(float64(size))
}

func (m *Metrics) ObserveResponse(session string, code int) {
	outcome := "success"
	if code != 0 {
		outcome = "error"
	}
	m.ResponsesTotal.WithLabelValues(session, outcome, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ObserveDuration(session string, d time.Duration) {
	m.ProcessDuration.WithLabelValues(session).Observe(d.Seconds())
}

var _ jsonrpc.Observer = (*Metrics)(nil)
