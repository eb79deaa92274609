package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Janus
type Metrics struct {
	// Store
	StoreRetriesTotal prometheus.Counter

	// Trigger pipeline
	TriggerChecksTotal   prometheus.Counter
	TriggerFiringsTotal  *prometheus.CounterVec
	RegenerationsTotal   *prometheus.CounterVec
	StrategyRegensTotal  *prometheus.CounterVec
	PublishAttemptsTotal *prometheus.CounterVec
	MetricsPollsTotal    *prometheus.CounterVec
	GenerationSeconds    *prometheus.HistogramVec

	// Task queue
	TasksTotal    *prometheus.CounterVec
	QueuePending  prometheus.Gauge
	QueueRunning  prometheus.Gauge
	QueueDeferred prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		StoreRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "janus_store_retries_total",
				Help: "Total number of store operations retried after lock contention",
			},
		),

		TriggerChecksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "janus_trigger_checks_total",
				Help: "Total number of trigger evaluation passes",
			},
		),
		TriggerFiringsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "janus_trigger_firings_total",
				Help: "Total number of trigger firings by outcome",
			},
			[]string{"metric", "outcome"},
		),
		RegenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "janus_content_regenerations_total",
				Help: "Total number of content regenerations by result",
			},
			[]string{"result"},
		),
		StrategyRegensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "janus_strategy_regenerations_total",
				Help: "Total number of strategy regenerations by result",
			},
			[]string{"result"},
		),
		PublishAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "janus_publish_attempts_total",
				Help: "Total number of variant publish attempts",
			},
			[]string{"variant", "result"},
		),
		MetricsPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "janus_metrics_polls_total",
				Help: "Total number of per-variant metrics fetches",
			},
			[]string{"result"},
		),
		GenerationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "janus_generation_duration_seconds",
				Help:    "Latency of generation service calls",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"kind"},
		),

		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "janus_tasks_total",
				Help: "Total number of background tasks processed",
			},
			[]string{"kind", "result"},
		),
		QueuePending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "janus_queue_pending",
				Help: "Number of tasks waiting to run",
			},
		),
		QueueRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "janus_queue_running",
				Help: "Number of tasks currently running",
			},
		),
		QueueDeferred: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "janus_queue_deferred",
				Help: "Number of tasks awaiting retry",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "janus_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "janus_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "janus_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "janus_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "janus_goroutines",
				Help: "Number of running goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.StoreRetriesTotal,
		m.TriggerChecksTotal,
		m.TriggerFiringsTotal,
		m.RegenerationsTotal,
		m.StrategyRegensTotal,
		m.PublishAttemptsTotal,
		m.MetricsPollsTotal,
		m.GenerationSeconds,
		m.TasksTotal,
		m.QueuePending,
		m.QueueRunning,
		m.QueueDeferred,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncStoreRetries increments the store contention retry counter
func IncStoreRetries() {
	if m := Global(); m != nil {
		m.StoreRetriesTotal.Inc()
	}
}

// IncTriggerChecks increments the trigger pass counter
func IncTriggerChecks() {
	if m := Global(); m != nil {
		m.TriggerChecksTotal.Inc()
	}
}

// IncTriggerFirings records a firing with its dispatch outcome
// (dispatched, skipped, failed)
func IncTriggerFirings(metric, outcome string) {
	if m := Global(); m != nil {
		m.TriggerFiringsTotal.WithLabelValues(metric, outcome).Inc()
	}
}

// IncRegenerations increments the content regeneration counter
func IncRegenerations(result string) {
	if m := Global(); m != nil {
		m.RegenerationsTotal.WithLabelValues(result).Inc()
	}
}

// IncStrategyRegens increments the strategy regeneration counter
func IncStrategyRegens(result string) {
	if m := Global(); m != nil {
		m.StrategyRegensTotal.WithLabelValues(result).Inc()
	}
}

// IncPublishAttempts increments the publish attempt counter
func IncPublishAttempts(variant, result string) {
	if m := Global(); m != nil {
		m.PublishAttemptsTotal.WithLabelValues(variant, result).Inc()
	}
}

// IncMetricsPolls increments the platform metrics fetch counter
func IncMetricsPolls(result string) {
	if m := Global(); m != nil {
		m.MetricsPollsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveGeneration records the latency of a generation call
func ObserveGeneration(kind string, seconds float64) {
	if m := Global(); m != nil {
		m.GenerationSeconds.WithLabelValues(kind).Observe(seconds)
	}
}

// IncTasks increments the processed task counter
func IncTasks(kind, result string) {
	if m := Global(); m != nil {
		m.TasksTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// Result label values shared by the counters above
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
