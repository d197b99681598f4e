package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the HTTP layer, the capability
// gateway and the pipeline. Each instance owns its registry so tests and
// multiple orchestrators never collide on registration.
type Metrics struct {
	Registry *prometheus.Registry

	requestCount  *prometheus.CounterVec
	errorCount    *prometheus.CounterVec
	capabilityDur *prometheus.HistogramVec
	capabilityCnt *prometheus.CounterVec
	stageDur      *prometheus.HistogramVec
	stageCnt      *prometheus.CounterVec
	runCnt        *prometheus.CounterVec
	decisionCnt   *prometheus.CounterVec
}

// NewMetrics initializes metrics storage.
//
// Metrics:
//   - http_requests_total{path,method,status}
//   - http_errors_total{path,method,code}
//   - capability_calls_total{provider,ability,outcome}
//   - capability_call_duration_seconds{provider,ability}
//   - pipeline_stage_total{stage,outcome}
//   - pipeline_stage_duration_seconds{stage}
//   - pipeline_runs_total{status}
//   - pipeline_decisions_total{outcome}
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests handled",
		}, []string{"path", "method", "status"}),
		errorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP requests that ended in a domain error",
		}, []string{"path", "method", "code"}),
		capabilityCnt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capability_calls_total",
			Help: "Total capability gateway calls",
		}, []string{"provider", "ability", "outcome"}),
		capabilityDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capability_call_duration_seconds",
			Help:    "Duration of capability gateway calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "ability"}),
		stageCnt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_total",
			Help: "Total stage executions by outcome",
		}, []string{"stage", "outcome"}),
		stageDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of stage executions",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		runCnt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total pipeline runs by terminal status",
		}, []string{"status"}),
		decisionCnt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_decisions_total",
			Help: "Decide stage outcomes",
		}, []string{"outcome"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordCapabilityCall observes one gateway call.
func (m *Metrics) RecordCapabilityCall(provider, ability, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.capabilityCnt.WithLabelValues(provider, ability, outcome).Inc()
	m.capabilityDur.WithLabelValues(provider, ability).Observe(duration.Seconds())
}

// RecordStage observes one stage execution.
func (m *Metrics) RecordStage(stage, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageCnt.WithLabelValues(stage, outcome).Inc()
	m.stageDur.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRun counts a run reaching the given status.
func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.runCnt.WithLabelValues(status).Inc()
}

// RecordDecision counts a Decide stage outcome.
func (m *Metrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisionCnt.WithLabelValues(outcome).Inc()
}
