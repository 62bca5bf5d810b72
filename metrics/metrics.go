package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portfolio_oracle"

// Metrics groups the oracle's prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without a registry.
type Metrics struct {
	registry *prometheus.Registry

	askTotal          *prometheus.CounterVec
	askDuration       prometheus.Histogram
	generationFailure *prometheus.CounterVec
	sourceRefresh     *prometheus.CounterVec
	contextDuration   *prometheus.HistogramVec
	apiErrors         *prometheus.CounterVec
	passagesSelected  prometheus.Histogram
}

// New registers the oracle collectors (plus Go runtime collectors) on registry.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		askTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_total",
			Help:      "Questions answered, by whether the answer was grounded.",
		}, []string{"grounded"}),
		askDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "End-to-end latency of ask.",
			Buckets:   prometheus.DefBuckets,
		}),
		generationFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Completion provider failures by kind.",
		}, []string{"kind"}),
		sourceRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_refresh_total",
			Help:      "Source cache refreshes by source and result.",
		}, []string{"source", "result"}),
		contextDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_assembly_seconds",
			Help:      "Context assembly duration by retrieval mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "HTTP error responses by route and status.",
		}, []string{"method", "route", "status"}),
		passagesSelected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "passages_selected",
			Help:      "Passages selected per ranked assembly.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
	}

	registry.MustRegister(
		m.askTotal,
		m.askDuration,
		m.generationFailure,
		m.sourceRefresh,
		m.contextDuration,
		m.apiErrors,
		m.passagesSelected,
	)
	// Ignore duplicate registration when the caller already added runtime collectors.
	_ = registry.Register(collectors.NewGoCollector())
	_ = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) ObserveAsk(grounded bool, seconds float64) {
	if m == nil {
		return
	}
	m.askTotal.WithLabelValues(strconv.FormatBool(grounded)).Inc()
	m.askDuration.Observe(seconds)
}

func (m *Metrics) GenerationFailureInc(kind string) {
	if m == nil {
		return
	}
	m.generationFailure.WithLabelValues(kind).Inc()
}

func (m *Metrics) SourceRefreshInc(source, result string) {
	if m == nil {
		return
	}
	m.sourceRefresh.WithLabelValues(source, result).Inc()
}

func (m *Metrics) ContextTimer(mode string) *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(nil)
	}
	return prometheus.NewTimer(m.contextDuration.WithLabelValues(mode))
}

func (m *Metrics) ObservePassages(n int) {
	if m == nil {
		return
	}
	m.passagesSelected.Observe(float64(n))
}

func (m *Metrics) APIErrorInc(method, route string, status int) {
	if m == nil {
		return
	}
	m.apiErrors.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	var h = promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	if m != nil {
		h = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return gin.WrapH(h)
}
