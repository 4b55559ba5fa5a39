package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace          = "gateway"
	promProxySubsystem     = "backend"
	promStreamingSubsystem = "streaming"
	promServeSubsystem     = "serve"
	promRouteSubsystem     = "route"
	promCustomSubsystem    = "custom"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	serveM                *prometheus.HistogramVec
	proxyBackendM         *prometheus.HistogramVec
	proxyBackendErrorsM   *prometheus.CounterVec
	proxyStreamingErrorsM *prometheus.CounterVec
	routeErrorsM          prometheus.Counter
	customCounterM        *prometheus.CounterVec

	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	serve := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promServeSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of serving a request.",
	}, []string{"route", "method", "code"})

	proxyBackend := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promProxySubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of a downstream exchange.",
	}, []string{"route"})

	proxyBackendErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promProxySubsystem,
		Name:      "error_total",
		Help:      "The total of downstream transport errors.",
	}, []string{"route"})

	proxyStreamingErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promStreamingSubsystem,
		Name:      "error_total",
		Help:      "The total of mid-stream relay errors.",
	}, []string{"route"})

	routeErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promRouteSubsystem,
		Name:      "error_total",
		Help:      "The total of requests that matched no route group.",
	})

	customCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "total",
		Help:      "Total number of custom metrics.",
	}, []string{"key"})

	p := &Prometheus{
		serveM:                serve,
		proxyBackendM:         proxyBackend,
		proxyBackendErrorsM:   proxyBackendErrors,
		proxyStreamingErrorsM: proxyStreamingErrors,
		routeErrorsM:          routeErrors,
		customCounterM:        customCounter,
		registry:              prometheus.NewRegistry(),
	}

	p.registry.MustRegister(
		serve,
		proxyBackend,
		proxyBackendErrors,
		proxyStreamingErrors,
		routeErrors,
		customCounter,
	)

	if opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewGoCollector())
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	p.handler = promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return p
}

// Handler returns the HTTP handler exposing the collected metrics.
func (p *Prometheus) Handler() http.Handler {
	return p.handler
}

func (p *Prometheus) IncCounter(key string) {
	p.customCounterM.WithLabelValues(key).Inc()
}

func (p *Prometheus) MeasureServe(route, method string, code int, start time.Time) {
	p.serveM.WithLabelValues(route, measuredMethod(method), strconv.Itoa(code)).
		Observe(time.Since(start).Seconds())
}

func (p *Prometheus) MeasureBackend(route string, start time.Time) {
	p.proxyBackendM.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

func (p *Prometheus) IncErrorsBackend(route string) {
	p.proxyBackendErrorsM.WithLabelValues(route).Inc()
}

func (p *Prometheus) IncErrorsStreaming(route string) {
	p.proxyStreamingErrorsM.WithLabelValues(route).Inc()
}

func (p *Prometheus) IncRoutingFailures() {
	p.routeErrorsM.Inc()
}

// measuredMethod limits the method label cardinality to the known
// HTTP methods.
func measuredMethod(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return m
	default:
		return "_unknownmethod_"
	}
}
