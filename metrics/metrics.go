/*
Package metrics implements collection of common performance metrics of
the gateway.

The collected metrics include the total request processing time per
route group, the time waiting for the response from the downstream
services, and error counters for backend and streaming failures. The
values are exposed in Prometheus format on the support listener.
*/
package metrics

import (
	"net/http"
	"time"
)

// Options for initializing metrics collection.
type Options struct {
	// Common prefix for the keys of the different collected
	// metrics. Defaults to "gateway".
	Prefix string

	// EnableRuntimeMetrics, when set, Go runtime metrics are
	// collected in addition to the traffic metrics.
	EnableRuntimeMetrics bool
}

// Metrics is the generic interface the forwarding layer uses to
// report measurements.
type Metrics interface {
	// IncCounter increments a custom counter identified by key.
	IncCounter(key string)

	// MeasureServe records the total time of serving a request
	// for a route group.
	MeasureServe(route, method string, code int, start time.Time)

	// MeasureBackend records the duration of a downstream
	// exchange for a route group.
	MeasureBackend(route string, start time.Time)

	// IncErrorsBackend increments the downstream transport error
	// counter for a route group.
	IncErrorsBackend(route string)

	// IncErrorsStreaming increments the mid-stream relay error
	// counter for a route group.
	IncErrorsStreaming(route string)

	// IncRoutingFailures counts requests that matched no route
	// group.
	IncRoutingFailures()
}

// Void is a Metrics implementation that discards all measurements.
var Void Metrics = &void{}

type void struct{}

func (*void) IncCounter(string)                           {}
func (*void) MeasureServe(string, string, int, time.Time) {}
func (*void) MeasureBackend(string, time.Time)            {}
func (*void) IncErrorsBackend(string)                     {}
func (*void) IncErrorsStreaming(string)                   {}
func (*void) IncRoutingFailures()                         {}

// Handler exposes the given metrics backend when it supports
// serving, otherwise a 404 handler.
func Handler(m Metrics) http.Handler {
	if h, ok := m.(interface{ Handler() http.Handler }); ok {
		return h.Handler()
	}

	return http.NotFoundHandler()
}
