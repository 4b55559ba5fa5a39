/*
Package proxy implements the request forwarding core of the gateway.

Every inbound request is matched against a small static set of route
groups, admitted by the group's guard, classified as buffered or
streaming by its Accept header, and forwarded to the downstream
service owned by the group. Ordinary API calls go through a buffering
HTTP client; requests asking for an event stream are relayed byte by
byte over a dedicated, non-pooling connection.
*/
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/assesshub/gateway/auth"
	"github.com/assesshub/gateway/logging"
	"github.com/assesshub/gateway/metrics"
	"github.com/assesshub/gateway/telemetry"
)

const (
	proxyBufferSize = 8192

	unknownRouteID = "_unknownroute_"

	eventStreamMediaType = "text/event-stream"

	flowIDHeaderName = "X-Flow-Id"
)

// Params initialize a Proxy.
type Params struct {
	// PrimaryAPIURL is the base address of the primary API
	// service.
	PrimaryAPIURL string

	// CredentialManagerURL is the base address of the credential
	// manager service, with the Basic-Auth credentials it
	// requires.
	CredentialManagerURL      string
	CredentialManagerUser     string
	CredentialManagerPassword string

	// BearerAuth guards the service-to-service route groups.
	BearerAuth auth.Resolver

	// CookieAuth guards the browser facing catch-all route group.
	CookieAuth auth.Resolver

	// Publisher receives a usage event per version probe hit.
	// Defaults to a publisher discarding all events.
	Publisher telemetry.Publisher

	// Transports are the shared connection pools. When nil, pools
	// with default options are created.
	Transports *Transports

	// BackendTimeout bounds a buffered downstream exchange. Zero
	// means no gateway side deadline. It never applies to
	// streaming exchanges.
	BackendTimeout time.Duration

	// Metrics defaults to discarding all measurements.
	Metrics metrics.Metrics

	// Tracer defaults to a noop tracer.
	Tracer ot.Tracer

	// AccessLogDisabled suppresses the per-request access log
	// entries.
	AccessLogDisabled bool
}

// Proxy is the http.Handler forwarding inbound requests to the
// downstream services.
type Proxy struct {
	routes []*routeGroup

	primaryAPIURL             string
	credentialManagerURL      string
	credentialManagerUser     string
	credentialManagerPassword string

	transports        *Transports
	client            *http.Client
	clientTLS         *http.Client
	publisher         telemetry.Publisher
	metrics           metrics.Metrics
	tracer            ot.Tracer
	log               logging.Logger
	accessLogDisabled bool
}

// proxyError is used to wrap errors during forwarding and to indicate
// the required status code for the response sent from the main
// ServeHTTP method. Alternatively, it can indicate that the response
// was already committed and only cleanup is possible.
type proxyError struct {
	err     error
	code    int
	handled bool
}

func (e *proxyError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("proxy error: %v", e.err)
	}

	if e.handled {
		return "response already committed"
	}

	code := e.code
	if code == 0 {
		code = http.StatusInternalServerError
	}

	return fmt.Sprintf("proxy error: %d", code)
}

var errInvalidService = &proxyError{
	err:  errors.New("unknown downstream service"),
	code: http.StatusBadRequest,
}

// rewriteRule is the named path rewrite of a route group. Keeping the
// rule on the group ties the stripped segment count to the prefix it
// belongs to, instead of a positional convention at the call site.
type rewriteRule struct {
	stripSegments int
}

// routeGroup is one static route of the gateway: a set of path
// prefixes, the guard admitting requests, and the downstream service
// owning them.
type routeGroup struct {
	id       string
	prefixes []string
	guard    auth.Resolver
	service  Service
	rewrite  rewriteRule
	probe    bool
}

func (rg *routeGroup) match(path string) bool {
	for _, prefix := range rg.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}

	return false
}

// WithParams returns an initialized Proxy.
func WithParams(p Params) *Proxy {
	if p.Transports == nil {
		p.Transports = NewTransports(TransportOptions{})
	}

	if p.Metrics == nil {
		p.Metrics = metrics.Void
	}

	if p.Tracer == nil {
		p.Tracer = &ot.NoopTracer{}
	}

	if p.Publisher == nil {
		p.Publisher = telemetry.Nop
	}

	routes := []*routeGroup{
		{
			id:       "info",
			prefixes: []string{"/api/v1/info", "/api/v2/info"},
			probe:    true,
		},
		{
			id:       "oauth-consumers",
			prefixes: []string{"/api/v1/oauth_consumers", "/api/v2/oauth_consumers"},
			guard:    p.BearerAuth,
			service:  ServiceCredentialManager,
			rewrite:  rewriteRule{stripSegments: 3},
		},
		{
			id:       "admin",
			prefixes: []string{"/api/v1/admin", "/api/v2/admin"},
			guard:    p.BearerAuth,
			service:  ServicePrimaryAPI,
		},
		{
			id:       "api",
			prefixes: []string{"/api/v1", "/api/v2"},
			guard:    p.CookieAuth,
			service:  ServicePrimaryAPI,
		},
	}

	// redirects from the downstream services are relayed to the
	// client, never followed by the gateway
	relayRedirects := func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Proxy{
		routes:                    routes,
		primaryAPIURL:             strings.TrimSuffix(p.PrimaryAPIURL, "/"),
		credentialManagerURL:      strings.TrimSuffix(p.CredentialManagerURL, "/"),
		credentialManagerUser:     p.CredentialManagerUser,
		credentialManagerPassword: p.CredentialManagerPassword,
		transports:                p.Transports,
		client: &http.Client{
			Transport:     p.Transports.Get("http", true),
			CheckRedirect: relayRedirects,
			Timeout:       p.BackendTimeout,
		},
		clientTLS: &http.Client{
			Transport:     p.Transports.Get("https", true),
			CheckRedirect: relayRedirects,
			Timeout:       p.BackendTimeout,
		},
		publisher:         p.Publisher,
		metrics:           p.Metrics,
		tracer:            p.Tracer,
		log:               &logging.DefaultLog{},
		accessLogDisabled: p.AccessLogDisabled,
	}
}

// Close releases the idle downstream connections.
func (p *Proxy) Close() error {
	p.transports.CloseIdleConnections()
	return nil
}

func (p *Proxy) matchRoute(path string) *routeGroup {
	for _, rg := range p.routes {
		if rg.match(path) {
			return rg
		}
	}

	return nil
}

// isEventStreamRequest classifies a request as streaming when its
// Accept header declares the event stream media type.
func isEventStreamRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), eventStreamMediaType)
}

func isEventStreamResponse(rsp *http.Response) bool {
	return strings.Contains(rsp.Header.Get("Content-Type"), eventStreamMediaType)
}

func ensureFlowID(r *http.Request) string {
	id := r.Header.Get(flowIDHeaderName)
	if id == "" {
		id = uuid.NewString()
		r.Header.Set(flowIDHeaderName, id)
	}

	return id
}

// send a premature error response
func (p *Proxy) sendError(lw *logging.LoggingWriter, code int) {
	http.Error(lw, http.StatusText(code), code)
}

func (p *Proxy) errorResponse(lw *logging.LoggingWriter, rg *routeGroup, err error) {
	perr, ok := err.(*proxyError)
	if ok && perr.handled {
		return
	}

	code := http.StatusInternalServerError
	if ok && perr.code != 0 {
		code = perr.code
	}

	p.log.Errorf("error while forwarding, route %s, status code %d: %v", rg.id, code, err)
	p.sendError(lw, code)
}

// http.Handler implementation
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lw := logging.NewLoggingWriter(w)
	start := time.Now()
	flowID := ensureFlowID(r)

	p.metrics.IncCounter("incoming." + r.Proto)

	span := p.startIngressSpan(r)
	defer span.Finish()

	if !p.accessLogDisabled {
		defer func() {
			logging.LogAccess(&logging.AccessEntry{
				Request:      r,
				StatusCode:   lw.GetCode(),
				ResponseSize: lw.GetBytes(),
				RequestTime:  start,
				Duration:     time.Since(start),
				FlowID:       flowID,
			})
		}()
	}

	rg := p.matchRoute(r.URL.Path)
	if rg == nil {
		p.metrics.IncRoutingFailures()
		p.sendError(lw, http.StatusNotFound)
		p.metrics.MeasureServe(unknownRouteID, r.Method, lw.GetCode(), start)
		return
	}

	if rg.probe {
		p.serveProbe(lw, r)
		p.metrics.MeasureServe(rg.id, r.Method, lw.GetCode(), start)
		return
	}

	var principal *auth.Principal
	if rg.guard != nil {
		var err error
		principal, err = rg.guard.Resolve(r)
		if err != nil {
			code := http.StatusUnauthorized
			var ae *auth.Error
			if errors.As(err, &ae) {
				code = ae.Code
			}

			p.log.Debugf("rejected %s %s: %v", r.Method, r.URL.Path, err)
			ext.HTTPStatusCode.Set(span, uint16(code))
			p.sendError(lw, code)
			return
		}
	}

	target, err := p.resolveTarget(rg, principal, r)
	if err == nil {
		if isEventStreamRequest(r) {
			err = p.forwardStream(lw, r, rg, target, span)
		} else {
			err = p.forward(lw, r, rg, target, span)
		}
	}

	if err != nil {
		ext.Error.Set(span, true)
		p.errorResponse(lw, rg, err)
	}

	ext.HTTPStatusCode.Set(span, uint16(lw.GetCode()))
	p.metrics.MeasureServe(rg.id, r.Method, lw.GetCode(), start)
}

// serveProbe answers the liveness/version probe and emits one
// fire-and-forget usage event. The event delivery never affects the
// response.
func (p *Proxy) serveProbe(lw *logging.LoggingWriter, r *http.Request) {
	version := 1
	if strings.HasPrefix(r.URL.Path, "/api/v2/") || r.URL.Path == "/api/v2/info" {
		version = 2
	}

	p.publisher.Publish(telemetry.Event{
		Name:    "info-probe",
		Path:    r.URL.Path,
		Version: version,
		Time:    time.Now(),
	})

	lw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(lw).Encode(map[string]int{"version": version}); err != nil {
		p.log.Errorf("failed to write probe response: %v", err)
	}
}

func (p *Proxy) startIngressSpan(r *http.Request) ot.Span {
	var span ot.Span
	wireContext, err := p.tracer.Extract(ot.HTTPHeaders, ot.HTTPHeadersCarrier(r.Header))
	if err == nil {
		span = p.tracer.StartSpan("ingress", ext.RPCServerOption(wireContext))
	} else {
		span = p.tracer.StartSpan("ingress")
	}

	ext.Component.Set(span, "gateway")
	ext.HTTPMethod.Set(span, r.Method)
	ext.HTTPUrl.Set(span, r.URL.String())
	return span
}
