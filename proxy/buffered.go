package proxy

import (
	"io"
	"net/http"
	"time"

	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/assesshub/gateway/logging"
)

// forward relays a request through the buffering HTTP client: the
// downstream response is fully materialized before it is written to
// the client. Whatever the downstream answered, status and body are
// relayed verbatim, so the client sees real downstream failures. Only
// when no response exists at all (connection refused, DNS failure,
// timeout) the client gets an opaque 500.
func (p *Proxy) forward(lw *logging.LoggingWriter, r *http.Request, rg *routeGroup, t *target, parent ot.Span) error {
	req, err := p.mapRequest(r, t)
	if err != nil {
		return &proxyError{err: err, code: http.StatusInternalServerError}
	}

	span := p.tracer.StartSpan("proxy", ot.ChildOf(parent.Context()))
	ext.SpanKindRPCClient.Set(span)
	ext.HTTPUrl.Set(span, req.URL.String())
	defer span.Finish()

	_ = p.tracer.Inject(span.Context(), ot.HTTPHeaders, ot.HTTPHeadersCarrier(req.Header))

	p.log.Debugf("forwarding %s %s", req.Method, req.URL)

	client := p.client
	if req.URL.Scheme == "https" {
		client = p.clientTLS
	}

	backendStart := time.Now()
	rsp, err := client.Do(req)
	if err != nil {
		p.metrics.IncErrorsBackend(rg.id)
		ext.Error.Set(span, true)
		return &proxyError{err: err, code: http.StatusInternalServerError}
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		p.metrics.IncErrorsBackend(rg.id)
		ext.Error.Set(span, true)
		return &proxyError{err: err, code: http.StatusInternalServerError}
	}

	p.metrics.MeasureBackend(rg.id, backendStart)
	ext.HTTPStatusCode.Set(span, uint16(rsp.StatusCode))

	copyHeaderExcluding(lw.Header(), rsp.Header, droppedResponseHeaders)
	lw.WriteHeader(rsp.StatusCode)
	if _, err := lw.Write(body); err != nil {
		// the response is already committed, only log
		p.log.Debugf("failed to write response to client: %v", err)
	}

	return nil
}

// mapRequest creates the outgoing request for the resolved target
// based on the incoming one. The client request context is carried
// over, so a client disconnect cancels the downstream exchange.
func (p *Proxy) mapRequest(r *http.Request, t *target) (*http.Request, error) {
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, t.url.String(), body)
	if err != nil {
		return nil, err
	}

	req.ContentLength = r.ContentLength
	req.Header = forwardedHeaders(r.Header, t.header)
	return req, nil
}
