package proxy

import (
	"io"
	"net/http"
	"sync"

	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/assesshub/gateway/logging"
)

// streamSession is one in-flight proxied byte stream. Two independent
// termination signals race on it, the client hangup and the upstream
// end, and whichever fires first must tear the counterpart connection
// down exactly once.
type streamSession struct {
	upstream io.Closer
	once     sync.Once
}

func (s *streamSession) teardown() {
	s.once.Do(func() {
		s.upstream.Close()
	})
}

// forwardStream relays a downstream exchange byte by byte as the data
// arrives, without buffering. Event stream requests use the
// non-reusing connection pools, a long-lived streaming connection must
// never be handed back to a shared pool.
func (p *Proxy) forwardStream(lw *logging.LoggingWriter, r *http.Request, rg *routeGroup, t *target, parent ot.Span) error {
	req, err := p.mapRequest(r, t)
	if err != nil {
		return &proxyError{err: err, code: http.StatusInternalServerError}
	}

	span := p.tracer.StartSpan("proxy_stream", ot.ChildOf(parent.Context()))
	ext.SpanKindRPCClient.Set(span)
	ext.HTTPUrl.Set(span, req.URL.String())
	defer span.Finish()

	_ = p.tracer.Inject(span.Context(), ot.HTTPHeaders, ot.HTTPHeadersCarrier(req.Header))

	p.log.Debugf("opening stream %s %s", req.Method, req.URL)

	tr := p.transports.Get(req.URL.Scheme, !isEventStreamRequest(r))
	rsp, err := tr.RoundTrip(req)
	if err != nil {
		if r.Context().Err() != nil {
			// client hangup during connect is not a forwarding failure
			return nil
		}

		p.metrics.IncErrorsBackend(rg.id)
		ext.Error.Set(span, true)
		return &proxyError{err: err, code: http.StatusInternalServerError}
	}

	session := &streamSession{upstream: rsp.Body}
	defer session.teardown()

	// A client hangup must propagate to the upstream connection in
	// the same turn it is observed, even while the relay loop is
	// blocked reading the upstream.
	relayDone := make(chan struct{})
	defer close(relayDone)
	go func() {
		select {
		case <-r.Context().Done():
			session.teardown()
		case <-relayDone:
		}
	}()

	copyHeaderExcluding(lw.Header(), rsp.Header, droppedResponseHeaders)
	if isEventStreamResponse(rsp) {
		// intermediaries must not keep the connection alive past
		// the logical end of the stream
		lw.Header().Set("Connection", "close")
	}

	ext.HTTPStatusCode.Set(span, uint16(rsp.StatusCode))
	lw.WriteHeader(rsp.StatusCode)
	lw.Flush()

	if err := copyStream(lw, rsp.Body); err != nil {
		if r.Context().Err() != nil {
			return nil
		}

		p.metrics.IncErrorsStreaming(rg.id)
		ext.Error.Set(span, true)
		// the response is already committed, the failure can only
		// be logged and the connection terminated
		p.log.Errorf("error while relaying stream, route %s: %v", rg.id, err)
		return &proxyError{err: err, handled: true}
	}

	return nil
}

// copies a stream with flushing on every successful read operation
// (similar to io.Copy but with flushing)
func copyStream(to *logging.LoggingWriter, from io.Reader) error {
	b := make([]byte, proxyBufferSize)

	for {
		l, rerr := from.Read(b)

		if rerr != nil && rerr != io.EOF {
			return rerr
		}

		if l > 0 {
			_, werr := to.Write(b[:l])
			if werr != nil {
				return werr
			}

			to.Flush()
		}

		if rerr == io.EOF {
			return nil
		}
	}
}
