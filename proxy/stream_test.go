package proxy

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assesshub/gateway/auth"
)

type countingCloser struct {
	mu     sync.Mutex
	closed int
}

func (c *countingCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *countingCloser) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestStreamSessionTearsDownOnce(t *testing.T) {
	c := &countingCloser{}
	s := &streamSession{upstream: c}

	// the client hangup watcher and the relay exit race on teardown
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.teardown()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, c.closes())
}

func streamRequest(t *testing.T, ctx context.Context, url string) *http.Request {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", eventStreamMediaType)
	req.AddCookie(sessionCookie(t, jwt.MapClaims{"userId": "learner-7"}))
	return req
}

func TestClientHangupTearsDownTheUpstream(t *testing.T) {
	firstEvent := make(chan struct{})
	upstreamDone := make(chan struct{})
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", eventStreamMediaType)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: started\n\n"))
		w.(http.Flusher).Flush()
		close(firstEvent)

		<-r.Context().Done()
		close(upstreamDone)
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rsp, err := http.DefaultTransport.RoundTrip(streamRequest(t, ctx, f.server.URL+"/api/v1/assessments/42/events"))
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	line, err := bufio.NewReader(rsp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: started\n", line)

	select {
	case <-firstEvent:
	case <-time.After(time.Second):
		t.Fatal("backend never delivered the first event")
	}

	// hanging up on the gateway must terminate the upstream exchange
	cancel()

	select {
	case <-upstreamDone:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream connection survived the client hangup")
	}
}

func TestStreamEndsWhenTheUpstreamEnds(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", eventStreamMediaType)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: one\n\n"))
		w.(http.Flusher).Flush()
		w.Write([]byte("data: two\n\n"))
	}), nil)

	rsp := f.get(t, "/api/v1/assessments/42/events",
		withCookie(sessionCookie(t, jwt.MapClaims{"userId": "learner-7"})),
		func(r *http.Request) { r.Header.Set("Accept", eventStreamMediaType) },
	)

	require.Equal(t, http.StatusOK, rsp.StatusCode)
	// the wire carries Connection: close, the client reports it via
	// the Close flag
	assert.True(t, rsp.Close)

	var body []byte
	buf := make([]byte, 256)
	for {
		n, err := rsp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}

	assert.Equal(t, "data: one\n\ndata: two\n\n", string(body))
}

func TestConnectionCloseOnlyOnEventStreams(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}), nil)

	// the request asked for a stream, the downstream answered with a
	// plain document
	rsp := f.get(t, "/api/v1/assessments/42",
		withCookie(sessionCookie(t, jwt.MapClaims{"userId": "learner-7"})),
		func(r *http.Request) { r.Header.Set("Accept", eventStreamMediaType) },
	)

	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.False(t, rsp.Close)
}

func TestStreamConnectFailureIsOpaque(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	p := WithParams(Params{
		PrimaryAPIURL:     dead.URL,
		CookieAuth:        auth.NewCookieResolver(auth.Options{Secret: testSecret}),
		AccessLogDisabled: true,
	})
	defer p.Close()

	server := httptest.NewServer(p)
	defer server.Close()

	req := streamRequest(t, context.Background(), server.URL+"/api/v1/assessments/42/events")
	rsp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, rsp.StatusCode)
}
