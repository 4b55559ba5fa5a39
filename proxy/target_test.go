package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assesshub/gateway/auth"
)

func testProxy() *Proxy {
	return WithParams(Params{
		PrimaryAPIURL:             "http://primary.internal:8080",
		CredentialManagerURL:      "http://credman.internal:9000",
		CredentialManagerUser:     "gateway",
		CredentialManagerPassword: "s3cret",
	})
}

func TestResolveTargetPrimaryAPI(t *testing.T) {
	p := testProxy()
	rg := p.matchRoute("/api/v1/assessments")
	require.NotNil(t, rg)

	principal := &auth.Principal{
		UserID:       "learner-7",
		Role:         auth.RoleLearner,
		AssignmentID: "assignment-12",
	}

	r := httptest.NewRequest("GET", "/api/v1/assessments/42?include=items", nil)
	target, err := p.resolveTarget(rg, principal, r)
	require.NoError(t, err)

	assert.Equal(t,
		"http://primary.internal:8080/api/v1/assessments/42?include=items",
		target.url.String(),
	)
	assert.Equal(t, "no-cache", target.header.Get("Cache-Control"))

	var session auth.Principal
	require.NoError(t, json.Unmarshal([]byte(target.header.Get("User-Session")), &session))
	assert.Equal(t, *principal, session)
}

func TestResolveTargetIsDeterministic(t *testing.T) {
	p := testProxy()
	rg := p.matchRoute("/api/v1/assessments")
	principal := &auth.Principal{UserID: "learner-7"}

	r := httptest.NewRequest("GET", "/api/v1/assessments/42", nil)
	first, err := p.resolveTarget(rg, principal, r)
	require.NoError(t, err)

	second, err := p.resolveTarget(rg, principal, r)
	require.NoError(t, err)

	assert.Equal(t, first.url.String(), second.url.String())
	assert.Equal(t, first.header, second.header)
}

func TestResolveTargetCredentialManager(t *testing.T) {
	p := testProxy()
	rg := p.matchRoute("/api/v1/oauth_consumers")
	require.NotNil(t, rg)
	require.Equal(t, ServiceCredentialManager, rg.service)

	r := httptest.NewRequest("GET", "/api/v1/oauth_consumers/7/tokens?active=true", nil)
	target, err := p.resolveTarget(rg, &auth.Principal{UserID: "svc"}, r)
	require.NoError(t, err)

	assert.Equal(t, "http://credman.internal:9000/7/tokens?active=true", target.url.String())
	// base64("gateway:s3cret")
	assert.Equal(t, "Basic Z2F0ZXdheTpzM2NyZXQ=", target.header.Get("Authorization"))
	assert.Empty(t, target.header.Get("User-Session"))
}

func TestResolveTargetUnknownService(t *testing.T) {
	p := testProxy()
	r := httptest.NewRequest("GET", "/api/v1/info", nil)

	_, err := p.resolveTarget(&routeGroup{id: "bogus"}, nil, r)
	assert.Error(t, err)
}

func TestStripSegments(t *testing.T) {
	for _, tt := range []struct {
		path     string
		n        int
		expected string
	}{
		{"/api/v1/oauth_consumers/7/tokens", 3, "/7/tokens"},
		{"/api/v1/oauth_consumers/7", 3, "/7"},
		{"/api/v1/oauth_consumers", 3, "/"},
		{"/api/v1", 3, "/"},
		{"/api/v1/assessments", 0, "/api/v1/assessments"},
		{"/", 1, "/"},
	} {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripSegments(tt.path, tt.n))
		})
	}
}

func TestRouteMatchSegmentBoundaries(t *testing.T) {
	p := testProxy()

	for _, tt := range []struct {
		path     string
		expected string
	}{
		{"/api/v1/info", "info"},
		{"/api/v2/info", "info"},
		{"/api/v1/oauth_consumers/7", "oauth-consumers"},
		{"/api/v1/oauth_consumersx", "api"}, // prefix match stops at segment boundary
		{"/api/v1/admin/assessments", "admin"},
		{"/api/v1/administrators", "api"},
		{"/api/v2/assessments", "api"},
		{"/api/v1", "api"},
		{"/api/v3/assessments", ""},
		{"/metrics", ""},
	} {
		t.Run(tt.path, func(t *testing.T) {
			rg := p.matchRoute(tt.path)
			if tt.expected == "" {
				assert.Nil(t, rg)
				return
			}

			require.NotNil(t, rg)
			assert.Equal(t, tt.expected, rg.id)
		})
	}
}

func TestForwardedHeaders(t *testing.T) {
	client := make(http.Header)
	client.Set("Host", "gateway.example")
	client.Set("Content-Length", "12")
	client.Set("Accept", "application/json")
	client.Set("Cache-Control", "max-age=60")
	client.Set("X-Flow-Id", "flow-1")

	extra := make(http.Header)
	extra.Set("Cache-Control", "no-cache")
	extra.Set("User-Session", `{"userId":"learner-7"}`)

	h := forwardedHeaders(client, extra)

	assert.Empty(t, h.Get("Host"))
	assert.Empty(t, h.Get("Content-Length"))
	assert.Equal(t, "application/json", h.Get("Accept"))
	assert.Equal(t, "flow-1", h.Get("X-Flow-Id"))

	// resolved headers win over the client's
	assert.Equal(t, []string{"no-cache"}, h["Cache-Control"])
	assert.Equal(t, `{"userId":"learner-7"}`, h.Get("User-Session"))
}

func TestResponseHeaderFiltering(t *testing.T) {
	from := make(http.Header)
	from.Set("Content-Type", "application/json")
	from.Set("Cache-Control", "private")
	from.Set("Connection", "keep-alive")
	from.Set("Keep-Alive", "timeout=5")
	from.Set("Transfer-Encoding", "chunked")
	from.Set("Upgrade", "h2c")

	h := cloneHeaderExcluding(from, droppedResponseHeaders)

	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "private", h.Get("Cache-Control"))
	for _, dropped := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade"} {
		assert.Empty(t, h.Get(dropped), dropped)
	}
}
