package proxy

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/assesshub/gateway/auth"
)

// Service identifies a downstream service the gateway forwards to.
// The mapping in resolveTarget is intentionally a closed switch:
// adding a downstream service means adding one case.
type Service int

const (
	ServiceNone Service = iota
	ServicePrimaryAPI
	ServiceCredentialManager
)

func (s Service) String() string {
	switch s {
	case ServicePrimaryAPI:
		return "primary-api"
	case ServiceCredentialManager:
		return "credential-manager"
	default:
		return "none"
	}
}

const (
	userSessionHeaderName = "User-Session"
	authorizationHeader   = "Authorization"
)

// target is the resolved destination of one proxied call. It is
// computed fresh per request and never cached.
type target struct {
	url    *url.URL
	header http.Header
}

// resolveTarget computes the endpoint URL and the extra outbound
// headers for the route group's downstream service. It is a pure
// function of the route group, the principal and the request path,
// plus the static configuration.
func (p *Proxy) resolveTarget(rg *routeGroup, principal *auth.Principal, r *http.Request) (*target, error) {
	switch rg.service {
	case ServicePrimaryAPI:
		u, err := url.Parse(p.primaryAPIURL + r.URL.EscapedPath())
		if err != nil {
			return nil, errInvalidService
		}
		u.RawQuery = r.URL.RawQuery

		h := make(http.Header)
		if principal != nil {
			session, err := json.Marshal(principal)
			if err != nil {
				return nil, &proxyError{err: err, code: http.StatusInternalServerError}
			}
			h.Set(userSessionHeaderName, string(session))
		}
		h.Set("Cache-Control", "no-cache")

		return &target{url: u, header: h}, nil

	case ServiceCredentialManager:
		u, err := url.Parse(p.credentialManagerURL + stripSegments(r.URL.EscapedPath(), rg.rewrite.stripSegments))
		if err != nil {
			return nil, errInvalidService
		}
		u.RawQuery = r.URL.RawQuery

		h := make(http.Header)
		h.Set(authorizationHeader, basicAuthHeader(p.credentialManagerUser, p.credentialManagerPassword))

		return &target{url: u, header: h}, nil

	default:
		return nil, errInvalidService
	}
}

// stripSegments removes the first n path segments. The remainder
// always starts with a slash, so "/api/v1/oauth_consumers/7/tokens"
// stripped by 3 becomes "/7/tokens" and "/api/v1/oauth_consumers"
// becomes "/".
func stripSegments(path string, n int) string {
	if n <= 0 {
		return path
	}

	p := strings.TrimPrefix(path, "/")
	for ; n > 0; n-- {
		_, rest, found := strings.Cut(p, "/")
		if !found {
			return "/"
		}
		p = rest
	}

	return "/" + p
}

func basicAuthHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}
