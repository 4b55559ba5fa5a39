/*
Package auth implements the principal resolution of the gateway.

Every guarded route group admits a request only after one of the
resolvers produced a verified Principal from the request credentials.
Two strategies exist: a bearer token strategy used by services calling
the gateway, and a session cookie strategy used by browsers. Both
verify externally issued, HMAC signed tokens; the gateway never issues
tokens itself.

Outside production, token verification can be bypassed with the
disable-auth option, in which case the constructors return a mock
resolver that manufactures a fixed development principal. The choice
is made once at startup, not per request, and production configurations
always get the real strategy regardless of the flag.
*/
package auth

import (
	"net/http"
)

const (
	authHeaderName   = "Authorization"
	authHeaderPrefix = "Bearer "

	productionEnvironment = "production"
)

// Role of an authenticated platform user.
type Role string

const (
	RoleLearner Role = "learner"
	RoleAuthor  Role = "author"
)

// Principal is the verified caller identity attached to a request. It
// is constructed once per request by a Resolver, is read-only
// afterwards, and is discarded at the end of the request. Its JSON
// form is what the primary API receives in the User-Session header.
type Principal struct {
	UserID       string `json:"userId"`
	Role         Role   `json:"role,omitempty"`
	AssignmentID string `json:"assignmentId,omitempty"`
	GroupID      string `json:"groupId,omitempty"`
	ReturnURL    string `json:"returnUrl,omitempty"`
	Locale       string `json:"locale,omitempty"`
}

// Resolver produces a verified Principal from a request or rejects it
// with an *Error.
type Resolver interface {
	Resolve(*http.Request) (*Principal, error)
}

// Options configure the resolver constructors.
type Options struct {
	// Secret is the HMAC key the externally issued tokens are
	// signed with.
	Secret []byte

	// CookieName is the name of the session cookie carrying the
	// browser token.
	CookieName string

	// Environment is the deployment environment name, e.g.
	// "production" or "development".
	Environment string

	// DisableAuth enables the mock resolvers. It is only honored
	// outside production.
	DisableAuth bool
}

// Bypassed reports whether the mock resolvers replace the real
// strategies. Production never bypasses, regardless of the flag.
func (o Options) Bypassed() bool {
	return o.Environment != productionEnvironment && o.DisableAuth
}
