package auth

import "net/http"

// Error is a rejected principal resolution. Code is the HTTP status
// the dispatch layer responds with; the reason is only logged, never
// sent to the client.
type Error struct {
	Code   int
	Reason string
}

func (e *Error) Error() string { return e.Reason }

var (
	errMissingToken = &Error{Code: http.StatusUnauthorized, Reason: "missing credentials"}
	errInvalidToken = &Error{Code: http.StatusUnauthorized, Reason: "invalid or expired token"}
	errNotService   = &Error{Code: http.StatusForbidden, Reason: "token lacks the service claim"}
)
