package auth

import (
	"net/http"
)

// DefaultCookieName is used when no session cookie name is configured.
const DefaultCookieName = "assessment_session"

type cookieResolver struct {
	secret     []byte
	cookieName string
}

// NewCookieResolver returns the resolver guarding the browser facing
// route groups. It expects a named cookie holding an HMAC signed JWT
// and maps its claims onto the Principal fields. When o enables the
// development bypass, a mock resolver is returned instead.
func NewCookieResolver(o Options) Resolver {
	if o.Bypassed() {
		return newMockResolver(mockUserPrincipal)
	}

	name := o.CookieName
	if name == "" {
		name = DefaultCookieName
	}

	return &cookieResolver{secret: o.Secret, cookieName: name}
}

func (c *cookieResolver) Resolve(r *http.Request) (*Principal, error) {
	cookie, err := r.Cookie(c.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, errMissingToken
	}

	claims, err := verifyToken(cookie.Value, c.secret)
	if err != nil {
		return nil, err
	}

	p := &Principal{}
	p.UserID, _ = claims["userId"].(string)
	if p.UserID == "" {
		p.UserID, _ = claims["sub"].(string)
	}

	if role, _ := claims["role"].(string); role != "" {
		p.Role = Role(role)
	}

	p.AssignmentID, _ = claims["assignmentId"].(string)
	p.GroupID, _ = claims["groupId"].(string)
	p.ReturnURL, _ = claims["returnUrl"].(string)
	p.Locale, _ = claims["locale"].(string)

	if p.UserID == "" {
		return nil, errInvalidToken
	}

	return p, nil
}
