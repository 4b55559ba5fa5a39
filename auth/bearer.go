package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// serviceClaim is the boolean claim a bearer token must carry to be
// accepted as a service-to-service credential.
const serviceClaim = "admin"

type bearerResolver struct {
	secret []byte
}

// NewBearerResolver returns the resolver guarding the
// service-to-service route groups. It expects an
// "Authorization: Bearer <token>" header with an HMAC signed JWT whose
// admin claim is true. When o enables the development bypass, a mock
// resolver is returned instead.
func NewBearerResolver(o Options) Resolver {
	if o.Bypassed() {
		return newMockResolver(mockServicePrincipal)
	}

	return &bearerResolver{secret: o.Secret}
}

func (b *bearerResolver) Resolve(r *http.Request) (*Principal, error) {
	h := r.Header.Get(authHeaderName)
	if !strings.HasPrefix(h, authHeaderPrefix) {
		return nil, errMissingToken
	}

	claims, err := verifyToken(h[len(authHeaderPrefix):], b.secret)
	if err != nil {
		return nil, err
	}

	if isService, _ := claims[serviceClaim].(bool); !isService {
		return nil, errNotService
	}

	sub, _ := claims["sub"].(string)
	return &Principal{UserID: sub}, nil
}

// verifyToken checks the signature and the standard validity claims of
// an externally issued token and returns its claim set.
func verifyToken(value string, secret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(value, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}

	return claims, nil
}
