package auth

import (
	"net/http"
)

// Fixed principals handed out by the development bypass. The user
// variant mirrors what a freshly issued learner session would carry.
var (
	mockServicePrincipal = Principal{
		UserID: "dev-service",
	}

	mockUserPrincipal = Principal{
		UserID:       "dev-user",
		Role:         RoleLearner,
		AssignmentID: "dev-assignment",
		GroupID:      "dev-group",
		Locale:       "en",
	}
)

type mockResolver struct {
	principal Principal
}

func newMockResolver(p Principal) *mockResolver {
	return &mockResolver{principal: p}
}

// Resolve admits every request with a copy of the fixed principal.
func (m *mockResolver) Resolve(*http.Request) (*Principal, error) {
	p := m.principal
	return &p, nil
}
