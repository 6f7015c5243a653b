package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/identity"
	"github.com/odyssey-erp/franchise-tracker/internal/observability"
)

type staticResolver struct {
	scope access.Scope
}

func (s staticResolver) Resolve(ctx context.Context, p identity.Principal) (access.Scope, error) {
	scope := s.scope
	scope.PrincipalID = p.ID
	return scope, nil
}

func newTestRouter(t *testing.T) (http.Handler, *identity.Verifier) {
	t.Helper()
	verifier := identity.NewVerifier("test-secret", "")
	franchiseID := uuid.New()
	handler := NewRouter(RouterParams{
		Logger:        NewLogger(nil),
		Config:        &Config{AppRequestTimeout: time.Second},
		Verifier:      verifier,
		ScopeResolver: staticResolver{scope: access.Scope{Role: access.RoleFranchise, FranchiseID: &franchiseID}},
		AccessHandler: access.NewHandler(NewLogger(nil), nil),
		Metrics:       observability.NewMetrics(),
	})
	return handler, verifier
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestAPIRequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMeReturnsResolvedScope(t *testing.T) {
	router, verifier := newTestRouter(t)
	token, err := verifier.Sign(identity.Principal{ID: "principal-1", Email: "p1@example.com"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "franchise", body["role"])
}
