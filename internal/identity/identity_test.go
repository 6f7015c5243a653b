package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "idp")
	token, err := v.Sign(Principal{ID: "p-1", Email: "owner@example.com"}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{ID: "p-1", Email: "owner@example.com"}, p)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret", "idp")
	other := NewVerifier("other", "idp")
	foreign := NewVerifier("secret", "someone-else")

	wrongKey, err := other.Sign(Principal{ID: "p-1"}, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := foreign.Sign(Principal{ID: "p-1"}, time.Hour)
	require.NoError(t, err)
	noSubject, err := v.Sign(Principal{}, time.Hour)
	require.NoError(t, err)

	past := NewVerifier("secret", "idp")
	past.WithNow(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	expired, err := past.Sign(Principal{ID: "p-1"}, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"expired":      expired,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.ErrorIs(t, err, shared.ErrUnauthenticated)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", "")
	token, err := v.Sign(Principal{ID: "p-9"}, time.Hour)
	require.NoError(t, err)

	var seen Principal
	h := v.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "p-9", seen.ID)

	req = httptest.NewRequest(http.MethodGet, "/stream?access_token="+token, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
