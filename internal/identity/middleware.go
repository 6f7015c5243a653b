package identity

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/franchise-tracker/internal/platform/httpx"
)

// Middleware authenticates the bearer token and stores the principal in the
// request context. SSE clients that cannot set headers may pass access_token.
func (v *Verifier) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := v.Verify(bearerToken(r))
			if err != nil {
				if logger != nil {
					logger.Debug("identity rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.RespondError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return token
	}
	return r.URL.Query().Get("access_token")
}
