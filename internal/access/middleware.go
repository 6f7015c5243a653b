package access

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/franchise-tracker/internal/identity"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/httpx"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// Resolver turns an authenticated principal into a scope.
type Resolver interface {
	Resolve(ctx context.Context, p identity.Principal) (Scope, error)
}

// Middleware resolves the caller scope once per request. It must run after
// the identity middleware.
func Middleware(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, logger, shared.ErrUnauthenticated)
				return
			}
			scope, err := resolver.Resolve(r.Context(), principal)
			if err != nil {
				httpx.RespondError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithScope(r.Context(), scope)))
		})
	}
}
