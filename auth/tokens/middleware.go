package tokens

import (
	"context"
	"net/http"
	"strings"

	"github.com/acton-service/acton-service/infrastructure/httputil"
	authmw "github.com/acton-service/acton-service/infrastructure/middleware"
)

type contextKey string

const claimsContextKey contextKey = "acton_token_claims"

// ClaimsFromContext returns the validated Claims stashed by AuthMiddleware,
// if any request in this call chain passed through it.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(Claims)
	return c, ok
}

// AuthMiddleware extracts a bearer token from the Authorization header,
// validates it with v, and rejects the request on any ValidationError.
// On success it stashes Claims in the request context and propagates the
// subject via infrastructure/middleware's user-ID context key so downstream
// middleware (rate limiting, audit) that key off GetUserID keep working
// unchanged.
func AuthMiddleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.Unauthorized(w, "missing bearer token")
				return
			}

			claims, err := v.Validate(token)
			if err != nil {
				httputil.Unauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = authmw.WithUserID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
