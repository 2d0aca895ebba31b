package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/animehub/backend/internal/auth"
	"github.com/animehub/backend/internal/logging"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Authenticate attaches the caller identity of a valid bearer token to the
// request context. Requests without a token continue anonymously; requests with
// an invalid token are rejected with 401. A nil verifier disables the check.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "malformed authorization header")
				return
			}

			claims, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				logging.FromContext(r.Context()).Warn("bearer token rejected", slog.String("error", err.Error()))
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
				return
			}

			ctx := auth.WithSubject(r.Context(), claims.Subject)
			ctx = logging.With(ctx, slog.String("subject", claims.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
