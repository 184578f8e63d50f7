package authn

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	resp "beatsync/internal/lib/api/response"
	"beatsync/internal/lib/jwt"
)

type ctxKey struct{}

// New returns middleware that verifies the Authorization bearer token and
// injects the claims into the request context. Every verification failure is
// a plain 401; the client's uniform reaction is to drop its stored token.
func New(log *slog.Logger, tokens *jwt.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, r)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, r)
				return
			}

			claims, err := tokens.ParseBearerToken(parts[1])
			if err != nil {
				log.Info("bearer token rejected", slog.String("err", err.Error()))
				unauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Claims extracts the verified bearer claims from the request context.
func Claims(ctx context.Context) (jwt.BearerClaims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(jwt.BearerClaims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, resp.Error("Unauthorized"))
}
