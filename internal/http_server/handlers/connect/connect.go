package connect

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"beatsync/internal/auth"
	resp "beatsync/internal/lib/api/response"
	sl "beatsync/internal/lib/logger"
	"beatsync/internal/middleware/authn"
)

// New handles GET /auth/{provider}/login: mint a state token bound to the
// authenticated user and redirect the browser to the provider's consent
// screen.
func New(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.connect.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		claims, ok := authn.Claims(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthorized"))

			return
		}

		provider := chi.URLParam(r, "provider")

		authURL, err := authService.ConnectURL(claims.UserID, provider)
		if err != nil {
			if errors.Is(err, auth.ErrUnknownService) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("Unknown provider"))

				return
			}

			log.Error("failed to build authorization url", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("redirecting to provider", slog.String("provider", provider))

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}
