package profile

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"beatsync/internal/auth"
	resp "beatsync/internal/lib/api/response"
	sl "beatsync/internal/lib/logger"
	"beatsync/internal/middleware/authn"
)

func New(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.profile.New"

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

		user, err := authService.Profile(r.Context(), claims.UserID)
		if err != nil {
			log.Error("failed to load profile", sl.Err(err))

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthorized"))

			return
		}

		render.JSON(w, r, user.Profile())
	}
}
