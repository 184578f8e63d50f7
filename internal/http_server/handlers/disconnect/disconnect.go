package disconnect

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

func New(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.disconnect.New"

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

		service := chi.URLParam(r, "service")

		if err := authService.Disconnect(r.Context(), claims.UserID, service); err != nil {
			if errors.Is(err, auth.ErrUnknownService) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Unknown service"))

				return
			}

			log.Error("failed to disconnect service", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.JSON(w, r, resp.OK())
	}
}
