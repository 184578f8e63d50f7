package callback

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"beatsync/internal/auth"
	sl "beatsync/internal/lib/logger"
	"beatsync/internal/oauth"
)

// Failure categories passed to the frontend. Upstream error payloads are
// logged server-side and never forwarded.
const (
	errMissingCode     = "missing_code"
	errUnauthorized    = "unauthorized_state"
	errUpstreamFailure = "authentication_failed"
	errInternal        = "internal_error"
)

// New handles GET /auth/{provider}/callback. The endpoint is public: the
// browser's bearer token does not reliably survive the cross-site redirect,
// so the initiating user is recovered from the state token alone.
func New(
	log *slog.Logger,
	authService *auth.Auth,
	frontendURL string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.callback.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		provider := chi.URLParam(r, "provider")
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		if code == "" {
			log.Warn("callback without authorization code")
			redirectError(w, r, frontendURL, errMissingCode)

			return
		}

		_, err := authService.HandleConnectCallback(r.Context(), provider, code, state)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUnauthorizedState), errors.Is(err, auth.ErrUnknownService):
				redirectError(w, r, frontendURL, errUnauthorized)
			case errors.Is(err, oauth.ErrUpstreamAuthFailure):
				log.Error("provider rejected code exchange", sl.Err(err))
				redirectError(w, r, frontendURL, errUpstreamFailure)
			default:
				log.Error("connect callback failed", sl.Err(err))
				redirectError(w, r, frontendURL, errInternal)
			}

			return
		}

		log.Info("service connected", slog.String("provider", provider))

		http.Redirect(w, r,
			fmt.Sprintf("%s/settings?connected=%s", frontendURL, url.QueryEscape(provider)),
			http.StatusFound,
		)
	}
}

func redirectError(w http.ResponseWriter, r *http.Request, frontendURL, category string) {
	http.Redirect(w, r,
		fmt.Sprintf("%s/settings?error=%s", frontendURL, url.QueryEscape(category)),
		http.StatusFound,
	)
}
