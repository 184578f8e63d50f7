// Package oauthlogin implements the anonymous login-via-OAuth variant: no
// bearer token is required to start the flow and the account is resolved from
// the provider profile on the return leg.
package oauthlogin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"beatsync/internal/auth"
	resp "beatsync/internal/lib/api/response"
	sl "beatsync/internal/lib/logger"
	"beatsync/internal/oauth"
)

// Start handles GET /auth/oauth/{provider}.
func Start(
	log *slog.Logger,
	authService *auth.Auth,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.oauthlogin.Start"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		provider := chi.URLParam(r, "provider")

		authURL, err := authService.LoginURL(provider)
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

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// Callback handles GET /auth/oauth/{provider}/callback and redirects to the
// frontend success page with a freshly issued bearer token.
func Callback(
	log *slog.Logger,
	authService *auth.Auth,
	frontendURL string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.oauthlogin.Callback"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		provider := chi.URLParam(r, "provider")
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		if code == "" {
			log.Warn("callback without authorization code")
			redirectError(w, r, frontendURL, "missing_code")

			return
		}

		_, token, err := authService.HandleLoginCallback(r.Context(), provider, code, state)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUnauthorizedState), errors.Is(err, auth.ErrUnknownService):
				redirectError(w, r, frontendURL, "unauthorized_state")
			case errors.Is(err, oauth.ErrUpstreamAuthFailure):
				log.Error("provider rejected login", sl.Err(err))
				redirectError(w, r, frontendURL, "authentication_failed")
			default:
				log.Error("oauth login failed", sl.Err(err))
				redirectError(w, r, frontendURL, "internal_error")
			}

			return
		}

		log.Info("oauth login completed", slog.String("provider", provider))

		http.Redirect(w, r,
			fmt.Sprintf("%s/auth/success?token=%s", frontendURL, url.QueryEscape(token)),
			http.StatusFound,
		)
	}
}

func redirectError(w http.ResponseWriter, r *http.Request, frontendURL, category string) {
	http.Redirect(w, r,
		fmt.Sprintf("%s/auth?error=%s", frontendURL, url.QueryEscape(category)),
		http.StatusFound,
	)
}
