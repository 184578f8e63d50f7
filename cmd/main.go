package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"

	"beatsync/internal/auth"
	"beatsync/internal/config"
	"beatsync/internal/events"
	"beatsync/internal/http_server/handlers/callback"
	"beatsync/internal/http_server/handlers/connect"
	"beatsync/internal/http_server/handlers/disconnect"
	"beatsync/internal/http_server/handlers/login"
	"beatsync/internal/http_server/handlers/oauthlogin"
	"beatsync/internal/http_server/handlers/profile"
	"beatsync/internal/http_server/handlers/signup"
	libjwt "beatsync/internal/lib/jwt"
	"beatsync/internal/middleware/authn"
	rateLimit "beatsync/internal/middleware/ratelimit"
	"beatsync/internal/oauth"
	"beatsync/internal/storage/postgres"
	"beatsync/internal/storage/redis"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting beatsync", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	if err := postgres.Migrate(cfg); err != nil {
		log.Error("failed to run migrations", slog.String("err", err.Error()))
		os.Exit(1)
	}

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	stateCache, err := redis.New(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Error("failed to connect redis", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer stateCache.Close()

	publisher, err := events.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer publisher.Close()

	tokens := libjwt.New(cfg.Tokens.Secret, cfg.Tokens.BearerTTL, cfg.Tokens.StateTTL)

	providers := []oauth.Provider{
		oauth.NewSpotify(oauth.Config{
			ClientID:         cfg.OAuth.Spotify.ClientID,
			ClientSecret:     cfg.OAuth.Spotify.ClientSecret,
			RedirectURI:      cfg.OAuth.Spotify.RedirectURI,
			LoginRedirectURI: cfg.OAuth.Spotify.LoginRedirectURI,
		}),
		oauth.NewGoogle(oauth.Config{
			ClientID:         cfg.OAuth.Google.ClientID,
			ClientSecret:     cfg.OAuth.Google.ClientSecret,
			RedirectURI:      cfg.OAuth.Google.RedirectURI,
			LoginRedirectURI: cfg.OAuth.Google.LoginRedirectURI,
		}),
	}

	authService := auth.New(
		log,
		storage,
		storage,
		tokens,
		providers,
		stateCache,
		publisher,
		cfg.Tokens.StateTTL,
	)

	router := setupRouter(log, authService, tokens, cfg.FrontendURL)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", slog.String("err", err.Error()))
	} else {
		log.Info("Server stopped gracefully")
	}
}

func setupRouter(
	log *slog.Logger,
	authService *auth.Auth,
	tokens *libjwt.Tokens,
	frontendURL string,
) *chi.Mux {
	validate := validator.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.With(rateLimit.Signup()).Post("/signup",
			signup.New(log, validate, authService),
		)
		r.With(rateLimit.Login()).Post("/login",
			login.New(log, validate, authService),
		)

		// Anonymous OAuth login.
		r.With(rateLimit.Connect()).Get("/oauth/{provider}",
			oauthlogin.Start(log, authService),
		)
		r.With(rateLimit.Callback()).Get("/oauth/{provider}/callback",
			oauthlogin.Callback(log, authService, frontendURL),
		)

		// The connect callback is public: the bearer token does not survive
		// the provider redirect, the state token carries the correlation.
		r.With(rateLimit.Callback()).Get("/{provider}/callback",
			callback.New(log, authService, frontendURL),
		)

		r.Group(func(r chi.Router) {
			r.Use(authn.New(log, tokens))

			r.Get("/profile",
				profile.New(log, authService),
			)
			r.With(rateLimit.Disconnect()).Post("/disconnect/{service}",
				disconnect.New(log, authService),
			)
			r.With(rateLimit.Connect()).Get("/{provider}/login",
				connect.New(log, authService),
			)
		})
	})

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		// envProd and anything unrecognized.
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
