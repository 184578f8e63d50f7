package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"beatsync/internal/events"
	"beatsync/internal/lib/jwt"
	sl "beatsync/internal/lib/logger"
	"beatsync/internal/models"
	"beatsync/internal/oauth"
	"beatsync/internal/storage"
)

// ConnectURL starts a "connect provider" flow for an authenticated user.
// It mints a state token bound to the user id and returns the provider
// authorization URL carrying it.
func (a *Auth) ConnectURL(userID, providerName string) (string, error) {
	const op = "auth.ConnectURL"

	provider, ok := a.providers[providerName]
	if !ok {
		return "", ErrUnknownService
	}

	state, err := a.tokens.NewConnectStateToken(userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return provider.AuthCodeURL(state), nil
}

// HandleConnectCallback completes a connect flow: verify the state token,
// consume it, exchange the code, then flip the linked flag for the user
// recovered from the state token. The user id is never taken from any other
// request input. Each step gates the next; a failure before the store write
// leaves the user record untouched.
func (a *Auth) HandleConnectCallback(
	ctx context.Context,
	providerName, code, state string,
) (string, error) {
	const op = "auth.HandleConnectCallback"

	log := a.log.With(
		slog.String("op", op),
		slog.String("provider", providerName),
	)

	provider, ok := a.providers[providerName]
	if !ok {
		return "", ErrUnknownService
	}

	claims, err := a.tokens.ParseConnectStateToken(state)
	if err != nil {
		log.Warn("state token rejected", sl.Err(err))
		return "", ErrUnauthorizedState
	}

	if err := a.consumeState(ctx, claims); err != nil {
		log.Warn("state token replayed", sl.Err(err))
		return "", ErrUnauthorizedState
	}

	accessToken, err := provider.Exchange(ctx, code)
	if err != nil {
		log.Error("code exchange failed", sl.Err(err))
		return "", err
	}
	_ = accessToken // provider tokens are not persisted

	if err := a.usrSaver.SetServiceLinked(ctx, claims.UserID, providerName, true); err != nil {
		log.Error("failed to link service", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	a.publish(ctx, models.Event{
		Kind:    events.KindServiceLinked,
		UserID:  claims.UserID,
		Service: providerName,
	})

	log.Info("service linked", slog.String("uid", claims.UserID))

	return claims.UserID, nil
}

// LoginURL starts the anonymous OAuth-login flow. The state token carries
// correlation only, never an identity.
func (a *Auth) LoginURL(providerName string) (string, error) {
	const op = "auth.LoginURL"

	provider, ok := a.providers[providerName]
	if !ok {
		return "", ErrUnknownService
	}

	state, err := a.tokens.NewLoginStateToken()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return provider.LoginAuthCodeURL(state), nil
}

// HandleLoginCallback completes an OAuth login: exchange the code, fetch the
// minimal profile and find or create the matching account. OAuth-created
// accounts have no local password.
func (a *Auth) HandleLoginCallback(
	ctx context.Context,
	providerName, code, state string,
) (models.User, string, error) {
	const op = "auth.HandleLoginCallback"

	log := a.log.With(
		slog.String("op", op),
		slog.String("provider", providerName),
	)

	provider, ok := a.providers[providerName]
	if !ok {
		return models.User{}, "", ErrUnknownService
	}

	claims, err := a.tokens.ParseLoginStateToken(state)
	if err != nil {
		log.Warn("state token rejected", sl.Err(err))
		return models.User{}, "", ErrUnauthorizedState
	}

	if err := a.consumeState(ctx, claims); err != nil {
		log.Warn("state token replayed", sl.Err(err))
		return models.User{}, "", ErrUnauthorizedState
	}

	accessToken, err := provider.LoginExchange(ctx, code)
	if err != nil {
		log.Error("code exchange failed", sl.Err(err))
		return models.User{}, "", err
	}

	profile, err := provider.FetchProfile(ctx, accessToken)
	if err != nil {
		log.Error("profile fetch failed", sl.Err(err))
		return models.User{}, "", err
	}

	user, err := a.findOrCreateOAuthUser(ctx, profile)
	if err != nil {
		log.Error("failed to resolve oauth user", sl.Err(err))
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := a.tokens.NewBearerToken(user)
	if err != nil {
		log.Error("failed to generate bearer token", sl.Err(err))
		return models.User{}, "", err
	}

	log.Info("oauth login successful", slog.String("uid", user.ID))

	return user, token, nil
}

// consumeState enforces at-most-one use of a state token by claiming its jti
// for the token's remaining lifetime. Fails closed when the marker is
// unavailable.
func (a *Auth) consumeState(ctx context.Context, claims jwt.StateClaims) error {
	if a.states == nil {
		return nil
	}

	ttl := time.Until(claims.ExpiresAt)
	if ttl <= 0 {
		return ErrUnauthorizedState
	}

	fresh, err := a.states.MarkStateTokenUsed(ctx, claims.ID, ttl)
	if err != nil {
		return err
	}
	if !fresh {
		return ErrUnauthorizedState
	}

	return nil
}

func (a *Auth) findOrCreateOAuthUser(ctx context.Context, profile oauth.Profile) (models.User, error) {
	user, err := a.usrProvider.UserByEmail(ctx, profile.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return models.User{}, err
	}

	username := profile.DisplayName
	if username == "" {
		username = strings.SplitN(profile.Email, "@", 2)[0]
	}

	id, err := a.usrSaver.SaveUser(ctx, profile.Email, username, nil)
	if errors.Is(err, storage.ErrUsernameExists) {
		// Display names collide across providers; retry once with a suffix.
		username = username + "-" + uuid.NewString()[:8]
		id, err = a.usrSaver.SaveUser(ctx, profile.Email, username, nil)
	}
	if err != nil {
		return models.User{}, err
	}

	a.publish(ctx, models.Event{
		Kind:   events.KindUserSignup,
		UserID: id,
		Email:  profile.Email,
	})

	return a.usrProvider.UserByID(ctx, id)
}
