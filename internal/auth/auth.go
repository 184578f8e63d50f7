package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"beatsync/internal/events"
	"beatsync/internal/lib/jwt"
	sl "beatsync/internal/lib/logger"
	"beatsync/internal/models"
	"beatsync/internal/oauth"
	"beatsync/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailExists        = errors.New("email already exists")
	ErrUsernameExists     = errors.New("username already exists")
	ErrUnknownService     = errors.New("unknown service")
	ErrUnauthorizedState  = errors.New("unauthorized state")
)

type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	tokens      *jwt.Tokens
	providers   map[string]oauth.Provider
	states      StateMarker
	events      EventPublisher
	stateTTL    time.Duration
}

type UserSaver interface {
	SaveUser(ctx context.Context, email string, username string, passHash []byte) (id string, err error)
	SetServiceLinked(ctx context.Context, id, service string, linked bool) error
}

type UserProvider interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
}

// StateMarker records consumed state-token ids so a captured state token
// cannot be replayed within its validity window.
type StateMarker interface {
	MarkStateTokenUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokens *jwt.Tokens,
	providers []oauth.Provider,
	states StateMarker,
	events EventPublisher,
	stateTTL time.Duration,
) *Auth {
	byName := make(map[string]oauth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		tokens:      tokens,
		providers:   byName,
		states:      states,
		events:      events,
		stateTTL:    stateTTL,
	}
}

// RegisterNewUser creates a local-credential account and issues a bearer
// token so the new user is signed in immediately. The password is hashed
// here, never inside the store.
func (a *Auth) RegisterNewUser(
	ctx context.Context,
	email string,
	username string,
	pass string,
) (models.User, string, error) {
	const op = "auth.RegisterNewUser"

	log := a.log.With(
		slog.String("op", op),
	)

	passHash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	id, err := a.usrSaver.SaveUser(ctx, email, username, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			log.Warn("email already taken")
			return models.User{}, "", fmt.Errorf("%s: %w", op, ErrEmailExists)
		}
		if errors.Is(err, storage.ErrUsernameExists) {
			log.Warn("username already taken")
			return models.User{}, "", fmt.Errorf("%s: %w", op, ErrUsernameExists)
		}

		log.Error("failed to save user", sl.Err(err))

		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.usrProvider.UserByID(ctx, id)
	if err != nil {
		log.Error("failed to load saved user", sl.Err(err))
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := a.tokens.NewBearerToken(user)
	if err != nil {
		log.Error("failed to generate bearer token", sl.Err(err))
		return models.User{}, "", fmt.Errorf("%s: %w", op, err)
	}

	a.publish(ctx, models.Event{
		Kind:   events.KindUserSignup,
		UserID: id,
		Email:  email,
	})

	log.Info("user registered", slog.String("uid", id))

	return user, token, nil
}

// Login verifies local credentials and issues a bearer token. A missing user,
// a password-less OAuth account and a wrong password all map to the same
// error so login failures do not leak which accounts exist.
func (a *Auth) Login(
	ctx context.Context,
	email, password string,
) (models.User, string, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return models.User{}, "", ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return models.User{}, "", err
	}

	if len(user.PassHash) == 0 {
		log.Info("account has no local password")
		return models.User{}, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Info("invalid credentials", sl.Err(err))
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := a.tokens.NewBearerToken(user)
	if err != nil {
		log.Error("failed to generate bearer token", sl.Err(err))
		return models.User{}, "", err
	}

	log.Info("user logged in successfully", slog.String("uid", user.ID))

	return user, token, nil
}

// Profile returns the user record for an authenticated id.
func (a *Auth) Profile(ctx context.Context, userID string) (models.User, error) {
	const op = "auth.Profile"

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Disconnect clears the linked flag for one service. Disconnecting a service
// that was never connected is a no-op that still succeeds.
func (a *Auth) Disconnect(ctx context.Context, userID, service string) error {
	const op = "auth.Disconnect"

	log := a.log.With(slog.String("op", op))

	if !models.KnownService(service) {
		return ErrUnknownService
	}

	if err := a.usrSaver.SetServiceLinked(ctx, userID, service, false); err != nil {
		log.Error("failed to unlink service", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.publish(ctx, models.Event{
		Kind:    events.KindServiceUnlinked,
		UserID:  userID,
		Service: service,
	})

	log.Info("service disconnected",
		slog.String("uid", userID),
		slog.String("service", service),
	)

	return nil
}

// publish sends an account event; delivery is best effort and never fails the
// request that produced it.
func (a *Auth) publish(ctx context.Context, event models.Event) {
	if a.events == nil {
		return
	}

	if err := a.events.Publish(ctx, event); err != nil {
		a.log.Error("failed to publish event",
			slog.String("kind", event.Kind),
			sl.Err(err),
		)
	}
}
