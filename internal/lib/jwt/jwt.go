package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"beatsync/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const (
	purposeAccess       = "access"
	purposeConnectState = "connect_state"
	purposeLoginState   = "login_state"
)

// Tokens issues and verifies the signed tokens used by the service: bearer
// tokens for API access and short-lived state tokens for OAuth redirect
// correlation. Verification never consults external state.
type Tokens struct {
	secret    []byte
	bearerTTL time.Duration
	stateTTL  time.Duration
}

func New(secret string, bearerTTL, stateTTL time.Duration) *Tokens {
	return &Tokens{
		secret:    []byte(secret),
		bearerTTL: bearerTTL,
		stateTTL:  stateTTL,
	}
}

type BearerClaims struct {
	UserID   string
	Email    string
	Username string
}

// StateClaims carries the correlation data recovered from an OAuth state token.
type StateClaims struct {
	UserID    string
	ID        string
	ExpiresAt time.Time
}

func (t *Tokens) NewBearerToken(user models.User) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"sub":      user.ID,
		"email":    user.Email,
		"username": user.Username,
		"purpose":  purposeAccess,
		"iat":      now.Unix(),
		"exp":      now.Add(t.bearerTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(t.secret)
}

func (t *Tokens) ParseBearerToken(raw string) (BearerClaims, error) {
	claims, err := t.parse(raw, purposeAccess)
	if err != nil {
		return BearerClaims{}, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return BearerClaims{}, ErrInvalidToken
	}

	email, _ := claims["email"].(string)
	username, _ := claims["username"].(string)

	return BearerClaims{
		UserID:   sub,
		Email:    email,
		Username: username,
	}, nil
}

// NewConnectStateToken mints the state token for a "connect provider" redirect.
// The token binds the flow to the initiating user; the jti allows single-use
// enforcement on the return leg.
func (t *Tokens) NewConnectStateToken(userID string) (string, error) {
	return t.newStateToken(purposeConnectState, userID)
}

func (t *Tokens) ParseConnectStateToken(raw string) (StateClaims, error) {
	return t.parseStateToken(raw, purposeConnectState, true)
}

// NewLoginStateToken mints the state token for the anonymous OAuth-login
// redirect. It carries no user id, only correlation.
func (t *Tokens) NewLoginStateToken() (string, error) {
	return t.newStateToken(purposeLoginState, "")
}

func (t *Tokens) ParseLoginStateToken(raw string) (StateClaims, error) {
	return t.parseStateToken(raw, purposeLoginState, false)
}

func (t *Tokens) newStateToken(purpose, userID string) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"jti":     uuid.NewString(),
		"purpose": purpose,
		"iat":     now.Unix(),
		"exp":     now.Add(t.stateTTL).Unix(),
	}
	if userID != "" {
		claims["sub"] = userID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(t.secret)
}

func (t *Tokens) parseStateToken(raw, purpose string, requireSub bool) (StateClaims, error) {
	claims, err := t.parse(raw, purpose)
	if err != nil {
		return StateClaims{}, err
	}

	sub, _ := claims["sub"].(string)
	if requireSub && sub == "" {
		return StateClaims{}, ErrInvalidToken
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return StateClaims{}, ErrInvalidToken
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return StateClaims{}, ErrInvalidToken
	}

	return StateClaims{
		UserID:    sub,
		ID:        jti,
		ExpiresAt: time.Unix(int64(expFloat), 0),
	}, nil
}

func (t *Tokens) parse(raw, purpose string) (jwt.MapClaims, error) {
	const op = "lib.jwt.parse"

	claims := jwt.MapClaims{}

	parsedToken, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%s: unexpected signing method", op)
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if !parsedToken.Valid {
		return nil, ErrInvalidToken
	}

	if p, ok := claims["purpose"].(string); !ok || p != purpose {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
