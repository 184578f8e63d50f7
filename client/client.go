// Package client is the Go consumer of the BeatSync API. It mirrors the
// behavior of the browser client on startup: a stored bearer token is checked
// against its locally cached expiry before any network call, and any 401
// clears the stored credentials.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"beatsync/internal/models"
)

// ErrUnauthenticated reports that no valid session is available; the caller
// should fall back to an anonymous state.
var ErrUnauthenticated = errors.New("unauthenticated")

// bearerLifetime is the server's bearer token lifetime, cached client-side so
// an obviously expired token can be discarded without a network round trip.
const bearerLifetime = 2 * time.Hour

// TokenStore persists a bearer token together with its local expiry.
type TokenStore interface {
	Save(token string, expiresAt time.Time)
	Load() (token string, expiresAt time.Time, ok bool)
	Clear()
}

// MemoryStore is an in-process TokenStore.
type MemoryStore struct {
	token     string
	expiresAt time.Time
	set       bool
}

func (m *MemoryStore) Save(token string, expiresAt time.Time) {
	m.token = token
	m.expiresAt = expiresAt
	m.set = true
}

func (m *MemoryStore) Load() (string, time.Time, bool) {
	return m.token, m.expiresAt, m.set
}

func (m *MemoryStore) Clear() {
	*m = MemoryStore{}
}

type Client struct {
	baseURL string
	http    *http.Client
	store   TokenStore
}

func New(baseURL string, store TokenStore) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		store:   store,
	}
}

// Bootstrap restores the session on startup. A missing or locally expired
// token short-circuits to ErrUnauthenticated without calling the server; a
// server-side rejection clears the store.
func (c *Client) Bootstrap(ctx context.Context) (models.Profile, error) {
	token, expiresAt, ok := c.store.Load()
	if !ok {
		return models.Profile{}, ErrUnauthenticated
	}

	if time.Now().After(expiresAt) {
		c.store.Clear()
		return models.Profile{}, ErrUnauthenticated
	}

	profile, err := c.profile(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			c.store.Clear()
		}
		return models.Profile{}, err
	}

	return profile, nil
}

// Signup registers a local-credential account. The server signs the new user
// in immediately; the returned bearer token is stored like a login's.
func (c *Client) Signup(ctx context.Context, email, password, username string) (models.Profile, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
		"username": username,
	}

	var out struct {
		User  models.Profile `json:"user"`
		Token string         `json:"token"`
	}

	if err := c.postJSON(ctx, "/auth/signup", body, &out); err != nil {
		return models.Profile{}, err
	}

	c.store.Save(out.Token, time.Now().Add(bearerLifetime))

	return out.User, nil
}

// Login authenticates and stores the returned bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (models.Profile, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	var out struct {
		User  models.Profile `json:"user"`
		Token string         `json:"token"`
	}

	if err := c.postJSON(ctx, "/auth/login", body, &out); err != nil {
		return models.Profile{}, err
	}

	c.store.Save(out.Token, time.Now().Add(bearerLifetime))

	return out.User, nil
}

// Profile fetches the current user with the stored token.
func (c *Client) Profile(ctx context.Context) (models.Profile, error) {
	token, _, ok := c.store.Load()
	if !ok {
		return models.Profile{}, ErrUnauthenticated
	}

	profile, err := c.profile(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			c.store.Clear()
		}
		return models.Profile{}, err
	}

	return profile, nil
}

// Disconnect clears a linked service for the current user.
func (c *Client) Disconnect(ctx context.Context, service string) error {
	token, _, ok := c.store.Load()
	if !ok {
		return ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/disconnect/"+service, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

// Logout discards the stored session; the token itself simply expires
// server-side.
func (c *Client) Logout() {
	c.store.Clear()
}

func (c *Client) profile(ctx context.Context, token string) (models.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/profile", nil)
	if err != nil {
		return models.Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Profile{}, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return models.Profile{}, err
	}

	var profile models.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return models.Profile{}, fmt.Errorf("decode profile: %w", err)
	}

	return profile, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthenticated
	case resp.StatusCode >= 400:
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("api error: %s", apiErr.Error)
		}
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	default:
		return nil
	}
}
