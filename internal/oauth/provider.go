// Package oauth contains the adapters for the external OAuth2 services
// BeatSync links accounts against.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ErrUpstreamAuthFailure signals that a provider endpoint returned an error
// or no usable token. The upstream detail is logged server-side only.
var ErrUpstreamAuthFailure = errors.New("upstream auth failure")

// Profile is the minimal profile fetched from a provider, used only by the
// login-via-OAuth path.
type Profile struct {
	ProviderID  string
	Email       string
	DisplayName string
}

// Provider abstracts one external OAuth2 service. The connect flow and the
// anonymous login flow return the browser to different callbacks, so each has
// its own AuthCodeURL/Exchange pair; the redirect_uri sent with the code
// exchange must match the one the code was issued for.
type Provider interface {
	Name() string
	// AuthCodeURL builds the provider authorization URL for the connect flow
	// with the state token passed through as an opaque parameter. Pure
	// function of configuration.
	AuthCodeURL(state string) string
	// LoginAuthCodeURL is AuthCodeURL for the anonymous login flow, pointing
	// the provider at the login callback.
	LoginAuthCodeURL(state string) string
	// Exchange trades a one-time authorization code from the connect flow for
	// a provider access token. One synchronous call, no retries.
	Exchange(ctx context.Context, code string) (string, error)
	// LoginExchange is Exchange for codes issued against the login callback.
	LoginExchange(ctx context.Context, code string) (string, error)
	// FetchProfile retrieves the minimal profile for an access token.
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
}

// Config holds the per-provider client credentials. RedirectURI is the
// connect callback, LoginRedirectURI the anonymous-login callback. The
// endpoint URLs can be overridden in tests to point at a local server.
type Config struct {
	ClientID         string
	ClientSecret     string
	RedirectURI      string
	LoginRedirectURI string

	AuthURL    string
	TokenURL   string
	ProfileURL string
}

const upstreamTimeout = 10 * time.Second

// httpClient bounds every outbound provider call.
var httpClient = &http.Client{Timeout: upstreamTimeout}

// exchange runs the authorization-code grant against the provider token
// endpoint and extracts the access token.
func exchange(ctx context.Context, conf *oauth2.Config, code string, opts ...oauth2.AuthCodeOption) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	token, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamAuthFailure, err)
	}

	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token in response", ErrUpstreamAuthFailure)
	}

	return token.AccessToken, nil
}

// fetchJSON performs an authenticated GET against a provider profile endpoint
// and decodes the response into out.
func fetchJSON(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamAuthFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamAuthFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: profile endpoint returned status %d", ErrUpstreamAuthFailure, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode profile: %v", ErrUpstreamAuthFailure, err)
	}

	return nil
}
