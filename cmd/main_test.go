package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatsync/internal/auth"
	libjwt "beatsync/internal/lib/jwt"
	"beatsync/internal/models"
	"beatsync/internal/oauth"
	"beatsync/internal/storage"
)

const (
	testSecret      = "test-secret"
	testFrontendURL = "http://localhost:3000"
)

type memStorage struct {
	users  map[string]models.User
	nextID int
}

func (m *memStorage) SaveUser(_ context.Context, email, username string, passHash []byte) (string, error) {
	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			return "", storage.ErrEmailExists
		}
		if u.Username == username {
			return "", storage.ErrUsernameExists
		}
	}

	m.nextID++
	id := fmt.Sprintf("user-%d", m.nextID)
	m.users[id] = models.User{ID: id, Email: email, Username: username, PassHash: passHash, CreatedAt: time.Now()}
	return id, nil
}

func (m *memStorage) SetServiceLinked(_ context.Context, id, service string, linked bool) error {
	u, ok := m.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	switch service {
	case models.ServiceSpotify:
		u.Spotify = linked
	case models.ServiceGoogle:
		u.Google = linked
	default:
		return storage.ErrUnknownService
	}
	m.users[id] = u
	return nil
}

func (m *memStorage) UserByEmail(_ context.Context, email string) (models.User, error) {
	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (m *memStorage) UserByID(_ context.Context, id string) (models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return u, nil
}

type memStates struct {
	used map[string]bool
}

func (m *memStates) MarkStateTokenUsed(_ context.Context, jti string, _ time.Duration) (bool, error) {
	if m.used[jti] {
		return false, nil
	}
	m.used[jti] = true
	return true, nil
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, models.Event) error { return nil }

// newTestServer assembles the real router over in-memory collaborators and a
// stubbed provider token endpoint.
func newTestServer(t *testing.T) (*httptest.Server, *memStorage) {
	t.Helper()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-access-token",
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(tokenServer.Close)

	profileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":           "spotify-user-1",
			"email":        "oauth@x.com",
			"display_name": "OAuth Alice",
		})
	}))
	t.Cleanup(profileServer.Close)

	store := &memStorage{users: map[string]models.User{}}
	tokens := libjwt.New(testSecret, 2*time.Hour, 10*time.Minute)

	providers := []oauth.Provider{
		oauth.NewSpotify(oauth.Config{
			ClientID:         "id",
			ClientSecret:     "secret",
			RedirectURI:      "http://localhost/cb",
			LoginRedirectURI: "http://localhost/login-cb",
			TokenURL:         tokenServer.URL,
			ProfileURL:       profileServer.URL,
		}),
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	authService := auth.New(
		log,
		store,
		store,
		tokens,
		providers,
		&memStates{used: map[string]bool{}},
		nopEvents{},
		10*time.Minute,
	)

	srv := httptest.NewServer(setupRouter(log, authService, tokens, testFrontendURL))
	t.Cleanup(srv.Close)

	return srv, store
}

// noRedirect stops the test client from following the OAuth redirects so the
// Location headers can be inspected.
func noRedirect() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestSignupLoginProfile(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/auth/signup",
		`{"email":"a@x.com","password":"secret1","username":"alice"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var signupBody struct {
		User  models.Profile `json:"user"`
		Token string         `json:"token"`
	}
	decodeBody(t, resp, &signupBody)
	require.NotEmpty(t, signupBody.User.ID)
	require.NotEmpty(t, signupBody.Token, "signup must sign the new user in")

	// The signup token is immediately usable against protected routes.
	req0, err := http.NewRequest(http.MethodGet, srv.URL+"/auth/profile", nil)
	require.NoError(t, err)
	req0.Header.Set("Authorization", "Bearer "+signupBody.Token)

	signupProfileResp, err := http.DefaultClient.Do(req0)
	require.NoError(t, err)
	signupProfileResp.Body.Close()
	require.Equal(t, http.StatusOK, signupProfileResp.StatusCode)

	resp = postJSON(t, srv.URL+"/auth/login",
		`{"email":"a@x.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginBody struct {
		User  models.Profile `json:"user"`
		Token string         `json:"token"`
	}
	decodeBody(t, resp, &loginBody)
	require.NotEmpty(t, loginBody.Token)
	assert.Equal(t, "a@x.com", loginBody.User.Email)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/auth/profile", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+loginBody.Token)

	profileResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, profileResp.StatusCode)

	var profile models.Profile
	decodeBody(t, profileResp, &profile)

	assert.Equal(t, "a@x.com", profile.Email)
	assert.Equal(t, "alice", profile.Username)
	assert.False(t, profile.ConnectedServices.Spotify)
	assert.False(t, profile.ConnectedServices.Google)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/auth/signup",
		`{"email":"a@x.com","password":"secret1","username":"alice"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/auth/signup",
		`{"email":"a@x.com","password":"secret2","username":"bob"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSignup_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad email", `{"email":"not-an-email","password":"secret1","username":"alice"}`},
		{"short password", `{"email":"a@x.com","password":"abc","username":"alice"}`},
		{"missing username", `{"email":"a@x.com","password":"secret1"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/auth/signup", tc.body)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestLogin_GenericFailureMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/auth/signup",
		`{"email":"a@x.com","password":"secret1","username":"alice"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	readError := func(body string) (int, string) {
		resp := postJSON(t, srv.URL+"/auth/login", body)
		var out struct {
			Error string `json:"error"`
		}
		decodeBody(t, resp, &out)
		return resp.StatusCode, out.Error
	}

	wrongPassStatus, wrongPassMsg := readError(`{"email":"a@x.com","password":"wrong-pass"}`)
	unknownStatus, unknownMsg := readError(`{"email":"nobody@x.com","password":"whatever"}`)

	assert.Equal(t, http.StatusUnauthorized, wrongPassStatus)
	assert.Equal(t, http.StatusUnauthorized, unknownStatus)
	assert.Equal(t, wrongPassMsg, unknownMsg)
}

func TestProfile_RequiresBearer(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/auth/profile")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectFlow_EndToEnd(t *testing.T) {
	srv, store := newTestServer(t)
	client := noRedirect()

	resp := postJSON(t, srv.URL+"/auth/signup",
		`{"email":"a@x.com","password":"secret1","username":"alice"}`)
	var signupBody struct {
		User  models.Profile `json:"user"`
		Token string         `json:"token"`
	}
	decodeBody(t, resp, &signupBody)

	resp = postJSON(t, srv.URL+"/auth/login", `{"email":"a@x.com","password":"secret1"}`)
	var loginBody struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &loginBody)

	// Initiate: authenticated user asks to connect Spotify.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/auth/spotify/login", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+loginBody.Token)

	redirectResp, err := client.Do(req)
	require.NoError(t, err)
	redirectResp.Body.Close()
	require.Equal(t, http.StatusFound, redirectResp.StatusCode)

	location, err := url.Parse(redirectResp.Header.Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	// The state parameter resolves to the initiating user.
	tokens := libjwt.New(testSecret, 2*time.Hour, 10*time.Minute)
	claims, err := tokens.ParseConnectStateToken(state)
	require.NoError(t, err)
	assert.Equal(t, signupBody.User.ID, claims.UserID)

	// Return leg: public callback with code and state.
	callbackResp, err := client.Get(srv.URL + "/auth/spotify/callback?code=good-code&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	callbackResp.Body.Close()
	require.Equal(t, http.StatusFound, callbackResp.StatusCode)
	assert.Equal(t, testFrontendURL+"/settings?connected=spotify", callbackResp.Header.Get("Location"))

	user := store.users[signupBody.User.ID]
	assert.True(t, user.Spotify)
	assert.False(t, user.Google)
}

func TestConnectCallback_ForgedState(t *testing.T) {
	srv, store := newTestServer(t)
	client := noRedirect()

	resp := postJSON(t, srv.URL+"/auth/signup",
		`{"email":"a@x.com","password":"secret1","username":"alice"}`)
	var signupBody struct {
		User  models.Profile `json:"user"`
		Token string         `json:"token"`
	}
	decodeBody(t, resp, &signupBody)

	foreign := libjwt.New("attacker-secret", 2*time.Hour, 10*time.Minute)
	forged, err := foreign.NewConnectStateToken(signupBody.User.ID)
	require.NoError(t, err)

	callbackResp, err := client.Get(srv.URL + "/auth/spotify/callback?code=good-code&state=" + url.QueryEscape(forged))
	require.NoError(t, err)
	callbackResp.Body.Close()

	require.Equal(t, http.StatusFound, callbackResp.StatusCode)
	location, err := url.Parse(callbackResp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "unauthorized_state", location.Query().Get("error"))

	assert.False(t, store.users[signupBody.User.ID].Spotify)
}

func TestConnectCallback_MissingCode(t *testing.T) {
	srv, _ := newTestServer(t)
	client := noRedirect()

	callbackResp, err := client.Get(srv.URL + "/auth/spotify/callback?state=whatever")
	require.NoError(t, err)
	callbackResp.Body.Close()

	require.Equal(t, http.StatusFound, callbackResp.StatusCode)
	location, err := url.Parse(callbackResp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "missing_code", location.Query().Get("error"))
}

func TestDisconnect_Idempotent(t *testing.T) {
	srv, store := newTestServer(t)

	resp := postJSON(t, srv.URL+"/auth/signup",
		`{"email":"a@x.com","password":"secret1","username":"alice"}`)
	var signupBody struct {
		User  models.Profile `json:"user"`
		Token string         `json:"token"`
	}
	decodeBody(t, resp, &signupBody)

	resp = postJSON(t, srv.URL+"/auth/login", `{"email":"a@x.com","password":"secret1"}`)
	var loginBody struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &loginBody)

	disconnect := func() int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/auth/disconnect/spotify", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+loginBody.Token)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// Never connected: still succeeds.
	assert.Equal(t, http.StatusOK, disconnect())
	assert.False(t, store.users[signupBody.User.ID].Spotify)

	// Connected, then disconnected.
	require.NoError(t, store.SetServiceLinked(context.Background(), signupBody.User.ID, models.ServiceSpotify, true))
	assert.Equal(t, http.StatusOK, disconnect())
	assert.False(t, store.users[signupBody.User.ID].Spotify)
}

func TestOAuthLoginFlow_EndToEnd(t *testing.T) {
	srv, store := newTestServer(t)
	client := noRedirect()

	startResp, err := client.Get(srv.URL + "/auth/oauth/spotify")
	require.NoError(t, err)
	startResp.Body.Close()
	require.Equal(t, http.StatusFound, startResp.StatusCode)

	location, err := url.Parse(startResp.Header.Get("Location"))
	require.NoError(t, err)

	// The provider must return the browser to the login callback, not the
	// connect callback, or the state token would be rejected there.
	assert.Equal(t, "http://localhost/login-cb", location.Query().Get("redirect_uri"))

	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	callbackResp, err := client.Get(srv.URL + "/auth/oauth/spotify/callback?code=good-code&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	callbackResp.Body.Close()
	require.Equal(t, http.StatusFound, callbackResp.StatusCode)

	success, err := url.Parse(callbackResp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/auth/success", success.Path)

	token := success.Query().Get("token")
	require.NotEmpty(t, token)

	tokens := libjwt.New(testSecret, 2*time.Hour, 10*time.Minute)
	claims, err := tokens.ParseBearerToken(token)
	require.NoError(t, err)

	user, ok := store.users[claims.UserID]
	require.True(t, ok, "login must have created the account")
	assert.Equal(t, "oauth@x.com", user.Email)
	assert.Empty(t, user.PassHash)
}

func TestOAuthLoginStart_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t)
	client := noRedirect()

	// The connect limiter allows 10 requests per window per IP.
	for i := 0; i < 10; i++ {
		resp, err := client.Get(srv.URL + "/auth/oauth/spotify")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode, "request %d", i+1)
	}

	resp, err := client.Get(srv.URL + "/auth/oauth/spotify")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSetupLogger_NeverNil(t *testing.T) {
	for _, env := range []string{envLocal, envDev, envProd, "staging", ""} {
		assert.NotNil(t, setupLogger(env), "env %q", env)
	}
}
