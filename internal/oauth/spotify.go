package oauth

import (
	"context"

	"golang.org/x/oauth2"

	"beatsync/internal/models"
)

const (
	defaultSpotifyAuthURL    = "https://accounts.spotify.com/authorize"
	defaultSpotifyTokenURL   = "https://accounts.spotify.com/api/token"
	defaultSpotifyProfileURL = "https://api.spotify.com/v1/me"
)

// spotifyScopes covers profile access plus the playlist scopes the sync
// features will need once a provider token is put to use.
var spotifyScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-library-read",
	"user-library-modify",
	"playlist-read-private",
	"playlist-modify-public",
	"playlist-modify-private",
}

type Spotify struct {
	conf       *oauth2.Config
	loginConf  *oauth2.Config
	profileURL string
}

func NewSpotify(cfg Config) *Spotify {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultSpotifyAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultSpotifyTokenURL
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = defaultSpotifyProfileURL
	}
	if cfg.LoginRedirectURI == "" {
		cfg.LoginRedirectURI = cfg.RedirectURI
	}

	conf := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       spotifyScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}

	loginConf := conf
	loginConf.RedirectURL = cfg.LoginRedirectURI

	return &Spotify{
		conf:       &conf,
		loginConf:  &loginConf,
		profileURL: cfg.ProfileURL,
	}
}

func (s *Spotify) Name() string {
	return models.ServiceSpotify
}

func (s *Spotify) AuthCodeURL(state string) string {
	return s.conf.AuthCodeURL(state)
}

func (s *Spotify) LoginAuthCodeURL(state string) string {
	return s.loginConf.AuthCodeURL(state)
}

func (s *Spotify) Exchange(ctx context.Context, code string) (string, error) {
	return exchange(ctx, s.conf, code)
}

func (s *Spotify) LoginExchange(ctx context.Context, code string) (string, error) {
	return exchange(ctx, s.loginConf, code)
}

func (s *Spotify) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	var info struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	}

	if err := fetchJSON(ctx, s.profileURL, accessToken, &info); err != nil {
		return Profile{}, err
	}

	return Profile{
		ProviderID:  info.ID,
		Email:       info.Email,
		DisplayName: info.DisplayName,
	}, nil
}
