package oauth

import (
	"context"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"beatsync/internal/models"
)

const defaultGoogleProfileURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var googleScopes = []string{"openid", "profile", "email"}

type Google struct {
	conf       *oauth2.Config
	loginConf  *oauth2.Config
	profileURL string
}

func NewGoogle(cfg Config) *Google {
	endpoint := googleoauth.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = defaultGoogleProfileURL
	}
	if cfg.LoginRedirectURI == "" {
		cfg.LoginRedirectURI = cfg.RedirectURI
	}

	conf := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       googleScopes,
		Endpoint:     endpoint,
	}

	loginConf := conf
	loginConf.RedirectURL = cfg.LoginRedirectURI

	return &Google{
		conf:       &conf,
		loginConf:  &loginConf,
		profileURL: cfg.ProfileURL,
	}
}

func (g *Google) Name() string {
	return models.ServiceGoogle
}

// AuthCodeURL requests offline access so a refresh token could be issued
// later, matching the consent screen the linked account was approved on.
func (g *Google) AuthCodeURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (g *Google) LoginAuthCodeURL(state string) string {
	return g.loginConf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (g *Google) Exchange(ctx context.Context, code string) (string, error) {
	return exchange(ctx, g.conf, code)
}

func (g *Google) LoginExchange(ctx context.Context, code string) (string, error) {
	return exchange(ctx, g.loginConf, code)
}

func (g *Google) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	var info struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}

	if err := fetchJSON(ctx, g.profileURL, accessToken, &info); err != nil {
		return Profile{}, err
	}

	return Profile{
		ProviderID:  info.ID,
		Email:       info.Email,
		DisplayName: info.Name,
	}, nil
}
