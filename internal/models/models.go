package models

import "time"

const (
	ServiceSpotify = "spotify"
	ServiceGoogle  = "google"
)

// KnownService reports whether name is a service BeatSync can link.
func KnownService(name string) bool {
	return name == ServiceSpotify || name == ServiceGoogle
}

type User struct {
	ID        string
	Email     string
	Username  string
	PassHash  []byte // nil for OAuth-originated accounts
	Spotify   bool
	Google    bool
	CreatedAt time.Time
}

// ServiceLinked returns the linked flag for the named service.
func (u User) ServiceLinked(service string) bool {
	switch service {
	case ServiceSpotify:
		return u.Spotify
	case ServiceGoogle:
		return u.Google
	default:
		return false
	}
}

// ConnectedServices is the wire shape of the per-service linked flags.
type ConnectedServices struct {
	Spotify bool `json:"spotify"`
	Google  bool `json:"google"`
}

// Profile is the sanitized view of a user returned by the API.
// The password hash never leaves the server.
type Profile struct {
	ID                string            `json:"id"`
	Email             string            `json:"email"`
	Username          string            `json:"username"`
	ConnectedServices ConnectedServices `json:"connectedServices"`
	CreatedAt         time.Time         `json:"createdAt"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.Username,
		ConnectedServices: ConnectedServices{
			Spotify: u.Spotify,
			Google:  u.Google,
		},
		CreatedAt: u.CreatedAt,
	}
}

// Event is an account-activity message published to the broker.
type Event struct {
	Kind    string `json:"kind"`
	UserID  string `json:"user_id"`
	Email   string `json:"email,omitempty"`
	Service string `json:"service,omitempty"`
}
