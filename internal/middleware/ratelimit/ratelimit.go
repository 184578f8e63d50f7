package rateLimit

import (
	"net/http"
	"time"

	httprate "github.com/go-chi/httprate"
)

func Login() func(http.Handler) http.Handler {
	return limitByIP(10, 5*time.Minute)
}

func Signup() func(http.Handler) http.Handler {
	return limitByIP(5, time.Hour)
}

func Connect() func(http.Handler) http.Handler {
	return limitByIP(10, 10*time.Minute)
}

func Callback() func(http.Handler) http.Handler {
	return limitByIP(20, 10*time.Minute)
}

func Disconnect() func(http.Handler) http.Handler {
	return limitByIP(20, 10*time.Minute)
}

func limitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.LimitByIP(limit, window)
}
