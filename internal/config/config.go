package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env-default:"local"`
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"http://localhost:3000"`
	Tokens      `yaml:"tokens"`
	Postgres    `yaml:"postgres"`
	Redis       `yaml:"redis"`
	RabbitMQ    `yaml:"rabbitmq"`
	OAuth       `yaml:"oauth"`
	HTTPServer  `yaml:"http_server"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8888"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Redis struct {
	Address  string `yaml:"address" env-default:"redis:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env-default:"0"`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL" env-required:"true"`
	QueueName string `yaml:"queue_name" env-required:"true"`
}

type Tokens struct {
	Secret    string        `yaml:"secret" env:"TOKEN_SECRET" env-required:"true"`
	BearerTTL time.Duration `yaml:"bearer_ttl" env-default:"2h"`
	StateTTL  time.Duration `yaml:"state_ttl" env-default:"10m"`
}

type OAuth struct {
	Spotify Provider `yaml:"spotify"`
	Google  Provider `yaml:"google"`
}

// Provider holds the confidential OAuth client configuration for one external
// service. The secret never reaches the browser. RedirectURI is the connect
// callback; LoginRedirectURI is the anonymous-login callback and must be
// registered with the provider alongside it.
type Provider struct {
	ClientID         string `yaml:"client_id" env-required:"true"`
	ClientSecret     string `yaml:"client_secret" env-required:"true"`
	RedirectURI      string `yaml:"redirect_uri" env-required:"true"`
	LoginRedirectURI string `yaml:"login_redirect_uri" env-required:"true"`
}

func MustLoad(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist" + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	return &cfg
}
