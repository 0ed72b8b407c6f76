package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config carries everything the service needs at startup. Values come from
// an optional YAML file with environment variable overrides.
type Config struct {
	Env  string     `yaml:"env" env:"AUTHGATE_ENV" env-default:"dev"`
	HTTP HTTPConfig `yaml:"http"`
	PG   PGConfig   `yaml:"pg"`

	Tokens    TokenConfig     `yaml:"tokens"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Signing   SigningConfig   `yaml:"signing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// WrappingKey encrypts credential secrets at rest (hex, 32 bytes).
	WrappingKey string `yaml:"wrapping_key" env:"AUTHGATE_WRAPPING_KEY"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"AUTHGATE_HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env-default:"1048576"`
}

type PGConfig struct {
	DSN string `yaml:"dsn" env:"AUTHGATE_PG_DSN"`
}

type TokenConfig struct {
	Issuer        string        `yaml:"issuer" env-default:"authgate"`
	Audience      string        `yaml:"audience" env-default:"authgate-admin"`
	Domain        string        `yaml:"domain" env-default:"admin"`
	AccessSecret  string        `yaml:"access_secret" env:"AUTHGATE_ACCESS_SECRET"`
	RefreshSecret string        `yaml:"refresh_secret" env:"AUTHGATE_REFRESH_SECRET"`
	AccessTTL     time.Duration `yaml:"access_ttl" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env-default:"336h"`
}

type SessionConfig struct {
	// Policy is "replace" (one active session per device) or "limit"
	// (bounded count with oldest eviction).
	Policy    string `yaml:"policy" env-default:"limit"`
	MaxActive int    `yaml:"max_active" env-default:"5"`
}

type SigningConfig struct {
	MaxSkew              time.Duration `yaml:"max_skew" env-default:"3m"`
	MaxAttemptsPerMinute int64         `yaml:"max_attempts_per_minute" env-default:"120"`
}

type RateLimitConfig struct {
	PerSecond int `yaml:"per_second" env-default:"20"`
	Burst     int `yaml:"burst" env-default:"40"`
}

// Load reads configuration from path when it exists, falling back to
// environment variables only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Tokens.AccessSecret == "" || c.Tokens.RefreshSecret == "" {
		return errors.New("config: access and refresh secrets are required")
	}
	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	switch c.Sessions.Policy {
	case "replace", "limit":
	default:
		return fmt.Errorf("config: unknown session policy %q", c.Sessions.Policy)
	}
	if c.Sessions.Policy == "limit" && c.Sessions.MaxActive <= 0 {
		return errors.New("config: max_active must be positive under the limit policy")
	}
	if c.Signing.MaxSkew <= 0 {
		return errors.New("config: max_skew must be positive")
	}
	return nil
}
