// Package config loads process configuration from the environment. A .env
// file, when present, is loaded by the entrypoints before this runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	PostgresDSN string

	SessionTokenSecret string
	SessionTokenTTL    time.Duration

	TokenSweepInterval time.Duration

	SMTPHost string
	SMTPPort int
	SMTPFrom string
	SMTPUser string
	SMTPPass string
}

// Load reads configuration from environment variables, applying defaults for
// everything except the secrets.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:           getenv("ORGMESH_HTTP_ADDR", ":8080"),
		GRPCAddr:           os.Getenv("ORGMESH_GRPC_ADDR"),
		PostgresDSN:        os.Getenv("ORGMESH_PG_DSN"),
		SessionTokenSecret: os.Getenv("SESSION_TOKEN_SECRET"),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPFrom:           getenv("SMTP_FROM", "no-reply@orgmesh.io"),
		SMTPUser:           os.Getenv("SMTP_USER"),
		SMTPPass:           os.Getenv("SMTP_PASS"),
	}

	var err error
	if cfg.SessionTokenTTL, err = getduration("SESSION_TOKEN_TTL", 6*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TokenSweepInterval, err = getduration("TOKEN_SWEEP_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SMTPPort, err = getint("SMTP_PORT", 587); err != nil {
		return Config{}, err
	}

	if cfg.PostgresDSN == "" {
		return Config{}, errors.New("config: ORGMESH_PG_DSN is required")
	}
	if cfg.SessionTokenSecret == "" {
		return Config{}, errors.New("config: SESSION_TOKEN_SECRET is required")
	}
	return cfg, nil
}

// MailConfigured reports whether an SMTP relay was provided.
func (c Config) MailConfigured() bool { return c.SMTPHost != "" }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getint(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
