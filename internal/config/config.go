// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every externally supplied setting the service needs.
type Config struct {
	ListenAddr string

	PostgresDSN string

	RedisAddr string
	RedisDB   int

	// HMACSecret signs invite and password-reset tokens.
	HMACSecret string

	SessionTTL        time.Duration
	TempSessionTTL    time.Duration
	SessionCookie     string
	TempSessionCookie string

	// FrontendURL prefixes links embedded in outgoing mail.
	FrontendURL string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string

	// InitialAdminEmail/Password bootstrap the first administrator account
	// when the users table is empty. Both must be set for bootstrap to run.
	InitialAdminEmail    string
	InitialAdminPassword string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:           envOr("FIREMAP_LISTEN_ADDR", ":8080"),
		PostgresDSN:          os.Getenv("FIREMAP_PG_DSN"),
		RedisAddr:            envOr("FIREMAP_REDIS_ADDR", "localhost:6379"),
		HMACSecret:           os.Getenv("FIREMAP_HMAC_SECRET"),
		SessionCookie:        envOr("FIREMAP_SESSION_COOKIE", "sid"),
		TempSessionCookie:    envOr("FIREMAP_TEMP_SESSION_COOKIE", "tmp_sid"),
		FrontendURL:          envOr("FIREMAP_FRONTEND_URL", "http://localhost:5173"),
		SMTPHost:             envOr("FIREMAP_SMTP_HOST", "localhost"),
		SMTPUser:             os.Getenv("FIREMAP_SMTP_USER"),
		SMTPPass:             os.Getenv("FIREMAP_SMTP_PASS"),
		MailFrom:             envOr("FIREMAP_MAIL_FROM", "noreply@fire-map.org"),
		InitialAdminEmail:    os.Getenv("FIREMAP_INITIAL_ADMIN_EMAIL"),
		InitialAdminPassword: os.Getenv("FIREMAP_INITIAL_ADMIN_PASSWORD"),
	}

	var err error
	if cfg.RedisDB, err = envInt("FIREMAP_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.SMTPPort, err = envInt("FIREMAP_SMTP_PORT", 1025); err != nil {
		return Config{}, err
	}

	sessionSecs, err := envInt("FIREMAP_SESSION_EXPIRE_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}
	tempSecs, err := envInt("FIREMAP_TEMP_SESSION_EXPIRE_SECONDS", 240)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL = time.Duration(sessionSecs) * time.Second
	cfg.TempSessionTTL = time.Duration(tempSecs) * time.Second

	if strings.TrimSpace(cfg.HMACSecret) == "" {
		return Config{}, errors.New("config: FIREMAP_HMAC_SECRET is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("config: " + key + " must be an integer")
	}
	return v, nil
}
