// Package config loads server configuration from environment variables.
//
// Every setting has a default except JWT_SECRET, so `JWT_SECRET=... go run
// ./cmd/server` is enough to start a development server backed by a local
// SQLite file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

type Config struct {
	Port int

	Storage     string
	DBPath      string // sqlite only
	DatabaseURL string // postgres only
	DBMaxConns  int32  // postgres only; 0 keeps the pgxpool default

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BcryptCost      int

	// Per-client token bucket for register, sign-in and refresh.
	AuthRateLimit float64 // tokens per second
	AuthRateBurst int

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only safe when a proxy in front of the server sets those headers;
	// otherwise any client can pick its own rate-limit bucket.
	TrustProxy bool

	LogLevel  slog.Level
	LogFormat string // "text" or "json"
}

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	return load(os.Getenv)
}

// load takes the lookup function as a parameter so tests don't have to touch
// the real process environment.
func load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var errs []error
	atoi := func(key, def string) int {
		n, err := strconv.Atoi(get(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: not an integer: %q", key, get(key, def)))
		}
		return n
	}
	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(get(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: not a duration: %q", key, get(key, def)))
		}
		return d
	}

	cfg := Config{
		Port:            atoi("PORT", "8080"),
		Storage:         strings.ToLower(get("STORAGE", StorageSQLite)),
		DBPath:          get("DB_PATH", "data/messenger.db"),
		DatabaseURL:     get("DATABASE_URL", ""),
		DBMaxConns:      int32(atoi("DB_MAX_CONNS", "0")),
		JWTSecret:       getenv("JWT_SECRET"),
		AccessTokenTTL:  duration("ACCESS_TOKEN_TTL", "5m"),
		RefreshTokenTTL: duration("REFRESH_TOKEN_TTL", "720h"),
		BcryptCost:      atoi("BCRYPT_COST", "12"),
		AuthRateBurst:   atoi("AUTH_RATE_BURST", "10"),
		LogFormat:       strings.ToLower(get("LOG_FORMAT", "text")),
	}

	rl, err := strconv.ParseFloat(get("AUTH_RATE_LIMIT", "5"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("AUTH_RATE_LIMIT: not a number: %q", get("AUTH_RATE_LIMIT", "5")))
	}
	cfg.AuthRateLimit = rl

	tp, err := strconv.ParseBool(get("TRUST_PROXY", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("TRUST_PROXY: not a boolean: %q", get("TRUST_PROXY", "false")))
	}
	cfg.TrustProxy = tp

	// slog.Level knows how to parse "debug", "INFO", "warn+2" and so on.
	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules Load cannot express as defaults.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required when STORAGE=sqlite"))
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORAGE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be one of memory, sqlite, postgres; got %q", c.Storage))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.AccessTokenTTL > c.RefreshTokenTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must not exceed REFRESH_TOKEN_TTL"))
	}
	if c.AuthRateLimit <= 0 || c.AuthRateBurst <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT and AUTH_RATE_BURST must be positive"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger described by LogLevel and LogFormat.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
