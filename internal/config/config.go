package config

import (
	"os"
	"strconv"
)

type Config struct {
	AppPort string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	RedisAddr     string
	RedisPassword string

	DatabaseDSN string

	// SessionHashSalt feeds the fingerprint/IP hashing; raw values are
	// never stored.
	SessionHashSalt string

	// AnonMessageLimit is the per-session message budget for one
	// rate-limit window.
	AnonMessageLimit  int
	AnonWindowSeconds int
}

func Load() Config {

	cfg := Config{

		AppPort: os.Getenv("APP_PORT"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		SessionHashSalt: os.Getenv("SESSION_HASH_SALT"),

		AnonMessageLimit:  envInt("ANON_MESSAGE_LIMIT", 10),
		AnonWindowSeconds: envInt("ANON_WINDOW_SECONDS", 3600),
	}

	return cfg

}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
