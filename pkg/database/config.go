package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Connection lifetime caps, kept below typical PG idle timeouts.
const (
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// ConfigFromEnv assembles the connection config from DB_* environment
// variables, defaulting to a local development database.
func ConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(envOr("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	return Config{
		Host:            envOr("DB_HOST", "localhost"),
		Port:            port,
		User:            envOr("DB_USER", "arbor"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        envOr("DB_NAME", "arbor"),
		SSLMode:         envOr("DB_SSLMODE", "disable"),
		MaxOpenConns:    intEnvOr("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    intEnvOr("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// intEnvOr parses an integer env var, falling back on absence or on
// unparseable values.
func intEnvOr(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}
