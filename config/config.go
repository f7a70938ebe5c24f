// Package config loads done's runtime configuration from the environment.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// StorageType selects the Message Store backend.
type StorageType string

const (
	// StorageKV selects the Redis-backed key-value store.
	StorageKV StorageType = "KV"

	// StorageTurso selects the SQL store.
	StorageTurso StorageType = "TURSO"
)

// Config holds everything read from the environment at startup. Nothing
// below the process edge calls os.Getenv directly — this struct is built
// once and passed down.
type Config struct {
	// AuthToken is the bearer token required on all non-ping routes.
	AuthToken string

	// StorageType selects the Message Store backend (KV or TURSO).
	StorageType StorageType

	// TursoDBURL is the SQL backend DSN: ":memory:", "file:<path>", or a remote URL.
	TursoDBURL string

	// TursoDBAuthToken authenticates a remote SQL backend.
	TursoDBAuthToken string

	// RedisURL is the connection string for the KV backend.
	RedisURL string

	// EnableLogs turns on the audit log (Log Store writes).
	EnableLogs bool

	// HTTPAddr is the address the ingress server listens on.
	HTTPAddr string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		AuthToken:        getEnv("AUTH_TOKEN", generateToken()),
		StorageType:      StorageType(getEnv("STORAGE_TYPE", string(StorageKV))),
		TursoDBURL:       getEnv("TURSO_DB_URL", ":memory:"),
		TursoDBAuthToken: getEnv("TURSO_DB_AUTH_TOKEN", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		EnableLogs:       getEnvBool("ENABLE_LOGS", false),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// generateToken produces a random bearer token for when AUTH_TOKEN is unset.
func generateToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "done-dev-token"
	}
	return hex.EncodeToString(buf)
}
