// config.go - Environment-variable configuration with fallback defaults.
package server

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config collects everything the server needs at construction time.
// main builds one from the environment; tests construct it directly.
type Config struct {
	Addr          string
	SessionSecret string
	SessionTTL    time.Duration

	// MaxUploadBytes caps a post request's body; 0 means no limit.
	MaxUploadBytes int64

	Accounts AccountStore
	Posts    PostStore
	Sessions SessionBackend
	Blobs    BlobStorage
	Bucket   string

	Health HealthCheckers
}

// AppConfig is the raw environment configuration read by main before
// any client is constructed.
type AppConfig struct {
	AppPort       string
	SessionSecret string

	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string

	BlobHost     string
	BlobPort     string
	BlobUser     string
	BlobPassword string
	BlobBucket   string

	CacheHost string
	CachePort string

	MaxUploadBytes int64
}

// LoadAppConfig reads the environment with the documented defaults.
func LoadAppConfig() AppConfig {
	return AppConfig{
		AppPort:       getenvDefault("APP_PORT", "1337"),
		SessionSecret: getenvDefault("SESSION_SECRET", "keyboardCat"),

		DBHost:     getenvDefault("DB_HOST", "db"),
		DBPort:     getenvDefault("DB_PORT", "5432"),
		DBName:     getenvDefault("DB_NAME", "postgres"),
		DBUser:     getenvDefault("DB_USER", "postgres"),
		DBPassword: getenvDefault("DB_PASSWORD", "postgres"),

		BlobHost:     getenvDefault("BLOB_HOST", "blobstore"),
		BlobPort:     getenvDefault("BLOB_PORT", "9000"),
		BlobUser:     getenvDefault("BLOB_USER", "minioadmin"),
		BlobPassword: getenvDefault("BLOB_PASSWORD", "minioadmin"),
		BlobBucket:   getenvDefault("BLOB_BUCKET", "uploads"),

		CacheHost: getenvDefault("CACHE_HOST", "cache"),
		CachePort: getenvDefault("CACHE_PORT", "6379"),

		MaxUploadBytes: getenvInt64("MAX_UPLOAD_BYTES", 0),
	}
}

// DatabaseURL renders the pgx connection string for the configured database.
func (c AppConfig) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// DBAddr returns the host:port pair the readiness gate waits on.
func (c AppConfig) DBAddr() string { return c.DBHost + ":" + c.DBPort }

// BlobAddr returns the object store's host:port pair.
func (c AppConfig) BlobAddr() string { return c.BlobHost + ":" + c.BlobPort }

// CacheAddr returns the cache's host:port pair.
func (c AppConfig) CacheAddr() string { return c.CacheHost + ":" + c.CachePort }

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt64 reads an integer environment variable; unset or
// unparseable values fall back to the default.
func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
