package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the binaries read from the environment.
type Config struct {
	Addr           string
	PGHost         string
	PGPort         string
	PGUser         string
	PGPass         string
	PGDatabase     string
	RedisAddr      string
	QuoteAPIKey    string
	QuoteBaseURL   string
	QuoteTimeout   time.Duration
	SessionTTL     time.Duration
	ExportDir      string
	MigrationsPath string
}

// Load reads .env if present, then the environment, applying defaults for
// anything unset.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:           getenv("ADDR", ":8080"),
		PGHost:         getenv("PG_HOST", "127.0.0.1"),
		PGPort:         getenv("PG_PORT", "5432"),
		PGUser:         getenv("PG_USER", "postgres"),
		PGPass:         getenv("PG_PASS", "postgres"),
		PGDatabase:     getenv("PG_DB", "papertrade"),
		RedisAddr:      getenv("REDIS_ADDR", "127.0.0.1:6379"),
		QuoteAPIKey:    getenv("QUOTE_API_KEY", ""),
		QuoteBaseURL:   getenv("QUOTE_BASE_URL", "https://www.alphavantage.co"),
		QuoteTimeout:   getdur("QUOTE_TIMEOUT", 5*time.Second),
		SessionTTL:     getdur("SESSION_TTL", 12*time.Hour),
		ExportDir:      getenv("EXPORT_DIR", "exports"),
		MigrationsPath: getenv("MIGRATIONS_PATH", "file://internal/migration/sql"),
	}
}

// DatabaseURI renders the Postgres connection string.
func (c Config) DatabaseURI() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PGUser, c.PGPass, c.PGHost, c.PGPort, c.PGDatabase)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
