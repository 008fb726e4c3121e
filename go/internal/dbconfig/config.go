package dbconfig

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// Config holds Postgres connection settings for the overlay settings store.
type Config struct {
	// URL, when set from DATABASE_URL, wins over the individual fields.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	AppName  string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// NewConfigFromEnv reads DATABASE_URL or DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	return Config{
		URL:             os.Getenv("DATABASE_URL"),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", "postgres"),
		Database:        getEnv("DB_NAME", "chatplays"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		AppName:         getEnv("DB_APP_NAME", "chatplays"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 4),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// DSN returns the Postgres connection URL. The LISTEN connection and the pgx
// seed tool use the same string.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.AppName != "" {
		q.Set("application_name", c.AppName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects through lib/pq and pings once so a bad DSN fails at startup.
func Open(ctx context.Context, c Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
		db.SetMaxIdleConns(c.MaxOpenConns)
	}
	db.SetConnMaxLifetime(c.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
