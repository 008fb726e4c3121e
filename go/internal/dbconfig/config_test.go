package dbconfig

import (
	"testing"
	"time"
)

func TestNewConfigFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_NAME", "DB_MAX_OPEN_CONNS", "DB_CONN_MAX_LIFETIME"} {
		t.Setenv(k, "")
	}

	cfg := NewConfigFromEnv()
	if cfg.Host != "localhost" || cfg.Port != 5432 || cfg.Database != "chatplays" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxOpenConns != 4 || cfg.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected pool defaults: %+v", cfg)
	}
}

func TestNewConfigFromEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("DB_CONN_MAX_LIFETIME", "soon")

	cfg := NewConfigFromEnv()
	if cfg.Port != 5432 {
		t.Fatalf("port = %d, want 5432", cfg.Port)
	}
	if cfg.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("lifetime = %v", cfg.ConnMaxLifetime)
	}
}

func TestDSN(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Host: "db", Port: 6543, User: "overlay", Password: "p@ss word",
		Database: "chatplays", SSLMode: "require", AppName: "controller",
	}
	want := "postgres://overlay:p%40ss%20word@db:6543/chatplays?application_name=controller&sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}

	cfg.URL = "postgres://elsewhere/db"
	if got := cfg.DSN(); got != cfg.URL {
		t.Fatalf("DSN() = %q, want URL override", got)
	}
}
