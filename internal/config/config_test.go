package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Server.Port != "8080" {
		t.Errorf("server port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Database.DBName != "spott" {
		t.Errorf("db name = %q, want spott", cfg.Database.DBName)
	}
	if cfg.JWT.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("access expiry = %v, want 15m", cfg.JWT.AccessTokenExpiry)
	}
	if cfg.Realtime.MaxConnectionsPerPrincipal != 10 {
		t.Errorf("max connections = %d, want 10", cfg.Realtime.MaxConnectionsPerPrincipal)
	}
	if cfg.Assistant.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Assistant.Model)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SSE_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("ASSISTANT_RATE_LIMIT", "5")
	t.Setenv("S3_USE_SSL", "true")

	cfg := Load()

	if cfg.Database.Host != "db.internal" {
		t.Errorf("db host = %q", cfg.Database.Host)
	}
	if cfg.Realtime.HeartbeatInterval != 10*time.Second {
		t.Errorf("heartbeat = %v, want 10s", cfg.Realtime.HeartbeatInterval)
	}
	if cfg.Assistant.RateLimit != 5 {
		t.Errorf("rate limit = %d, want 5", cfg.Assistant.RateLimit)
	}
	if !cfg.Storage.UseSSL {
		t.Error("use ssl = false, want true")
	}
}

func TestDurationEnvAcceptsBareMinutes(t *testing.T) {
	t.Setenv("JWT_ACCESS_EXPIRY", "30")

	cfg := Load()
	if cfg.JWT.AccessTokenExpiry != 30*time.Minute {
		t.Errorf("access expiry = %v, want 30m", cfg.JWT.AccessTokenExpiry)
	}
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: "5432", User: "postgres",
		Password: "secret", DBName: "spott", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=postgres password=secret dbname=spott sslmode=disable"
	if got := db.DSN(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}
