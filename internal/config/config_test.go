package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"SQL_AUTO_LIMIT", "QUERY_MAX_ROWS", "SQL_BLOCKED_KEYWORDS", "CACHE_TTL", "WAREHOUSE_DSN", "DB_DSN"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.SQLAutoLimit != 100 {
		t.Fatalf("expected auto limit 100, got %d", cfg.SQLAutoLimit)
	}
	if cfg.QueryMaxRows != 1000 {
		t.Fatalf("expected max rows 1000, got %d", cfg.QueryMaxRows)
	}
	if !cfg.SQLEnforceReadOnly {
		t.Fatalf("expected read-only enforcement by default")
	}
	if len(cfg.SQLBlockedKeywords) != len(DefaultBlockedKeywords) {
		t.Fatalf("unexpected blocked keywords: %v", cfg.SQLBlockedKeywords)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Fatalf("unexpected cache ttl: %s", cfg.CacheTTL)
	}
	if cfg.WarehouseDSN != cfg.DBDSN {
		t.Fatalf("warehouse dsn should default to db dsn")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SQL_BLOCKED_KEYWORDS", "drop, grant ,")
	t.Setenv("AI_TIMEOUT", "15")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WORKER_CONCURRENCY", "500")

	cfg := Load()
	if len(cfg.SQLBlockedKeywords) != 2 || cfg.SQLBlockedKeywords[1] != "grant" {
		t.Fatalf("unexpected blocked keywords: %v", cfg.SQLBlockedKeywords)
	}
	if cfg.AITimeout != 15*time.Second {
		t.Fatalf("unexpected ai timeout: %s", cfg.AITimeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level: %v", cfg.LogLevel)
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("expected concurrency clamped to 50, got %d", cfg.WorkerConcurrency)
	}
}
