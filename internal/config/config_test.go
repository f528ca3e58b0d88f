package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		Environment:              "local",
		LogLevel:                 "info",
		HistoryBackend:           "file",
		HistoryDir:               "history",
		RetentionDays:            7,
		TitleSimilarityThreshold: 0.6,
		NonLatinRatioThreshold:   0.3,
		DefaultSeverity:          3,
		StaleFeedRuns:            3,
		FeedHealthHistory:        30,
	}
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidate_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.HistoryBackend = " Postgres "
	cfg.DBMaxConns = 4
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to fail")
	}
	cfg.DatabaseURL = "postgres://localhost/secbrief"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected postgres config to validate, got %v", err)
	}
}

func TestValidate_RejectsBadThresholds(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.TitleSimilarityThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected threshold > 1 to fail")
	}

	cfg = validConfig()
	cfg.DefaultSeverity = 9
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected default severity 9 to fail")
	}

	cfg = validConfig()
	cfg.HistoryBackend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

func TestCORSAllowedOriginsList(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.CORSAllowedOrigins = " https://a.example ,https://b.example,https://a.example,, "
	origins := cfg.CORSAllowedOriginsList()
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", origins)
	}
}

func TestLoad_ReadsPoolSizeVariables(t *testing.T) {
	t.Setenv("HISTORY_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/secbrief")
	t.Setenv("DB_MIN_CONNS", "2")
	t.Setenv("DB_MAX_CONNS", "1")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DB_MIN_CONNS (2) cannot exceed DB_MAX_CONNS (1)") {
		t.Fatalf("expected pool size validation error, got %v", err)
	}

	t.Setenv("DB_MAX_CONNS", "4")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBMinConns != 2 || cfg.DBMaxConns != 4 {
		t.Fatalf("unexpected pool sizes: min=%d max=%d", cfg.DBMinConns, cfg.DBMaxConns)
	}
}
