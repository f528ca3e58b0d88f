package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	TimeZone    string `envconfig:"TIMEZONE" default:"Asia/Singapore"`

	HistoryBackend string `envconfig:"HISTORY_BACKEND" default:"file"`
	HistoryDir     string `envconfig:"HISTORY_DIR" default:"history"`
	RetentionDays  int    `envconfig:"RETENTION_DAYS" default:"7"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	TitleSimilarityThreshold float64 `envconfig:"TITLE_SIMILARITY_THRESHOLD" default:"0.6"`
	NonLatinRatioThreshold   float64 `envconfig:"NON_LATIN_RATIO_THRESHOLD" default:"0.3"`
	LanguageDetection        bool    `envconfig:"LANGUAGE_DETECTION" default:"false"`
	PrePassTitleHistory      bool    `envconfig:"PREPASS_TITLE_HISTORY" default:"false"`
	DefaultSeverity          int     `envconfig:"DEFAULT_SEVERITY" default:"3"`

	StaleFeedRuns     int    `envconfig:"STALE_FEED_RUNS" default:"3"`
	FeedHealthHistory int    `envconfig:"FEED_HEALTH_HISTORY" default:"30"`
	FeedHealthJournal string `envconfig:"FEED_HEALTH_JOURNAL" default:""`
	FeedsFile         string `envconfig:"FEEDS_FILE" default:""`
	RedisURL          string `envconfig:"REDIS_URL" default:""`
	StaleAlertKey     string `envconfig:"STALE_ALERT_KEY" default:"secbrief:alerts:stale_feeds"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend() {
	case BackendFile:
		if strings.TrimSpace(c.HistoryDir) == "" {
			return fmt.Errorf("HISTORY_DIR is required for the file backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		if c.DBMinConns < 0 {
			return fmt.Errorf("DB_MIN_CONNS must be >= 0")
		}
		if c.DBMaxConns < 1 {
			return fmt.Errorf("DB_MAX_CONNS must be >= 1")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("HISTORY_BACKEND must be %q or %q (got %q)", BackendFile, BackendPostgres, c.HistoryBackend)
	}

	if c.RetentionDays < 1 || c.RetentionDays > 90 {
		return fmt.Errorf("RETENTION_DAYS must be between 1 and 90")
	}
	if c.TitleSimilarityThreshold <= 0 || c.TitleSimilarityThreshold > 1 {
		return fmt.Errorf("TITLE_SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if c.NonLatinRatioThreshold <= 0 || c.NonLatinRatioThreshold > 1 {
		return fmt.Errorf("NON_LATIN_RATIO_THRESHOLD must be in (0, 1]")
	}
	if c.DefaultSeverity < 1 || c.DefaultSeverity > 5 {
		return fmt.Errorf("DEFAULT_SEVERITY must be between 1 and 5")
	}
	if c.StaleFeedRuns < 1 {
		return fmt.Errorf("STALE_FEED_RUNS must be >= 1")
	}
	if c.FeedHealthHistory < c.StaleFeedRuns {
		return fmt.Errorf("FEED_HEALTH_HISTORY (%d) cannot be less than STALE_FEED_RUNS (%d)", c.FeedHealthHistory, c.StaleFeedRuns)
	}
	return nil
}

// Backend returns the normalized history backend name.
func (c *Config) Backend() string {
	return strings.ToLower(strings.TrimSpace(c.HistoryBackend))
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
