package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horse.fit/secbrief/internal/cli"
	"horse.fit/secbrief/internal/config"
	"horse.fit/secbrief/internal/db"
	"horse.fit/secbrief/internal/dedup"
	"horse.fit/secbrief/internal/feedhealth"
	"horse.fit/secbrief/internal/globaltime"
	"horse.fit/secbrief/internal/history"
	"horse.fit/secbrief/internal/langdetect"
	"horse.fit/secbrief/internal/logging"
	"horse.fit/secbrief/internal/metrics"
	"horse.fit/secbrief/internal/similarity"
)

const feedHealthJournalName = "feed_health.jsonl"

// runtime holds the components every command builds from config.
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pool     *db.Pool
	redis    *redis.Client
	store    *history.Store
	oracle   *dedup.Oracle
	tracker  *feedhealth.Tracker
}

// loadSettings loads the .env file, config and logger the way every command
// does.
func loadSettings(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// openRuntime opens the history store for the configured backend and builds
// the dedup oracle and feed health tracker on top of it.
func openRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = metrics.New(rt.registry)

	location, err := globaltime.LoadZone(cfg.TimeZone)
	if err != nil {
		return nil, err
	}

	var backend history.Backend
	var journal feedhealth.Journal
	switch cfg.Backend() {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		rt.pool = pool
		pgBackend, err := history.NewPostgresBackend(pool)
		if err != nil {
			rt.Close()
			return nil, err
		}
		backend = pgBackend
		pgJournal, err := feedhealth.NewPostgresJournal(pool, cfg.FeedHealthHistory)
		if err != nil {
			rt.Close()
			return nil, err
		}
		journal = pgJournal
	default:
		fileBackend, err := history.NewFileBackend(cfg.HistoryDir)
		if err != nil {
			return nil, err
		}
		backend = fileBackend
		journalPath := strings.TrimSpace(cfg.FeedHealthJournal)
		if journalPath == "" {
			journalPath = filepath.Join(cfg.HistoryDir, feedHealthJournalName)
		}
		fileJournal, err := feedhealth.NewFileJournal(journalPath, logger)
		if err != nil {
			return nil, err
		}
		journal = fileJournal
	}

	store, err := history.Open(ctx, backend, history.Options{
		RetentionDays: cfg.RetentionDays,
		Logger:        logger.With().Str("component", "history").Logger(),
		Metrics:       rt.metrics,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store

	matcher, err := similarity.NewMatcher(cfg.TitleSimilarityThreshold)
	if err != nil {
		rt.Close()
		return nil, err
	}
	oracle, err := dedup.New(store, dedup.Options{
		Matcher:             matcher,
		Language:            langdetect.NewClassifier(cfg.NonLatinRatioThreshold, cfg.LanguageDetection),
		DefaultSeverity:     cfg.DefaultSeverity,
		PrePassTitleHistory: cfg.PrePassTitleHistory,
		Location:            location,
		Logger:              logger.With().Str("component", "dedup").Logger(),
		Metrics:             rt.metrics,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.oracle = oracle

	var registry *feedhealth.Registry
	if path := strings.TrimSpace(cfg.FeedsFile); path != "" {
		registry, err = feedhealth.LoadRegistry(path)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	feedLogger := logger.With().Str("component", "feedhealth").Logger()
	var alerter feedhealth.Alerter = feedhealth.NewLogAlerter(feedLogger)
	if redisURL := strings.TrimSpace(cfg.RedisURL); redisURL != "" {
		client, err := feedhealth.DialRedis(ctx, redisURL)
		if err != nil {
			// Alerts are advisory; fall back to the log.
			feedLogger.Warn().Err(err).Msg("redis unavailable, stale feed alerts go to the log only")
		} else {
			rt.redis = client
			redisAlerter, err := feedhealth.NewRedisAlerter(client, cfg.StaleAlertKey, feedLogger)
			if err != nil {
				rt.Close()
				return nil, err
			}
			alerter = redisAlerter
		}
	}

	tracker, err := feedhealth.New(ctx, journal, alerter, feedhealth.Options{
		StaleRuns:    cfg.StaleFeedRuns,
		HistoryLimit: cfg.FeedHealthHistory,
		Registry:     registry,
		Logger:       feedLogger,
		Metrics:      rt.metrics,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.tracker = tracker

	return rt, nil
}

func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	var errs []error
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.pool != nil {
		errs = append(errs, rt.pool.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.logger.Warn().Err(err).Msg("runtime close failed")
	}
}
