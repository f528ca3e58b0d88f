package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/secbrief/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "History backend timeout")
	failOnStale := fs.Bool("fail-on-stale", false, "Exit non-zero when any feed is stale")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, err := loadSettings(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if rt.pool != nil {
		if err := rt.pool.Ping(ctx); err != nil {
			logger.Error().Err(err).Msg("database ping failed")
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			return 1
		}
	}

	dates, err := rt.store.ListDates(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	stale := rt.tracker.StaleFeeds()

	logger.Info().
		Str("backend", cfg.Backend()).
		Int("retained_dates", len(dates)).
		Int("stale_feeds", len(stale)).
		Dur("timeout", *timeout).
		Msg("health check passed")

	fmt.Printf("ok: backend=%s retained_dates=%d max_history_days=%d\n", cfg.Backend(), len(dates), rt.store.RetentionDays())
	if len(stale) > 0 {
		fmt.Printf("stale feeds: %s\n", strings.Join(stale, ", "))
		if *failOnStale {
			return 1
		}
	}
	return 0
}
