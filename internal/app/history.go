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

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	date := fs.String("date", "", "Print the brief saved for YYYY-MM-DD (or \"latest\")")
	trends := fs.Bool("trends", false, "Print category and severity trends across retained days")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*date) != "" && *trends {
		fmt.Fprintln(os.Stderr, "--date and --trends are mutually exclusive")
		return 2
	}

	cfg, logger, err := loadSettings(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("history failed to open store")
		fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	var value any
	switch requested := strings.TrimSpace(*date); {
	case *trends:
		value, err = rt.store.Trends(ctx)
	case strings.EqualFold(requested, "latest"):
		value, err = rt.store.Latest(ctx)
	case requested != "":
		value, err = rt.store.ReadBrief(ctx, requested)
	default:
		dates, listErr := rt.store.ListDates(ctx)
		value, err = map[string]any{
			"available_dates":  dates,
			"total_days":       len(dates),
			"max_history_days": rt.store.RetentionDays(),
		}, listErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
		return 1
	}

	if err := writeJSON(os.Stdout, value); err != nil {
		fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
		return 1
	}
	return 0
}
