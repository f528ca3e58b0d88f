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
	"horse.fit/secbrief/internal/feedhealth"
	"horse.fit/secbrief/internal/globaltime"
	payloadschema "horse.fit/secbrief/schema"
)

func runRecordRun(args []string) int {
	fs := flag.NewFlagSet("record-run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	feed := fs.String("feed", "", "Feed identifier for a single-feed record")
	count := fs.Int("count", -1, "Item count for --feed")
	file := fs.String("file", "", "Run summary JSON file ({\"counts\": {...}}), or - for stdin")
	at := fs.String("at", "", "Run timestamp in RFC3339 (defaults to now)")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	feedID := strings.TrimSpace(*feed)
	summaryPath := strings.TrimSpace(*file)
	if (feedID == "") == (summaryPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of --feed or --file is required")
		return 2
	}
	if feedID != "" && *count < 0 {
		fmt.Fprintln(os.Stderr, "--count must be >= 0 when --feed is set")
		return 2
	}

	runAt := globaltime.UTC()
	if raw := strings.TrimSpace(*at); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "--at must be RFC3339: %v\n", err)
			return 2
		}
		runAt = parsed.UTC()
	}

	var counts map[string]int
	if summaryPath != "" {
		raw, err := readPayload(summaryPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Record run failed: %v\n", err)
			return 2
		}
		req, err := payloadschema.DecodeFeedRun(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Record run failed: %v\n", err)
			return 1
		}
		counts = req.Counts
		if req.RunAt != nil && strings.TrimSpace(*at) == "" {
			runAt = req.RunAt.UTC()
		}
	}

	cfg, logger, err := loadSettings(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Record run failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("record run failed to open feed health")
		fmt.Fprintf(os.Stderr, "Record run failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	var records []feedhealth.Record
	if feedID != "" {
		var record feedhealth.Record
		record, err = rt.tracker.RecordRun(ctx, feedID, *count, runAt)
		records = append(records, record)
	} else {
		records, err = rt.tracker.RecordSummary(ctx, counts, runAt)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Record run failed: %v\n", err)
		return 1
	}

	for _, record := range records {
		fmt.Printf("feed=%s items=%d stale=%t\n", record.FeedID, record.ItemCount, record.Stale)
	}
	if stale := rt.tracker.StaleFeeds(); len(stale) > 0 {
		fmt.Printf("stale feeds: %s\n", strings.Join(stale, ", "))
	}
	return 0
}
