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
	"horse.fit/secbrief/internal/history"
	payloadschema "horse.fit/secbrief/schema"
)

func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "-", "Categorized brief JSON file, or - for stdin")
	date := fs.String("date", "", "Brief date YYYY-MM-DD (overrides the payload, defaults to today)")
	dryRun := fs.Bool("dry-run", false, "Run the post-pass and print the result without saving")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	raw, err := readPayload(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 2
	}
	req, err := payloadschema.DecodeBrief(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}
	briefDate := req.BriefDate()
	if override := strings.TrimSpace(*date); override != "" {
		briefDate = override
	}

	cfg, logger, err := loadSettings(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("publish failed to open history")
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if *dryRun {
		result, err := rt.oracle.Reconcile(ctx, briefDate, req.Stories)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
			return 1
		}
		if err := writeJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
			return 1
		}
		return 0
	}

	result, err := rt.oracle.Publish(ctx, briefDate, req.Stories, history.BriefMeta{GeneratedAt: req.GeneratedAt})
	if err != nil {
		logger.Error().Err(err).Str("date", briefDate).Msg("publish failed")
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}

	brief := result.Brief
	fmt.Printf(
		"publish date=%s run_id=%s stories=%d dropped=%d retained_dates=%d\n",
		brief.Date,
		brief.RunID,
		brief.TotalStories,
		len(result.Rejections),
		len(rt.store.SeenKeys().Dates()),
	)
	for _, rejection := range result.Rejections {
		fmt.Fprintf(os.Stderr, "DROPPED [%d] %s: %s\n", rejection.Index, rejection.Reason, rejection.URL)
	}
	return 0
}
