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
	payloadschema "horse.fit/secbrief/schema"
)

func runFilter(args []string) int {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "-", "Candidates JSON file, or - for stdin")
	date := fs.String("date", "", "Brief date YYYY-MM-DD (overrides the payload, defaults to today)")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	raw, err := readPayload(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Filter failed: %v\n", err)
		return 2
	}
	req, err := payloadschema.DecodeCandidates(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Filter failed: %v\n", err)
		return 1
	}
	if override := strings.TrimSpace(*date); override != "" {
		req.Date = override
	}

	cfg, logger, err := loadSettings(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Filter failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("filter failed to open history")
		fmt.Fprintf(os.Stderr, "Filter failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	result, err := rt.oracle.FilterCandidates(ctx, req.Date, req.Candidates)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Filter failed: %v\n", err)
		return 1
	}

	logger.Info().
		Str("date", result.Date).
		Int("received", len(req.Candidates)).
		Int("kept", len(result.Kept)).
		Int("dropped", result.Dropped).
		Msg("pre-pass complete")

	if err := writeJSON(os.Stdout, result); err != nil {
		fmt.Fprintf(os.Stderr, "Filter failed: %v\n", err)
		return 1
	}
	return 0
}
