package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "serve":
		return runServe(args[1:])
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "filter":
		return runFilter(args[1:])
	case "publish":
		return runPublish(args[1:])
	case "history":
		return runHistory(args[1:])
	case "record-run":
		return runRecordRun(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "secbrief CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  secbrief <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve       Start Echo API server")
	fmt.Fprintln(os.Stderr, "  health      Verify the history backend and report stale feeds")
	fmt.Fprintln(os.Stderr, "  validate    Validate payload JSON files against the request schemas")
	fmt.Fprintln(os.Stderr, "  filter      Run the pre-pass over a candidates file")
	fmt.Fprintln(os.Stderr, "  publish     Run the post-pass over a categorized file and save the brief")
	fmt.Fprintln(os.Stderr, "  history     List retained dates, print one brief or show trends")
	fmt.Fprintln(os.Stderr, "  record-run  Record feed item counts for one ingestion run")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"secbrief <command> -h\" for command-specific flags.")
}
