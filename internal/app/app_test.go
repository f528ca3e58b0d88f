package app

import (
	"os"
	"path/filepath"
	"testing"
)

func setTestEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("SECBRIEF_ENV_FILE", "")
	t.Setenv("HORSE_ENV_FILE", "")
	t.Setenv("HISTORY_BACKEND", "file")
	t.Setenv("HISTORY_DIR", dir)
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("REDIS_URL", "")
	t.Setenv("FEEDS_FILE", "")
	t.Setenv("FEED_HEALTH_JOURNAL", "")
	return dir
}

func TestRunUnknownCommand(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"bogus"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if code := Run(nil); code != 2 {
		t.Fatalf("expected exit code 2 without args, got %d", code)
	}
}

func TestPublishThenHistory(t *testing.T) {
	dir := setTestEnv(t)
	envFile := filepath.Join(t.TempDir(), "missing.env")

	briefPath := filepath.Join(t.TempDir(), "brief.json")
	mustWriteFile(t, briefPath, `{
  "date": "2026-03-01",
  "stories": [
    {"url": "https://example.com/a?utm_source=x", "title": "Critical RCE in Widget Server", "category": "Vulnerabilities", "severity": 5},
    {"url": "https://example.com/a", "title": "Critical RCE in Widget Server again"},
    {"url": "https://example.com/b", "title": "Ransomware gang hits regional hospital", "severity": 9}
  ]
}`)

	if code := Run([]string{"publish", "--env", envFile, "--file", briefPath}); code != 0 {
		t.Fatalf("publish exit code = %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "tech_brief_2026-03-01.json")); err != nil {
		t.Fatalf("expected brief file: %v", err)
	}

	if code := Run([]string{"history", "--env", envFile, "--date", "2026-03-01"}); code != 0 {
		t.Fatalf("history --date exit code = %d", code)
	}
	if code := Run([]string{"history", "--env", envFile, "--date", "2026-03-02"}); code != 1 {
		t.Fatalf("history for a missing date exit code = %d, want 1", code)
	}
	if code := Run([]string{"history", "--env", envFile, "--trends"}); code != 0 {
		t.Fatalf("history --trends exit code = %d", code)
	}
	if code := Run([]string{"history", "--env", envFile, "--trends", "--date", "latest"}); code != 2 {
		t.Fatalf("conflicting flags exit code = %d, want 2", code)
	}
}

func TestFilterRejectsMissingFile(t *testing.T) {
	setTestEnv(t)

	code := Run([]string{"filter", "--file", filepath.Join(t.TempDir(), "nope.json")})
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestFilterCandidatesFile(t *testing.T) {
	setTestEnv(t)
	envFile := filepath.Join(t.TempDir(), "missing.env")

	path := filepath.Join(t.TempDir(), "candidates.json")
	mustWriteFile(t, path, `{"candidates": [
  {"url": "https://example.com/x", "title": "Zero-day in VPN appliance exploited"},
  {"url": "", "title": "missing url"}
]}`)

	if code := Run([]string{"filter", "--env", envFile, "--file", path, "--date", "2026-03-01"}); code != 0 {
		t.Fatalf("filter exit code = %d", code)
	}
}

func TestRecordRunWritesJournal(t *testing.T) {
	dir := setTestEnv(t)
	envFile := filepath.Join(t.TempDir(), "missing.env")

	args := []string{"record-run", "--env", envFile, "--feed", "krebs", "--count", "0", "--at", "2026-03-01T06:00:00Z"}
	if code := Run(args); code != 0 {
		t.Fatalf("record-run exit code = %d", code)
	}
	info, err := os.Stat(filepath.Join(dir, feedHealthJournalName))
	if err != nil {
		t.Fatalf("expected journal file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected journal to contain a record")
	}

	if code := Run([]string{"record-run", "--env", envFile}); code != 2 {
		t.Fatalf("record-run without --feed or --file exit code = %d, want 2", code)
	}
	if code := Run([]string{"record-run", "--env", envFile, "--feed", "krebs"}); code != 2 {
		t.Fatalf("record-run without --count exit code = %d, want 2", code)
	}
}
