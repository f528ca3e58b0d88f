package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriter_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "prod", "INFO")
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("date", "2026-10-01").Msg("brief written")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "secbrief" || entry["date"] != "2026-10-01" || entry["message"] != "brief written" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New("local", "loud"); err == nil {
		t.Fatalf("expected invalid level to be rejected")
	}
}
