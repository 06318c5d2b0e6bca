package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("hidden")
	logger.Info("match found", zap.String("person", "Ada"))
	_ = logger.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line (debug filtered), got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["msg"] != "match found" || entry["person"] != "Ada" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "console")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("sampling", zap.Int("frame_skip", 20))
	_ = logger.Sync()

	if !strings.Contains(buf.String(), "DEBUG") || !strings.Contains(buf.String(), "frame_skip") {
		t.Errorf("Unexpected console output: %q", buf.String())
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "console"); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}
