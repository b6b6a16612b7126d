package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("job completed", "job_id", "j1", "batches", 3)
	logger.Debug("below the configured level")

	text := stderr.String()
	if !strings.Contains(text, "job completed") || !strings.Contains(text, "job_id=j1") {
		t.Errorf("text output missing entry: %q", text)
	}
	if strings.Contains(text, "below the configured level") {
		t.Error("debug entry should be filtered at info level")
	}

	// Both handlers receive every record, so the file side holds the same
	// single entry as JSON.
	var entry map[string]any
	if err := json.Unmarshal(file.Bytes(), &entry); err != nil {
		t.Fatalf("file output is not JSON: %v (%q)", err, file.String())
	}
	if entry["msg"] != "job completed" || entry["job_id"] != "j1" {
		t.Errorf("unexpected json entry: %v", entry)
	}
}
