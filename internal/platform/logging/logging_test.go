package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONRenamesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("pixel_placed", "x", 5)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["message"] != "pixel_placed" {
		t.Fatalf("message = %v, want pixel_placed", record["message"])
	}
	if record["severity"] != "INFO" {
		t.Fatalf("severity = %v, want INFO", record["severity"])
	}
	if _, ok := record["msg"]; ok {
		t.Fatal("expected msg key to be renamed")
	}
}

func TestNewHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: FormatText, Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("expected info record to be filtered, got %q", out)
	}
	if !strings.Contains(out, "severity=WARN") || !strings.Contains(out, "message=kept") {
		t.Fatalf("expected renamed text keys, got %q", out)
	}
}

func TestNewRejectsUnknownInputs(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected unknown level error")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != slog.Default() {
		t.Fatal("expected default logger for nil")
	}
	logger := Discard()
	if OrDefault(logger) != logger {
		t.Fatal("expected provided logger to pass through")
	}
}
