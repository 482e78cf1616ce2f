package config_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/notestream/internal/config"
)

func TestSetupLoggerWithWriters_Fanout(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	var text, jsonOut bytes.Buffer
	logger := config.SetupLoggerWithWriters(&text, &jsonOut, &level)

	logger.Debug("hidden")
	logger.Info("batch processed", "seq", 3)

	if strings.Contains(text.String(), "hidden") {
		t.Error("debug record should be filtered at info level")
	}
	if !strings.Contains(text.String(), "batch processed") {
		t.Errorf("text output missing record: %q", text.String())
	}

	var rec map[string]any
	if err := json.Unmarshal(jsonOut.Bytes(), &rec); err != nil {
		t.Fatalf("json output is not one JSON record: %v (%q)", err, jsonOut.String())
	}
	if rec["msg"] != "batch processed" || rec["seq"] != float64(3) {
		t.Errorf("json record = %v", rec)
	}

	// Raising verbosity through the shared level applies to both outputs.
	level.Set(slog.LevelDebug)
	logger.Debug("now visible")
	if !strings.Contains(text.String(), "now visible") || !strings.Contains(jsonOut.String(), "now visible") {
		t.Error("level change should apply to both handlers")
	}
}

func TestSetupLogger_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notestream.jsonl")
	logger, cleanup := config.SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file = %q", data)
	}
}

func TestSetupLogger_NoFile(t *testing.T) {
	t.Parallel()

	logger, cleanup := config.SetupLogger("", slog.LevelInfo)
	if logger == nil {
		t.Fatal("logger is nil")
	}
	if err := cleanup(); err != nil {
		t.Errorf("cleanup: %v", err)
	}
}

func TestSetupLogger_UnwritableFallsBack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing", "dir", "log.jsonl")
	logger, cleanup := config.SetupLogger(path, slog.LevelError)
	if logger == nil {
		t.Fatal("logger is nil")
	}
	if err := cleanup(); err != nil {
		t.Errorf("cleanup: %v", err)
	}
}
