package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_CreatesDirAndWritesJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	log, err := NewLogger(Options{Dir: dir, Level: "debug"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Debug("test_message_from_logging_test")
	_ = log.Sync()

	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"test_message_from_logging_test"`) {
		t.Fatalf("log line missing: %s", b)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(Options{Dir: dir, Level: "warn"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("dropped_info")
	log.Warn("kept_warn")
	_ = log.Sync()

	b, _ := os.ReadFile(filepath.Join(dir, FileName))
	if strings.Contains(string(b), "dropped_info") || !strings.Contains(string(b), "kept_warn") {
		t.Fatalf("unexpected content: %s", b)
	}
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	log, err := NewLogger(Options{Dir: t.TempDir(), Level: "chatty", Console: true})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !log.Core().Enabled(zapcore.InfoLevel) || log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("want info level")
	}
}
