package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestFileLogger(t *testing.T, config FileLoggerConfig) *FileLogger {
	t.Helper()
	if config.FilePath == "" {
		config.FilePath = filepath.Join(t.TempDir(), "test.log")
	}
	logger, err := NewFileLogger(config)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	t.Cleanup(func() {
		if closeErr := logger.Close(); closeErr != nil {
			t.Fatalf("Failed to close logger: %v", closeErr)
		}
	})
	return logger
}

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	var entries []LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("Failed to parse log entry: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestFileLogger_Logging(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger := newTestFileLogger(t, FileLoggerConfig{FilePath: logPath, Level: DEBUG})

	logger.Debug("debug message", F("key1", "value1"))
	logger.Info("info message", F("key2", 123))
	logger.Warn("warn message")
	logger.Error("error message", F("err", errors.New("boom")))

	if err := logger.Close(); err != nil {
		t.Fatalf("Failed to close logger: %v", err)
	}

	entries := readEntries(t, logPath)
	if len(entries) != 4 {
		t.Fatalf("Expected 4 log entries, got %d", len(entries))
	}
	if entries[0].Level != "DEBUG" || entries[0].Message != "debug message" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].Fields["key1"] != "value1" {
		t.Errorf("Entry.Fields[key1] = %v, want 'value1'", entries[0].Fields["key1"])
	}
	if entries[3].Fields["err"] != "boom" {
		t.Errorf("error field should marshal as its message, got %v", entries[3].Fields["err"])
	}
}

func TestFileLogger_LevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger := newTestFileLogger(t, FileLoggerConfig{FilePath: logPath, Level: WARN})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")
	logger.Close()

	if got := len(readEntries(t, logPath)); got != 2 {
		t.Errorf("Expected 2 log entries, got %d", got)
	}
}

func TestFileLogger_TraceIDSharesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger := newTestFileLogger(t, FileLoggerConfig{FilePath: logPath, Level: INFO})

	traced := logger.WithTraceID("trace-123-456")
	fromCtx := logger.WithContext(ContextWithTraceID(context.Background(), "ctx-trace-789"))

	traced.Info("first")
	fromCtx.Info("second")
	logger.Info("third")

	// Level changes on the parent apply to derived loggers.
	logger.SetLevel(ERROR)
	traced.Info("filtered")
	logger.Close()

	entries := readEntries(t, logPath)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	want := []string{"trace-123-456", "ctx-trace-789", ""}
	for i, entry := range entries {
		if entry.TraceID != want[i] {
			t.Errorf("entry %d TraceID = %q, want %q", i, entry.TraceID, want[i])
		}
	}
}

func TestFileLogger_RotationKeepsMaxBackups(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "backup.log")
	logger := newTestFileLogger(t, FileLoggerConfig{
		FilePath:      logPath,
		Level:         INFO,
		MaxFileSize:   100,
		MaxBackups:    2,
		RotateEnabled: true,
	})

	for i := 0; i < 20; i++ {
		logger.Info("This is a test message that should trigger rotation", F("i", i))
	}
	logger.Close()

	rotated, err := filepath.Glob(logPath + ".*")
	if err != nil {
		t.Fatalf("Failed to glob log files: %v", err)
	}
	if len(rotated) != 2 {
		t.Errorf("Expected 2 rotated files, got %d: %v", len(rotated), rotated)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("active log file missing: %v", err)
	}
}

func TestFileLogger_CloseTwice(t *testing.T) {
	logger := newTestFileLogger(t, FileLoggerConfig{Level: INFO})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	// Writes after close are dropped, not panics.
	logger.Info("after close")
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
