// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

// =====================================================
// Logger Creation and Initialization Tests
// =====================================================

// TestInit_idempotent verifies only the first Init takes effect.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1, buf2 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()
	Init(&buf2, LevelDebug)

	if Get() != first {
		t.Error("second Init() should be ignored")
	}
	if first.sink.out != &buf1 {
		t.Error("second Init() should not change the writer")
	}
}

// TestGet_default verifies default logger creation.
func TestGet_default(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil without Init()")
	}
	if logger.sink.out != os.Stderr {
		t.Error("Get() should default to os.Stderr")
	}
	if logger.sink.minLevel != LevelInfo {
		t.Errorf("minLevel = %v, want LevelInfo", logger.sink.minLevel)
	}
}

// =====================================================
// Log Level Tests
// =====================================================

// TestLogLevel_shouldLog verifies log level filtering.
func TestLogLevel_shouldLog(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		logLevel LogLevel
		expected bool
	}{
		{"debug logs at debug", LevelDebug, LevelDebug, true},
		{"debug logs at info", LevelInfo, LevelDebug, false},
		{"info logs at info", LevelInfo, LevelInfo, true},
		{"info logs at warn", LevelWarn, LevelInfo, false},
		{"error logs at error", LevelError, LevelError, true},
		{"error logs at debug", LevelDebug, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(&bytes.Buffer{}, tt.minLevel)
			if got := logger.shouldLog(tt.logLevel); got != tt.expected {
				t.Errorf("shouldLog(%v) at %v = %v, want %v", tt.logLevel, tt.minLevel, got, tt.expected)
			}
		})
	}
}

// TestParseLevel verifies configuration strings map to levels.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"Error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// =====================================================
// Logging Tests
// =====================================================

// TestLogger_levels verifies each level method writes one JSON entry.
func TestLogger_levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Debug("d", map[string]interface{}{"k": "v"})
	logger.Info("i")
	logger.Warn("w", nil)
	logger.Error("e", errors.New("boom"))
	logger.ErrorWithCode("c", "NO_SUCH_PAGE", errors.New("gone"))

	entries := decodeLines(t, &buf)
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	if entries[0].Level != "DEBUG" || entries[0].Context["k"] != "v" {
		t.Errorf("debug entry = %+v", entries[0])
	}
	if entries[3].Error != "boom" {
		t.Errorf("error entry = %+v", entries[3])
	}
	if entries[4].Code != "NO_SUCH_PAGE" || entries[4].Error != "gone" {
		t.Errorf("coded entry = %+v", entries[4])
	}
}

// TestLogger_filtering verifies entries below the minimum level are dropped.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("no")
	logger.Info("no")
	logger.Warn("yes")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Message != "yes" {
		t.Errorf("entries = %+v, want single warn", entries)
	}

	logger.SetLevel(LevelDebug)
	logger.Debug("now")
	if !strings.Contains(buf.String(), `"now"`) {
		t.Error("SetLevel should enable debug output")
	}
}

// TestLogger_With verifies child loggers carry fields and share output.
func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, LevelInfo)
	child := parent.Component("archive").With(map[string]interface{}{"doc": "notes"})

	child.Info("committed", map[string]interface{}{"version": 2})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].Context
	if ctx["component"] != "archive" || ctx["doc"] != "notes" || ctx["version"] != float64(2) {
		t.Errorf("context = %v", ctx)
	}

	parent.SetLevel(LevelError)
	child.Info("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("child should share the parent's level")
	}
}

// TestLogger_getContext_none verifies no context yields nil.
func TestLogger_getContext_none(t *testing.T) {
	logger := New(&bytes.Buffer{}, LevelInfo)
	if ctx := logger.getContext(); ctx != nil {
		t.Errorf("getContext() = %v, want nil", ctx)
	}
}

// TestLogger_concurrentLogging verifies entries are not interleaved.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent", map[string]interface{}{"n": n})
		}(i)
	}
	wg.Wait()

	if entries := decodeLines(t, &buf); len(entries) != 20 {
		t.Errorf("got %d entries, want 20", len(entries))
	}
}
