package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cinder/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestWriterLoggerEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriterLogger(&buf, "info")
	if err != nil {
		t.Fatalf("NewWriterLogger: %v", err)
	}
	logger.Debug("hidden")
	logger.With(String("component", "engine")).Info("tick",
		Uint64("tick", 7),
		Float64("sim_time", 0.105),
		Duration("elapsed", 1500*time.Microsecond),
		Error(errors.New("boom")),
	)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected the debug line to be filtered, got %d entries", len(entries))
	}
	entry := entries[0]
	if entry["service"] != "cinder" || entry["component"] != "engine" || entry["level"] != "info" {
		t.Fatalf("unexpected base fields %+v", entry)
	}
	if entry["tick"] != float64(7) || entry["sim_time"] != 0.105 || entry["elapsed"] != "1.5ms" {
		t.Fatalf("unexpected typed fields %+v", entry)
	}
	if entry["error"] != "boom" {
		t.Fatalf("expected error text, got %+v", entry["error"])
	}
}

func TestWriterLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewWriterLogger(&bytes.Buffer{}, "chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestContextLoggerFallsBackToGlobal(t *testing.T) {
	if LoggerFromContext(context.Background()) != L() {
		t.Fatalf("expected global fallback")
	}
	logger := NewTestLogger()
	ctx := contextWithLogger(context.Background(), logger)
	if LoggerFromContext(ctx) != logger {
		t.Fatalf("expected context logger")
	}
}

func TestHTTPTraceMiddlewarePropagatesTraceID(t *testing.T) {
	var seen string
	handler := HTTPTraceMiddleware(NewTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(TraceIDHeader, "abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "abc123" || rec.Header().Get(TraceIDHeader) != "abc123" {
		t.Fatalf("trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceIDHeader))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if len(rec.Header().Get(TraceIDHeader)) != 32 {
		t.Fatalf("expected generated trace id, got %q", rec.Header().Get(TraceIDHeader))
	}
}

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cinder.log")
	logger, err := New(config.LoggingConfig{Level: "debug", Path: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer replaceGlobals(NewTestLogger())
	logger.Info("started", String("address", ":43127"))
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"message":"started"`) {
		t.Fatalf("expected log line in file, got %q", data)
	}
	if L() != logger {
		t.Fatalf("New should install the global logger")
	}
}

func TestNewValidatesRotationSettings(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(config.LoggingConfig{Path: ""}); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := New(config.LoggingConfig{Path: filepath.Join(dir, "a.log"), MaxSizeMB: 0}); err == nil {
		t.Fatalf("expected error for zero max size")
	}
}
