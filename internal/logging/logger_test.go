package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jxlpack/internal/config"
	"jxlpack/internal/services"
)

func TestConsoleHandlerFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))
	logger = NewComponentLogger(logger, "convert")

	logger.Info("converted image", String("source", "/data/a b.png"), Int("bytes", 42))

	line := buf.String()
	if !strings.Contains(line, " INFO [convert] converted image") {
		t.Fatalf("unexpected header: %q", line)
	}
	if !strings.Contains(line, `source="/data/a b.png"`) {
		t.Fatalf("expected quoted source, got %q", line)
	}
	if !strings.Contains(line, "bytes=42") {
		t.Fatalf("expected bytes attr, got %q", line)
	}
	if strings.Count(line, "component=") != 0 {
		t.Fatalf("component should be rendered in brackets only: %q", line)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info line should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "WARN shown") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestConsoleHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, new(slog.LevelVar), false))
	logger.WithGroup("archive").Info("written", String("path", "/x.zip"))
	if !strings.Contains(buf.String(), "archive.path=/x.zip") {
		t.Fatalf("expected grouped key, got %q", buf.String())
	}
}

func TestJSONHandlerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, new(slog.LevelVar), false))
	logger.Warn("collision", String(FieldEventType, "collision_differs"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json: %v (%q)", err, buf.String())
	}
	if payload["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
	if payload[FieldEventType] != "collision_differs" {
		t.Fatalf("unexpected event type %v", payload[FieldEventType])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigWritesDebugFile(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	cfg.LogLevel = "error"

	logger, closer, err := NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Debug("debug detail", String("key", "value"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "DEBUG debug detail") {
		t.Fatalf("expected debug line in file, got %q", string(data))
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(newConsoleHandler(&buf, new(slog.LevelVar), false))

	ctx := services.WithRunID(context.Background(), "run-1")
	ctx = services.WithDirectory(ctx, "/photos/a")
	ctx = WithStage(ctx, "convert")

	WithContext(ctx, base).Info("hello")

	line := buf.String()
	for _, want := range []string{"run_id=run-1", "directory=/photos/a", "stage=convert"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, new(slog.LevelVar), false))

	WarnWithContext(logger, "source vanished", "already_deleted", Error(errors.New("gone")))

	line := buf.String()
	if !strings.Contains(line, "event_type=already_deleted") {
		t.Fatalf("expected event_type, got %q", line)
	}
	if !strings.Contains(line, "impact=") {
		t.Fatalf("expected impact default, got %q", line)
	}
	if !strings.Contains(line, "error=gone") {
		t.Fatalf("expected error attr, got %q", line)
	}
}
