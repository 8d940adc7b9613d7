package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jxlpack/internal/services"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cjxl")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestEncodePassesArgumentOrder(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	bin := writeScript(t, `printf '%s\n' "$@" > "`+argsFile+`"
cp "$1" "$2"
echo done
`)
	src := filepath.Join(dir, "a.png")
	dst := filepath.Join(dir, "a.jxl")
	if err := os.WriteFile(src, []byte("pixels"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	res, err := New(bin, 0).Encode(context.Background(), src, dst, []string{"--distance=0", "--effort=7"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "done" {
		t.Fatalf("expected captured stdout, got %q", res.Stdout)
	}
	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	want := src + "\n" + dst + "\n--distance=0\n--effort=7\n"
	if string(data) != want {
		t.Fatalf("unexpected argv:\n%s\nwant:\n%s", data, want)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
}

func TestEncodeFailureCapturesOutput(t *testing.T) {
	bin := writeScript(t, "echo 'bad input' >&2\nexit 3\n")
	_, err := New(bin, 0).Encode(context.Background(), "in.png", "out.jxl", nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure in chain, got %T", err)
	}
	if failure.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", failure.ExitCode)
	}
	if !strings.Contains(failure.Stderr, "bad input") {
		t.Fatalf("expected stderr captured, got %q", failure.Stderr)
	}
}

func TestEncodeMissingBinary(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), 0).Encode(context.Background(), "a", "b", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker for launch failure, got %v", err)
	}
}

func TestEncodeTimeout(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")
	start := time.Now()
	_, err := New(bin, 100*time.Millisecond).Encode(context.Background(), "a", "b", nil)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout did not stop the encoder promptly")
	}
}

func TestEncodeParentCancel(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(bin, time.Minute).Encode(ctx, "a", "b", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if errors.Is(err, services.ErrTimeout) {
		t.Fatalf("cancellation must not be reported as timeout")
	}
}

func TestEncodeUnconfigured(t *testing.T) {
	var e *Exec
	if _, err := e.Encode(context.Background(), "a", "b", nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
