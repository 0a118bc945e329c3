package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOperationErrorFormatsAndUnwraps(t *testing.T) {
	base := errors.New("boom")

	err := NewOperationError("compositor.overlay", "req-1", base)
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if got := err.Error(); got != "compositor.overlay (request_id=req-1): boom" {
		t.Fatalf("unexpected message: %s", got)
	}

	if got := NewOperationError("assets.load", "", base).Error(); got != "assets.load: boom" {
		t.Fatalf("unexpected message without request id: %s", got)
	}
	if NewOperationError("noop", "req", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emojify.log")

	logger, err := NewLogger(Options{Mode: "release", Level: "info", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	WithOperation(logger, "test.write", "req-9").Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"request_id":"req-9"`) {
		t.Fatalf("expected request id in log file, got %s", data)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOperationOf(t *testing.T) {
	err := NewOperationError("usecase.detect_faces", "req", errors.New("unavailable"))
	if got := OperationOf(err); got != "usecase.detect_faces" {
		t.Fatalf("unexpected operation: %s", got)
	}
	if got := OperationOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty operation, got %s", got)
	}
}
