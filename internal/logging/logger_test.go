package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

func TestNewProductionLoggerWritesServiceField(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(false, WithOutput(path), WithLevel("warn"))
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	logger.Info("dropped below warn")
	logger.Warn("kept")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(raw)
	if strings.Contains(out, "dropped below warn") {
		t.Fatalf("expected info entry to be filtered: %s", out)
	}
	if !strings.Contains(out, `"service":"`+Service+`"`) || !strings.Contains(out, "kept") {
		t.Fatalf("expected warn entry with service field: %s", out)
	}
}

func TestWithLevelIgnoresGarbage(t *testing.T) {
	t.Parallel()

	if _, err := New(false, WithLevel("loud")); err != nil {
		t.Fatalf("New() error = %v", err)
	}
}
