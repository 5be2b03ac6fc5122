package cli

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"dividi/internal/log"
)

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupLogger("debug", log.ComponentWorker)
	if logger.Component() != log.ComponentWorker {
		t.Errorf("Component() = %q", logger.Component())
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "8090")
	t.Setenv("DATA_BACKEND", "memory")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "8090" {
		t.Errorf("Port = %q", cfg.Port)
	}

	t.Setenv("DATA_BACKEND", "sheets")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "invalid data backend") {
		t.Errorf("expected backend validation error, got %v", err)
	}
}
