package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codepair/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	return cfg
}

func TestNewApplication(t *testing.T) {
	application, err := NewApplication(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = ""

	if _, err := NewApplication(cfg, nil); err == nil {
		t.Error("expected error for invalid configuration")
	}
}

func TestStartAndStop(t *testing.T) {
	application, err := NewApplication(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestGetAddr(t *testing.T) {
	application, err := NewApplication(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()

	if addr := application.GetAddr(); addr != "127.0.0.1:0" {
		t.Errorf("unexpected listen address %q", addr)
	}
}
