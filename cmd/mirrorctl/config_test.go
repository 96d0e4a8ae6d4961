package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/rbmirror/internal/protocol/session"
	"github.com/danmuck/rbmirror/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "mirror.local" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.AdminAddr != "127.0.0.1:7310" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminAddr)
	}
	if cfg.AdminToken != "dev-token" {
		t.Fatalf("unexpected admin token: %q", cfg.AdminToken)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORSOrigins)
	}
	if cfg.Replay != "testdata/batches.rbf" || cfg.Outbox != "" {
		t.Fatalf("unexpected replay/outbox: %q %q", cfg.Replay, cfg.Outbox)
	}
	if cfg.DrainInterval != 100*time.Millisecond {
		t.Fatalf("unexpected drain interval: %v", cfg.DrainInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}

	def := session.DefaultConfig()
	if cfg.Session.InboxDepth != 32 || cfg.Session.CompressAbove != 4096 {
		t.Fatalf("session overrides not applied: %+v", cfg.Session)
	}
	if cfg.Session.OutboxDepth != def.OutboxDepth {
		t.Fatalf("expected default outbox depth, got %d", cfg.Session.OutboxDepth)
	}
	if cfg.Session.Batch.MaxFrames != 4096 || cfg.Session.Batch.MaxEdits != 8192 {
		t.Fatalf("limit overrides not applied: %+v", cfg.Session.Batch)
	}
	if cfg.Session.Batch.MaxStringBytes != def.Batch.MaxStringBytes {
		t.Fatalf("expected default string limit, got %d", cfg.Session.Batch.MaxStringBytes)
	}
}

func TestLoadServiceConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig(writeConfig(t, "name = \"  \"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := defaultServiceConfig()
	if cfg.Name != want.Name || cfg.AdminAddr != want.AdminAddr || cfg.DrainInterval != want.DrainInterval {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.Session != want.Session {
		t.Fatalf("expected default session config, got %+v", cfg.Session)
	}
}

func TestLoadServiceConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	for _, content := range []string{
		"drain_interval = \"soon\"\n",
		"drain_interval = \"-1s\"\n",
		"admin_addr = \"7310\"\n",
		"log_level = \"loud\"\n",
		"[session]\noutbox_depth = -4\n",
	} {
		if _, err := loadServiceConfig(writeConfig(t, content)); err == nil {
			t.Fatalf("expected %q rejected", content)
		}
	}
	if _, err := loadServiceConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file rejected")
	}
}
