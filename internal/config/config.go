package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/danmuck/rbmirror/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

// MirrorConfig is the on-disk mirrorctl configuration.
type MirrorConfig struct {
	Name      string `toml:"name"`
	AdminAddr string `toml:"admin_addr"`
	// AdminToken guards mutating admin routes when set.
	AdminToken string        `toml:"admin_token"`
	Replay     string        `toml:"replay"`
	LogLevel   string        `toml:"log_level"`
	Session    SessionConfig `toml:"session"`
	Limits     LimitsConfig  `toml:"limits"`
}

type SessionConfig struct {
	InboxDepth    int `toml:"inbox_depth"`
	OutboxDepth   int `toml:"outbox_depth"`
	CompressAbove int `toml:"compress_above"`
}

// LimitsConfig bounds render-batch decoding. Zero keeps the default.
type LimitsConfig struct {
	MaxPayloadBytes int    `toml:"max_payload_bytes"`
	MaxStringBytes  uint32 `toml:"max_string_bytes"`
	MaxFrames       uint32 `toml:"max_frames"`
	MaxDiffs        uint32 `toml:"max_diffs"`
	MaxEdits        uint32 `toml:"max_edits"`
	MaxDisposed     uint32 `toml:"max_disposed"`
}

func LoadMirrorConfig(path string) (MirrorConfig, error) {
	var cfg MirrorConfig
	if err := loadToml(path, &cfg); err != nil {
		return MirrorConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "rbmirror"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = "127.0.0.1:7300"
	}
	if err := ValidateMirrorConfig(cfg); err != nil {
		return MirrorConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// Marshal renders cfg as TOML.
func Marshal(cfg MirrorConfig) ([]byte, error) {
	return toml.Marshal(cfg)
}

func ValidateMirrorConfig(cfg MirrorConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("mirror config missing name")
	}
	if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.AdminAddr)); err != nil {
		return fmt.Errorf("mirror config admin_addr invalid: %w", err)
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		return fmt.Errorf("mirror config log_level unknown: %q", cfg.LogLevel)
	}
	if cfg.Session.InboxDepth < 0 || cfg.Session.OutboxDepth < 0 || cfg.Session.CompressAbove < 0 {
		return fmt.Errorf("mirror config session values must not be negative")
	}
	if cfg.Limits.MaxPayloadBytes < 0 {
		return fmt.Errorf("mirror config limits.max_payload_bytes must not be negative")
	}
	return nil
}
