package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rbmirror/internal/config"
	"github.com/danmuck/rbmirror/internal/protocol/session"
)

type fileConfig struct {
	Name          string               `toml:"name"`
	AdminAddr     string               `toml:"admin_addr"`
	AdminToken    string               `toml:"admin_token"`
	CORSOrigins   []string             `toml:"cors_origins"`
	Replay        string               `toml:"replay"`
	Outbox        string               `toml:"outbox"`
	DrainInterval string               `toml:"drain_interval"`
	LogLevel      string               `toml:"log_level"`
	Session       config.SessionConfig `toml:"session"`
	Limits        config.LimitsConfig  `toml:"limits"`
}

type serviceConfig struct {
	Name        string
	AdminAddr   string
	AdminToken  string
	CORSOrigins []string
	// Replay is a file of RenderBatch transport frames applied at start.
	Replay string
	// Outbox receives drained outbound frames. Empty discards them.
	Outbox        string
	DrainInterval time.Duration
	LogLevel      string
	Session       session.Config
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Name:          "rbmirror",
		AdminAddr:     "127.0.0.1:7300",
		DrainInterval: 250 * time.Millisecond,
		Session:       session.DefaultConfig(),
	}
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load mirror config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}

	if meta.IsDefined("replay") {
		cfg.Replay = strings.TrimSpace(raw.Replay)
	}

	if meta.IsDefined("outbox") {
		cfg.Outbox = strings.TrimSpace(raw.Outbox)
	}

	if meta.IsDefined("drain_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DrainInterval))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse drain_interval: %w", err)
		}
		if d <= 0 {
			return serviceConfig{}, fmt.Errorf("drain_interval must be positive")
		}
		cfg.DrainInterval = d
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("session") || meta.IsDefined("limits") {
		cfg.Session = config.SessionSettings(config.MirrorConfig{Session: raw.Session, Limits: raw.Limits})
	}

	if err := config.ValidateMirrorConfig(cfg.model(raw)); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

// model maps the resolved values back onto the shared file model for
// validation.
func (c serviceConfig) model(raw fileConfig) config.MirrorConfig {
	return config.MirrorConfig{
		Name:       c.Name,
		AdminAddr:  c.AdminAddr,
		AdminToken: c.AdminToken,
		Replay:     c.Replay,
		LogLevel:   c.LogLevel,
		Session:    raw.Session,
		Limits:     raw.Limits,
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
