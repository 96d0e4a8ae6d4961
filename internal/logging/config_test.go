package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	if lvl, ok := parseLevel(" Warning "); !ok || lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v ok=%v", lvl, ok)
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be ignored")
	}
	if lvl, ok := parseLevel("off"); !ok || lvl != zerolog.Disabled {
		t.Fatalf("expected disabled level, got %v ok=%v", lvl, ok)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "1")
	t.Setenv(EnvLogBypass, "nope")

	cfg := Config{Level: zerolog.InfoLevel, Timestamp: true}
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel || cfg.Timestamp || !cfg.NoColor || cfg.Bypass {
		t.Fatalf("unexpected config after overrides: %+v", cfg)
	}
}

func TestApplyBypassWritesJSON(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	apply(Config{Level: zerolog.DebugLevel, Bypass: true}, &buf)
	log.Debug().Uint64("batch_id", 3).Msg("applied")

	out := buf.String()
	if !strings.Contains(out, `"batch_id":3`) || !strings.Contains(out, `"message":"applied"`) {
		t.Fatalf("unexpected log output: %q", out)
	}
}

func TestSetLevelDefersToEnvironment(t *testing.T) {
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prevLevel) })

	t.Setenv(EnvLogLevel, "")
	if !SetLevel("warn") || zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("expected configured level applied, got %v", zerolog.GlobalLevel())
	}
	if SetLevel("loud") {
		t.Fatalf("expected unknown level ignored")
	}

	t.Setenv(EnvLogLevel, "error")
	if SetLevel("debug") || zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("expected environment level to win")
	}
	if !ValidLevel("") || !ValidLevel("trace") || ValidLevel("loud") {
		t.Fatalf("unexpected level validation")
	}
}
