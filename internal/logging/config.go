package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "RBMIRROR_LOG_LEVEL"
	EnvLogTimestamp = "RBMIRROR_LOG_TIMESTAMP"
	EnvLogNoColor   = "RBMIRROR_LOG_NOCOLOR"
	EnvLogBypass    = "RBMIRROR_LOG_BYPASS"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved process logging setup.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// Bypass writes plain JSON lines instead of the console writer.
	Bypass bool
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile, os.Stderr)
		applyEnvOverrides(&cfg)
		apply(cfg, os.Stderr)
	})
}

func defaultConfig(profile Profile, out *os.File) Config {
	cfg := Config{NoColor: !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd())}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

func apply(cfg Config, out io.Writer) {
	zerolog.SetGlobalLevel(cfg.Level)
	w := out
	if !cfg.Bypass {
		cw := zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor, TimeFormat: time.RFC3339}
		if !cfg.Timestamp {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		w = cw
	}
	ctx := zerolog.New(w).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	log.Logger = ctx.Logger()
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// ValidLevel reports whether raw names a level. Empty is valid.
func ValidLevel(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return true
	}
	_, ok := parseLevel(raw)
	return ok
}

// SetLevel applies a configured level unless RBMIRROR_LOG_LEVEL already
// chose one.
func SetLevel(raw string) bool {
	if _, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		return false
	}
	lvl, ok := parseLevel(raw)
	if ok {
		zerolog.SetGlobalLevel(lvl)
	}
	return ok
}
