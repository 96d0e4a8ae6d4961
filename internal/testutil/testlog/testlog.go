package testlog

import (
	"testing"

	"github.com/danmuck/rbmirror/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start configures test logging and returns a logger tagged with the test
// name. The test outcome is logged on cleanup.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	logger := log.Logger.With().Str("test", t.Name()).Logger()
	logger.Debug().Msg("start")
	t.Cleanup(func() {
		if t.Failed() {
			logger.Warn().Msg("failed")
			return
		}
		logger.Debug().Msg("done")
	})
	return logger
}
