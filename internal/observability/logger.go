package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component derives a child of the global logger for one subsystem.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
