// Package logging provides structured logging for orchestratord using
// zerolog: JSON output in production, pretty console output in development,
// and a Component() helper for consistent per-subsystem tagging.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger. Init must run before any component
// logger is derived from it.
var Log zerolog.Logger

// Init configures the global logger. level is a zerolog level name
// ("debug","info","warn","error"); pretty selects console formatting over
// JSON.
func Init(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "orchestratord").Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Component returns a logger tagged with the given subsystem name, mirroring
// the teacher's Security()/WebSocket()/Database() helper pattern but
// generalized to an open set of component names so every package in this
// module gets one without hand-writing a helper per component.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
