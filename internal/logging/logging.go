// Package logging builds the process logger.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger writing to w at level. Unknown or empty
// levels fall back to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000", NoColor: true}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component derives a logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Since logs how long an operation took at debug level.
func Since(logger zerolog.Logger, op string, start time.Time) {
	logger.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("done")
}
