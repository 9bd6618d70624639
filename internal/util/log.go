package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger writes to stdout; format "console" selects the human-readable writer.
func NewLogger(level, format string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, level, format)
}

func NewLoggerTo(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stdout}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}
