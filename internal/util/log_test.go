package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger("debug", "json")
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}

	logger = NewLogger("invalid", "")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}

	logger = NewLogger("", "")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info for empty level, got %s", logger.GetLevel())
	}
}

func TestNewLoggerToFormats(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger := NewLoggerTo(&buf, "info", "json")
	jsonLogger.Info().Str("instrument", "EURUSD").Msg("bar")
	if !strings.Contains(buf.String(), `"instrument":"EURUSD"`) {
		t.Fatalf("expected json field, got %s", buf.String())
	}

	buf.Reset()
	warnLogger := NewLoggerTo(&buf, "warn", "console")
	warnLogger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}
	consoleLogger := NewLoggerTo(&buf, "info", "console")
	consoleLogger.Info().Str("instrument", "USDJPY").Msg("bar")
	if !strings.Contains(buf.String(), "instrument=USDJPY") {
		t.Fatalf("expected console output, got %s", buf.String())
	}
}
