package config

import (
	"io"
	"log/slog"

	"git.home.luguber.info/inful/storydev/internal/foundation"
)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var (
	logLevels = foundation.NewNormalizer(map[string]LogLevel{
		"debug":   LogLevelDebug,
		"info":    LogLevelInfo,
		"warn":    LogLevelWarn,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	}, LogLevelInfo)
	logFormats = foundation.NewNormalizer(map[string]LogFormat{
		"json": LogFormatJSON,
		"text": LogFormatText,
	}, LogFormatText)
)

// NormalizeLogLevel maps raw input to a LogLevel, falling back to info.
func NormalizeLogLevel(raw string) LogLevel {
	return logLevels.Normalize(raw)
}

// NormalizeLogFormat maps raw input to a LogFormat, falling back to text.
func NormalizeLogFormat(raw string) LogFormat {
	return logFormats.Normalize(raw)
}

// Level converts to the slog level.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger. verbose forces debug level.
func NewLogger(w io.Writer, cfg LoggingConfig, verbose bool) *slog.Logger {
	level := NormalizeLogLevel(string(cfg.Level)).Level()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if NormalizeLogFormat(string(cfg.Format)) == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
