package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Component loggers are derived from it
// when their owner is constructed, so Init must run first.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // defaults to stdout
}

// ParseLevel maps a configuration string onto a Level, defaulting to info
func ParseLevel(s string) Level {
	if _, ok := levels[Level(s)]; ok {
		return Level(s)
	}
	return InfoLevel
}

// Init replaces the global logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(levels[ParseLevel(string(cfg.Level))])

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithInstance adds the subarray and instance_id fields of one pipeline
// instance to parent. The result is a pointer so events can be chained
// directly off the call.
func WithInstance(parent zerolog.Logger, subarray, instanceID string) *zerolog.Logger {
	l := parent.With().
		Str("subarray", subarray).
		Str("instance_id", instanceID).
		Logger()
	return &l
}
