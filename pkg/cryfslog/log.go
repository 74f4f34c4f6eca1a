package cryfslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance used by every layer that has
// not been given a more specific component logger.
var Logger zerolog.Logger

// Level represents a logging severity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Call once, before any layer is
// constructed.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// Safe default so packages used as a library without calling Init
	// (e.g. in tests) still get output instead of a zero-value logger
	// that silently drops everything.
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// WithComponent creates a child logger tagged with the layer name,
// e.g. "physicalstore", "blockcache", "treestore".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithBlockID creates a child logger tagged with a block id, for use
// within a single block operation's call stack.
func WithBlockID(logger zerolog.Logger, blockID string) zerolog.Logger {
	return logger.With().Str("block_id", blockID).Logger()
}

// WithClientID creates a child logger tagged with a client id.
func WithClientID(logger zerolog.Logger, clientID uint32) zerolog.Logger {
	return logger.With().Uint32("client_id", clientID).Logger()
}
