package util

import (
	"io"
	"log/slog"
	"os"
)

var (
	logger *slog.Logger
	level  = new(slog.LevelVar)
)

// InitLogger initializes the global slog logger on stdout
func InitLogger(verbose bool) {
	InitLoggerWithWriter(os.Stdout, verbose)
}

// InitLoggerWithWriter initializes the global slog logger on the given writer
func InitLoggerWithWriter(w io.Writer, verbose bool) {
	level.Set(slog.LevelInfo)
	if verbose {
		level.Set(slog.LevelDebug)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// GetLogger returns the configured logger instance
func GetLogger() *slog.Logger {
	if logger == nil {
		// Fallback initialization with INFO level
		InitLogger(false)
	}
	return logger
}

// ComponentLogger tags parent (or the global logger when nil) with a component name
func ComponentLogger(parent *slog.Logger, component string) *slog.Logger {
	if parent == nil {
		parent = GetLogger()
	}
	return parent.With("component", component)
}

// IsVerbose checks if verbose mode is enabled by looking at command line arguments
func IsVerbose() bool {
	for _, arg := range os.Args {
		if arg == "--verbose" || arg == "-V" {
			return true
		}
	}
	return level.Level() <= slog.LevelDebug
}
