// Package logging provides structured logging for DataDesk built on zerolog.
// All components log through a shared root logger configured once at start-up;
// request-scoped loggers carry the request ID so every line of a pipeline run
// can be correlated.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Config controls logger behavior.
type Config struct {
	// Level is the minimum level to emit ("debug", "info", "warn", "error").
	Level string
	// File is an optional path for persistent logs. Console output is kept.
	File string
	// Pretty enables the human-readable console writer instead of JSON.
	Pretty bool
}

var (
	setupOnce sync.Once
	logFile   *os.File
)

// Setup configures the global zerolog logger. Safe to call more than once;
// only the first call takes effect.
func Setup(cfg Config) error {
	var setupErr error

	setupOnce.Do(func() {
		zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

		writers := []io.Writer{}
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		} else {
			writers = append(writers, os.Stderr)
		}

		if cfg.File != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
				setupErr = fmt.Errorf("create log directory: %w", err)
				return
			}
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				setupErr = fmt.Errorf("open log file: %w", err)
				return
			}
			logFile = f
			writers = append(writers, f)
		}

		root := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
		zlog.Logger = root
		zerolog.DefaultContextLogger = &root
	})

	return setupErr
}

// Close releases the log file handle, if one was opened.
func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return zlog.With().Str("component", name).Logger()
}

// ForRequest returns a logger tagged with a component and request ID.
func ForRequest(component, requestID string) zerolog.Logger {
	return zlog.With().Str("component", component).Str("request_id", requestID).Logger()
}
