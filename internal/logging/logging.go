// Package logging configures the process-wide zerolog logger: a console
// writer on stderr and, when a path is given, JSON lines in a log file.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	logFile *os.File
	logger  = newLogger(zerolog.InfoLevel, consoleWriter(os.Stderr))
)

type settings struct {
	level   zerolog.Level
	console io.Writer
}

// Option adjusts Init.
type Option func(*settings)

// WithLevel sets the minimum level by name (debug, info, warn, error).
// Unknown names fall back to info.
func WithLevel(level string) Option {
	return func(s *settings) { s.level = ParseLevel(level) }
}

// WithConsole replaces the stderr console writer. A nil writer disables
// console output, which the progress UI uses to keep the terminal clean.
func WithConsole(w io.Writer) Option {
	return func(s *settings) { s.console = w }
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init routes log output to the console and to logPath when it is non-empty.
func Init(logPath string, opts ...Option) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	s := settings{level: zerolog.InfoLevel, console: os.Stderr}
	for _, opt := range opts {
		opt(&s)
	}

	var writers []io.Writer
	if s.console != nil {
		writers = append(writers, consoleWriter(s.console))
	}

	if logPath != "" {
		if dir := filepath.Dir(logPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		logFile = file
		writers = append(writers, logFile)
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	logger = newLogger(s.level, out)
	return nil
}

// Close releases the log file and falls back to console output.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	logger = newLogger(logger.GetLevel(), consoleWriter(os.Stderr))
	err := logFile.Close()
	logFile = nil
	return err
}

// Logger returns the current logger for structured events.
func Logger() *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	l := logger
	return &l
}

// LogEvent logs an informational message.
func LogEvent(format string, args ...any) {
	Logger().Info().Msgf(format, args...)
}

// Debugf logs a debug message.
func Debugf(format string, args ...any) {
	Logger().Debug().Msgf(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...any) {
	Logger().Warn().Msgf(format, args...)
}

// LogRequest logs a payload exchanged with a model server at debug level.
func LogRequest(direction, host, model string, payload any) {
	Logger().Debug().
		Str("host", strings.TrimSpace(host)).
		Str("model", strings.TrimSpace(model)).
		Msg(buildRequestMessage(direction, host, model, payload))
}

func newLogger(level zerolog.Level, w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

func buildRequestMessage(direction, host, model string, payload any) string {
	dir := strings.TrimSpace(direction)
	if dir != "" {
		dir = strings.ToUpper(dir)
	}
	hostValue := strings.TrimSpace(host)
	if hostValue == "" {
		hostValue = "unknown"
	}
	modelValue := strings.TrimSpace(model)
	if modelValue == "" {
		modelValue = "unknown"
	}
	parts := []string{fmt.Sprintf("[%s]", dir)}
	parts = append(parts, fmt.Sprintf("host=%s", hostValue))
	parts = append(parts, fmt.Sprintf("model=%s", modelValue))
	parts = append(parts, fmt.Sprintf("payload=%s", formatPayload(payload)))
	return strings.Join(parts, " ")
}

func formatPayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "null"
	case string:
		if strings.TrimSpace(v) == "" {
			return `""`
		}
		return v
	case []byte:
		if len(v) == 0 {
			return "[]"
		}
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
