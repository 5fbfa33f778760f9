package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	output  io.Writer = os.Stdout
	baseLog           = newBase(os.Stdout, "json")
)

// Logger provides structured logging for the worker
type Logger struct {
	prefix string
	logger zerolog.Logger
}

// Configure sets the process-wide level and output format ("json" or "console").
// Loggers created before the call keep their previous writer.
func Configure(level, format string) {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(parseLevel(level))
	baseLog = newBase(output, format)
}

// SetOutput redirects subsequently created loggers to w.
func SetOutput(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	baseLog = newBase(w, format)
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	mu.RLock()
	defer mu.RUnlock()

	return &Logger{
		prefix: prefix,
		logger: baseLog.With().Str("component", prefix).Logger(),
	}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Debug(), msg, keysAndValues...)
}

func (l *Logger) logWithKV(evt *zerolog.Event, msg string, keysAndValues ...interface{}) {
	if evt == nil {
		return
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		switch v := keysAndValues[i+1].(type) {
		case error:
			evt = evt.AnErr(key, v)
		case time.Duration:
			evt = evt.Dur(key, v)
		default:
			evt = evt.Interface(key, v)
		}
	}
	evt.Msg(msg)
}

func newBase(w io.Writer, format string) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
