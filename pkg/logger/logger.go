// Package logger provides the shared logging facility for the binder core.
// It wraps logrus so components depend on a single narrow type rather than
// the logging backend directly.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "json" or "text". Defaults to text.
	Format string
	// Output is "stdout", "stderr" or a file path. Defaults to stdout.
	Output string
}

// Logger is the process-wide structured logger.
type Logger struct {
	*logrus.Entry
}

// New creates a logger from config.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()
	base.SetLevel(parseLevel(cfg.Level))
	base.SetOutput(parseOutput(cfg.Output))

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault creates a text logger at info level tagged with a component name.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{})
	return l.Named(component)
}

// Named returns a logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", component)}
}

// WithField returns a logger with an additional structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a logger with the error attached as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func parseOutput(output string) io.Writer {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}
