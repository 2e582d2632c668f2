package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger interface defines the logging contract
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
}

// Fields represents a map of key-value pairs for structured logging
type Fields map[string]interface{}

// Config holds configuration options for the logger
type Config struct {
	Level            Level  `json:"level"`
	Format           Format `json:"format"`
	Output           Output `json:"output"`
	File             string `json:"file,omitempty"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty"`
	CallerInfo       bool   `json:"caller_info,omitempty"`

	// Writer overrides Output when set.
	Writer io.Writer `json:"-"`
}

// Level represents log levels
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	FatalLevel Level = "fatal"
)

// Format represents log output formats
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Output represents log output destinations
type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// logrusLogger carries a logrus entry so derived loggers keep their fields.
type logrusLogger struct {
	entry  *logrus.Entry
	config *Config
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	logger := logrus.New()

	level, _ := ParseLevel(string(config.Level))
	logrusLevel, err := logrus.ParseLevel(string(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(logrusLevel)

	writer, err := openOutput(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}
	logger.SetOutput(writer)
	logger.SetFormatter(newFormatter(config))
	logger.SetReportCaller(config.CallerInfo)

	return &logrusLogger{
		entry:  logrus.NewEntry(logger),
		config: config,
	}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &logrusLogger{entry: logrus.NewEntry(logger), config: DefaultConfig()}
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

// ParseLevel accepts a level name in any case; "warning" is read as warn.
func ParseLevel(s string) (Level, error) {
	switch level := Level(strings.ToLower(strings.TrimSpace(s))); level {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel:
		return level, nil
	case "warning":
		return WarnLevel, nil
	default:
		return "", fmt.Errorf("invalid log level: %s", s)
	}
}

// Validate validates the logger configuration
func (c *Config) Validate() error {
	if _, err := ParseLevel(string(c.Level)); err != nil {
		return err
	}

	switch c.Format {
	case JSONFormat, TextFormat:
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}

	if c.Writer != nil {
		return nil
	}

	switch c.Output {
	case StdoutOutput, StderrOutput:
	case FileOutput:
		if strings.TrimSpace(c.File) == "" {
			return fmt.Errorf("log file path is required for file output")
		}
	default:
		return fmt.Errorf("invalid log output: %s", c.Output)
	}
	return nil
}

func openOutput(config *Config) (io.Writer, error) {
	if config.Writer != nil {
		return config.Writer, nil
	}

	switch config.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case FileOutput:
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	default:
		return os.Stderr, nil
	}
}

// callerLocation reports file:line without the package path
func callerLocation(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func newFormatter(config *Config) logrus.Formatter {
	if config.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: config.DisableTimestamp,
			TimestampFormat:  time.RFC3339Nano,
			CallerPrettyfier: callerLocation,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "message",
			},
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: config.DisableTimestamp,
		FullTimestamp:    !config.DisableTimestamp,
		TimestampFormat:  time.RFC3339,
		CallerPrettyfier: callerLocation,
	}
}

func (l *logrusLogger) Debug(args ...interface{}) {
	l.entry.Debug(args...)
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *logrusLogger) Info(args ...interface{}) {
	l.entry.Info(args...)
}

func (l *logrusLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *logrusLogger) Warn(args ...interface{}) {
	l.entry.Warn(args...)
}

func (l *logrusLogger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *logrusLogger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

func (l *logrusLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *logrusLogger) Fatal(args ...interface{}) {
	l.entry.Fatal(args...)
}

func (l *logrusLogger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value), config: l.config}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields)), config: l.config}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err), config: l.config}
}

func (l *logrusLogger) WithComponent(component string) Logger {
	return l.WithField("component", component)
}

var globalLogger Logger

func init() {
	var err error
	globalLogger, err = NewLogger(DefaultConfig())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logger")
	}
}

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(logger Logger) {
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger
func GetGlobalLogger() Logger {
	return globalLogger
}
