package logging

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is a logging threshold, matching the configuration tree's
// logging.level enum (DEBUG/INFO/WARNING/ERROR/CRITICAL).
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

func (l Level) toLogrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarning:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelCritical:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Config configures a new logger instance.
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	Structured bool
	TimeFormat string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     "text",
		TimeFormat: time.RFC3339,
	}
}

// New builds a configured *logrus.Logger writing through the package's
// stream-splitting output.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(cfg.Level.toLogrus())
	if cfg.Format == "json" || cfg.Structured {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}
	logger.SetOutput(outputSplitter{})
	return logger
}

// ContextLogger provides context-aware logging with accumulated fields.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger creates a context-aware logger seeded with fields. A
// nil logger falls back to the package-wide Logger.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = Logger
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) clone(extra logrus.Fields) *ContextLogger {
	merged := make(logrus.Fields, len(cl.fields)+len(extra))
	for k, v := range cl.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: merged}
}

// WithField returns a derived logger with one extra field.
func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.clone(logrus.Fields{key: value})
}

// WithFields returns a derived logger with several extra fields.
func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	f := make(logrus.Fields, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return cl.clone(f)
}

// WithError returns a derived logger carrying err's message.
func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

// WithContext extracts request_id/trace_id/user_id from ctx, if present.
func (cl *ContextLogger) WithContext(ctx context.Context) *ContextLogger {
	extra := logrus.Fields{}
	for _, key := range []string{"request_id", "trace_id", "user_id"} {
		if v := ctx.Value(key); v != nil {
			extra[key] = v
		}
	}
	return cl.clone(extra)
}

func (cl *ContextLogger) Debug(msg string)                          { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Debugf(format string, args ...interface{})  { cl.logger.WithFields(cl.fields).Debugf(format, args...) }
func (cl *ContextLogger) Info(msg string)                           { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Infof(format string, args ...interface{})   { cl.logger.WithFields(cl.fields).Infof(format, args...) }
func (cl *ContextLogger) Warn(msg string)                            { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Warnf(format string, args ...interface{})   { cl.logger.WithFields(cl.fields).Warnf(format, args...) }
func (cl *ContextLogger) Error(msg string)                          { cl.logger.WithFields(cl.fields).Error(msg) }
func (cl *ContextLogger) Errorf(format string, args ...interface{})  { cl.logger.WithFields(cl.fields).Errorf(format, args...) }
func (cl *ContextLogger) Fatal(msg string)                          { cl.logger.WithFields(cl.fields).Fatal(msg) }
func (cl *ContextLogger) Fatalf(format string, args ...interface{}) { cl.logger.WithFields(cl.fields).Fatalf(format, args...) }

// ServiceLogger creates a logger pre-tagged with a service name.
func ServiceLogger(serviceName string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{"service": serviceName})
}

// ComponentLogger creates a logger pre-tagged with the package-component
// name used throughout the repository layer (e.g. "sites", "queue").
func ComponentLogger(component string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{"component": component})
}

// LogOperation logs an operation's start/end with timing, returning fn's
// error unmodified.
func LogOperation(logger *ContextLogger, operation string, fn func() error) error {
	start := time.Now()
	logger.WithField("operation", operation).Debug("operation started")

	err := fn()
	duration := time.Since(start)
	entry := logger.WithFields(map[string]interface{}{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Debug("operation completed")
	return nil
}

// LogPanic recovers a panic and logs it with a stack trace. Call via
// defer.
func LogPanic(logger *ContextLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.WithFields(map[string]interface{}{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("panic recovered")
	}
}

// DatabaseFields returns standard fields for a database operation log.
func DatabaseFields(operation, collection string, rowsAffected int64, duration time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"db_operation":  operation,
		"db_collection": collection,
		"rows_affected": rowsAffected,
		"duration_ms":   duration.Milliseconds(),
	}
}
