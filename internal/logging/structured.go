package logging

import "github.com/sirupsen/logrus"

// StructuredLog is a builder for one-off log entries that don't warrant a
// full ContextLogger.
type StructuredLog struct {
	logger *logrus.Logger
	fields logrus.Fields
	level  logrus.Level
}

func NewStructuredLog(logger *logrus.Logger) *StructuredLog {
	if logger == nil {
		logger = Logger
	}
	return &StructuredLog{logger: logger, fields: make(logrus.Fields), level: logrus.InfoLevel}
}

func (sl *StructuredLog) WithField(key string, value interface{}) *StructuredLog {
	sl.fields[key] = value
	return sl
}

func (sl *StructuredLog) Level(level Level) *StructuredLog {
	sl.level = level.toLogrus()
	return sl
}

func (sl *StructuredLog) Log(msg string) {
	sl.logger.WithFields(sl.fields).Log(sl.level, msg)
}
