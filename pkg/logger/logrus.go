package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus logger to the Logger interface. Chain scoped
// messages carry the chain id as a structured field.
type LogrusLogger struct {
	entry *logrus.Entry
}

var _ Logger = (*LogrusLogger)(nil)

// NewLogrusLogger builds a logrus backed logger. With json set, entries are
// emitted as JSON lines, otherwise as plain text with full timestamps.
func NewLogrusLogger(out io.Writer, level Level, json bool) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(toLogrusLevel(level))
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// notice has no logrus equivalent, it is logged at info with a marker field
func toLogrusLevel(level Level) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithField returns a logger that adds key to every entry
func (l *LogrusLogger) WithField(key string, value interface{}) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *LogrusLogger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *LogrusLogger) InfoWithChain(chainID uint64, format string, args ...interface{}) {
	l.entry.WithField("chain", chainID).Infof(format, args...)
}

func (l *LogrusLogger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *LogrusLogger) ErrorWithChain(chainID uint64, format string, args ...interface{}) {
	l.entry.WithField("chain", chainID).Errorf(format, args...)
}

func (l *LogrusLogger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *LogrusLogger) DebugWithChain(chainID uint64, format string, args ...interface{}) {
	l.entry.WithField("chain", chainID).Debugf(format, args...)
}

func (l *LogrusLogger) Notice(format string, args ...interface{}) {
	l.entry.WithField("notice", true).Infof(format, args...)
}

func (l *LogrusLogger) NoticeWithChain(chainID uint64, format string, args ...interface{}) {
	l.entry.WithFields(logrus.Fields{"chain": chainID, "notice": true}).Infof(format, args...)
}

func (l *LogrusLogger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}
