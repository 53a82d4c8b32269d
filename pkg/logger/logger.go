package logger

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	base *logrus.Logger
}

func New() *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	base.SetLevel(logrus.InfoLevel)
	return &Logger{base: base}
}

// Configure sets the level and output format. Unknown levels fall back to info.
func (l *Logger) Configure(level, format string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		l.base.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", level)
		parsed = logrus.InfoLevel
	}
	l.base.SetLevel(parsed)

	if format == "json" {
		l.base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.base.Infof(format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.base.Warnf(format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.base.Errorf(format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.base.Debugf(format, v...)
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.base.Fatalf(format, v...)
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.base.WithFields(logrus.Fields(fields))
}

// Global logger instance
var GlobalLogger = New()

// Convenience functions
func Configure(level, format string) {
	GlobalLogger.Configure(level, format)
}

func Info(format string, v ...interface{}) {
	GlobalLogger.Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	GlobalLogger.Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	GlobalLogger.Error(format, v...)
}

func Debug(format string, v ...interface{}) {
	GlobalLogger.Debug(format, v...)
}

func Fatal(format string, v ...interface{}) {
	GlobalLogger.Fatal(format, v...)
}

func WithFields(fields map[string]interface{}) *logrus.Entry {
	return GlobalLogger.WithFields(fields)
}
