package logx

import (
	"fmt"
	"io"
)

// defaultLogger is the process-wide logger instance.
var defaultLogger = NewLoggerFromEnv()

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the process-wide logger.
func GetDefaultLogger() *Logger {
	return defaultLogger
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput sets the output of the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

func Trace(msg string) { defaultLogger.log(LevelTrace, msg, nil, nil) }
func Debug(msg string) { defaultLogger.log(LevelDebug, msg, nil, nil) }
func Info(msg string)  { defaultLogger.log(LevelInfo, msg, nil, nil) }
func Warn(msg string)  { defaultLogger.log(LevelWarn, msg, nil, nil) }
func Error(msg string) { defaultLogger.log(LevelError, msg, nil, nil) }

// Fatal logs at fatal level and exits the process.
func Fatal(msg string) {
	defaultLogger.log(LevelFatal, msg, nil, nil)
	defaultLogger.exit(1)
}

func Tracef(format string, args ...interface{}) { Trace(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...interface{}) { Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...interface{})  { Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...interface{})  { Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...interface{}) { Error(fmt.Sprintf(format, args...)) }
func Fatalf(format string, args ...interface{}) { Fatal(fmt.Sprintf(format, args...)) }

// WithField creates an entry on the default logger with one field.
func WithField(key string, value interface{}) *Entry {
	return defaultLogger.WithField(key, value)
}

// WithFields creates an entry on the default logger with the given fields.
func WithFields(fields Fields) *Entry {
	return defaultLogger.WithFields(fields)
}

// WithError creates an entry on the default logger carrying err.
func WithError(err error) *Entry {
	return defaultLogger.WithError(err)
}
