package logx

import "fmt"

// Entry is a log statement under construction: accumulated fields plus an
// optional error, flushed by one of the level methods.
type Entry struct {
	logger *Logger
	fields Fields
	err    error
}

func newEntry(l *Logger) *Entry {
	return &Entry{logger: l, fields: make(Fields)}
}

// WithField adds a single field to the entry.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	e.fields[key] = value
	return e
}

// WithFields adds multiple fields to the entry.
func (e *Entry) WithFields(fields Fields) *Entry {
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// WithError attaches an error to the entry.
func (e *Entry) WithError(err error) *Entry {
	e.err = err
	return e
}

func (e *Entry) Trace(msg string) { e.logger.log(LevelTrace, msg, e.fields, e.err) }
func (e *Entry) Debug(msg string) { e.logger.log(LevelDebug, msg, e.fields, e.err) }
func (e *Entry) Info(msg string)  { e.logger.log(LevelInfo, msg, e.fields, e.err) }
func (e *Entry) Warn(msg string)  { e.logger.log(LevelWarn, msg, e.fields, e.err) }
func (e *Entry) Error(msg string) { e.logger.log(LevelError, msg, e.fields, e.err) }

func (e *Entry) Fatal(msg string) {
	e.logger.log(LevelFatal, msg, e.fields, e.err)
	e.logger.exit(1)
}

func (e *Entry) Tracef(format string, args ...interface{}) { e.Trace(fmt.Sprintf(format, args...)) }
func (e *Entry) Debugf(format string, args ...interface{}) { e.Debug(fmt.Sprintf(format, args...)) }
func (e *Entry) Infof(format string, args ...interface{})  { e.Info(fmt.Sprintf(format, args...)) }
func (e *Entry) Warnf(format string, args ...interface{})  { e.Warn(fmt.Sprintf(format, args...)) }
func (e *Entry) Errorf(format string, args ...interface{}) { e.Error(fmt.Sprintf(format, args...)) }
func (e *Entry) Fatalf(format string, args ...interface{}) { e.Fatal(fmt.Sprintf(format, args...)) }
