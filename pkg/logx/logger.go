package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Fields is a set of structured key/value pairs attached to an entry.
type Fields map[string]interface{}

// Logger writes leveled, optionally structured log lines.
type Logger struct {
	mu       sync.Mutex
	level    Level
	format   Format
	writer   io.Writer
	exitFunc func(int)
}

// NewLogger creates a logger with the given level and format writing to w.
func NewLogger(level Level, format Format, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		level:    level,
		format:   format,
		writer:   w,
		exitFunc: os.Exit,
	}
}

// NewLoggerFromEnv builds a logger from LOG_LEVEL and LOG_FORMAT.
func NewLoggerFromEnv() *Logger {
	format := FormatConsole
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		format = FormatJSON
	}
	return NewLogger(ParseLevel(os.Getenv("LOG_LEVEL")), format, os.Stdout)
}

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current minimum level.
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetOutput redirects log output to w.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// WithField returns an entry carrying a single structured field.
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return newEntry(l).WithField(key, value)
}

// WithFields returns an entry carrying the given structured fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	return newEntry(l).WithFields(fields)
}

// WithError returns an entry carrying err as a structured field.
func (l *Logger) WithError(err error) *Entry {
	return newEntry(l).WithError(err)
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	l.mu.Lock()
	enabled := l.level.Enabled(level)
	format := l.format
	l.mu.Unlock()

	if !enabled {
		return
	}

	now := time.Now()

	var line []byte
	if format == FormatJSON {
		line = l.formatJSON(now, level, msg, fields, err)
	} else {
		line = l.formatConsole(now, level, msg, fields, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, werr := l.writer.Write(line); werr != nil {
		fmt.Fprintf(os.Stderr, "logx: write error: %v\n", werr)
	}
}

func (l *Logger) formatJSON(ts time.Time, level Level, msg string, fields Fields, err error) []byte {
	payload := map[string]interface{}{
		"timestamp": ts.Format(time.RFC3339Nano),
		"level":     level.String(),
		"message":   msg,
	}
	for k, v := range fields {
		payload[k] = v
	}
	if err != nil {
		payload["error"] = err.Error()
	}

	data, merr := json.Marshal(payload)
	if merr != nil {
		data = []byte(fmt.Sprintf(`{"level":%q,"message":%q}`, level.String(), msg))
	}
	return append(data, '\n')
}

func (l *Logger) formatConsole(ts time.Time, level Level, msg string, fields Fields, err error) []byte {
	var b strings.Builder
	b.WriteString(ts.Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	if err != nil {
		fmt.Fprintf(&b, " error=%q", err.Error())
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func (l *Logger) exit(code int) {
	l.exitFunc(code)
}
