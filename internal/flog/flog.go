// Package flog is a small asynchronous logger: callers format a line and
// hand it to a bounded channel, a single goroutine drains it to stdout.
// Under sustained overload lines are dropped rather than blocking a
// control- or data-channel worker on log I/O.
package flog

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type Level int

const None Level = -1
const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

var (
	minLevel = Info
	logCh    = make(chan string, 1024)
	dropped  atomic.Uint64
)

// Dropped returns the number of log messages dropped due to channel full.
func Dropped() uint64 { return dropped.Load() }

var levelStrings = [...]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
	Fatal: "FATAL",
}

// Fields attaches structured key=value context to a log line, e.g. the
// service name and session-key prefix a control-channel worker is acting
// on.
type Fields map[string]any

func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

func SetLevel(l int) {
	minLevel = Level(l)
	if l != -1 {
		go func() {
			for msg := range logCh {
				fmt.Fprint(os.Stdout, msg)
			}
		}()
	}
}

func logf(level Level, fields Fields, format string, args ...any) {
	if level < minLevel || minLevel == None {
		return
	}

	// Check channel capacity before formatting to avoid wasted allocations.
	if len(logCh) == cap(logCh) {
		dropped.Add(1)
		return
	}

	levelStr := "UNKNOWN"
	if int(level) < len(levelStrings) {
		levelStr = levelStrings[level]
	}

	now := time.Now().Format("2006-01-02 15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s%s\n", now, levelStr, fmt.Sprintf(format, args...), fields.String())

	select {
	case logCh <- line:
	default:
		dropped.Add(1)
	}
}

func (l Level) String() string {
	if int(l) >= 0 && int(l) < len(levelStrings) {
		return levelStrings[l]
	}
	if l == None {
		return "None"
	}
	return "UNKNOWN"
}

func Debugf(format string, args ...any) { logf(Debug, nil, format, args...) }
func Infof(format string, args ...any)  { logf(Info, nil, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, nil, format, args...) }
func Errorf(format string, args ...any) { logf(Error, nil, format, args...) }
func Fatalf(format string, args ...any) {
	logf(Fatal, nil, format, args...)
	time.Sleep(10 * time.Millisecond) // let the drain goroutine flush
	os.Exit(1)
}

// With returns a logger bound to fields, so a worker can attach its
// service name or session key once rather than repeating it on every call.
func With(fields Fields) *Logger { return &Logger{fields: fields} }

// Logger is a Fields-bound view over the package-level log functions.
type Logger struct{ fields Fields }

func (l *Logger) Debugf(format string, args ...any) { logf(Debug, l.fields, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { logf(Info, l.fields, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { logf(Warn, l.fields, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { logf(Error, l.fields, format, args...) }

func Close() { close(logCh) }
