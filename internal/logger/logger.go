// Package logger provides leveled printf-style logging for the analysis service.
// A single process-wide logger is configured once at startup via Init; until then
// every call is a no-op except Fatal, which always reaches stderr.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel covers per-group progress and query details.
	DebugLevel Level = iota
	// InfoLevel is the default: run start/finish and totals.
	InfoLevel
	// WarnLevel marks degraded behaviour the run recovered from.
	WarnLevel
	// ErrorLevel marks failures surfaced to the caller.
	ErrorLevel
)

var levelNames = map[string]Level{
	"debug": DebugLevel,
	"info":  InfoLevel,
	"warn":  WarnLevel,
	"error": ErrorLevel,
}

var tags = [...]string{"[DEBUG] ", "[INFO] ", "[WARN] ", "[ERROR] "}

// ParseLevel maps a configuration string onto a Level.
func ParseLevel(s string) (Level, error) {
	l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

type leveled struct {
	level  Level
	logger *log.Logger
}

var (
	mu  sync.RWMutex
	std *leveled
)

// Init configures the process-wide logger. Unknown levels fall back to info.
// The "text" format adds the caller's file:line to each line.
func Init(level string, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination, used by tests.
func InitWriter(w io.Writer, level string, format string) {
	l, err := ParseLevel(level)
	if err != nil {
		l = InfoLevel
	}

	flags := log.LstdFlags | log.Lmicroseconds
	if strings.EqualFold(format, "text") {
		flags |= log.Lshortfile
	}

	mu.Lock()
	std = &leveled{level: l, logger: log.New(w, "", flags)}
	mu.Unlock()
}

func output(l Level, format string, args ...interface{}) {
	mu.RLock()
	cur := std
	mu.RUnlock()
	if cur == nil || cur.level > l {
		return
	}
	_ = cur.logger.Output(3, tags[l]+fmt.Sprintf(format, args...))
}

// Enabled reports whether messages at l would be written.
func Enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return std != nil && std.level <= l
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) { output(DebugLevel, format, args...) }

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) { output(InfoLevel, format, args...) }

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) { output(WarnLevel, format, args...) }

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) { output(ErrorLevel, format, args...) }

// Fatal logs a message and exits with status 1.
func Fatal(format string, args ...interface{}) {
	msg := "[FATAL] " + fmt.Sprintf(format, args...)
	mu.RLock()
	cur := std
	mu.RUnlock()
	if cur != nil {
		_ = cur.logger.Output(2, msg)
	} else {
		log.Print(msg)
	}
	os.Exit(1)
}
