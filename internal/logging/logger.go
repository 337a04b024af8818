// Package logging provides simple leveled logging for the rxm endpoint core.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/go-rxm/rxm/internal/iface"
)

// Logger wraps stdlib log with level support and a bound set of key-value
// fields (see With) carried onto every message logged through it.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	fields []any

	mu sync.Mutex
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration.
type Config struct {
	Level  LogLevel
	Output io.Writer
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags|log.Lmicroseconds),
		level:  config.Level,
	}
}

// With returns a derived logger that appends keyvals (alternating key,
// value) to every message logged through it, after the message and any
// per-call key-value args, on top of any fields already bound on l. Use it to pin per-operation context such as msg_id or
// conn_id onto a run of related log calls instead of repeating it at
// every call site.
func (l *Logger) With(keyvals ...any) iface.Logger {
	if len(keyvals) == 0 {
		return l
	}
	bound := make([]any, 0, len(l.fields)+len(keyvals))
	bound = append(bound, l.fields...)
	bound = append(bound, keyvals...)
	return &Logger{logger: l.logger, level: l.level, fields: bound}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// formatArgs converts key-value pairs to a string.
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("%s %s%s", prefix, msg, formatArgs(args))
}

// withFields appends any fields bound via With after args, so bound
// context always sorts last regardless of call style.
func (l *Logger) withFields(args []any) []any {
	if len(l.fields) == 0 {
		return args
	}
	combined := make([]any, 0, len(args)+len(l.fields))
	combined = append(combined, args...)
	combined = append(combined, l.fields...)
	return combined
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, l.withFields(args)...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, l.withFields(args)...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, l.withFields(args)...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, l.withFields(args)...) }

// Debugf is printf-style logging at debug level; fields bound via With
// are appended after the formatted message.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...), l.fields...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...), l.fields...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...), l.fields...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...), l.fields...)
}

// Printf exists for compatibility with consumers expecting a printf-only logger.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

var _ iface.Logger = (*Logger)(nil)
