package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a configured level name to a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", name)
	}
}

// LogOutput represents where logs should be written
type LogOutput int

const (
	Console LogOutput = iota
	File
	Both
)

// ParseOutput maps a configured output name to a LogOutput
func ParseOutput(name string) (LogOutput, error) {
	switch strings.ToLower(name) {
	case "console":
		return Console, nil
	case "file":
		return File, nil
	case "both":
		return Both, nil
	default:
		return Console, fmt.Errorf("invalid log output: %s", name)
	}
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level      LogLevel
	Output     LogOutput
	FilePath   string
	Structured bool
	NoColor    bool

	// Writer replaces stdout for console output when set.
	Writer io.Writer
}

// Logger is a leveled logger backed by slog. Console output is tinted,
// file output and structured mode use JSON lines.
type Logger struct {
	config LoggerConfig
	slog   *slog.Logger
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewLogger creates a new Logger instance with the provided configuration
func NewLogger(config LoggerConfig) (*Logger, error) {
	l := &Logger{config: config}

	console := config.Writer
	if console == nil {
		console = os.Stdout
	}

	var handlers []slog.Handler
	if config.Output == Console || config.Output == Both {
		if config.Structured {
			handlers = append(handlers, slog.NewJSONHandler(console, l.handlerOptions()))
		} else {
			handlers = append(handlers, tint.NewHandler(console, &tint.Options{
				Level:       config.Level.slogLevel(),
				TimeFormat:  time.DateTime,
				NoColor:     config.NoColor,
				ReplaceAttr: trimSource,
			}))
		}
	}

	if config.Output == File || config.Output == Both {
		if config.FilePath == "" {
			config.FilePath = "sitemirror.log"
			l.config.FilePath = config.FilePath
		}
		if dir := filepath.Dir(config.FilePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}

		file, err := os.OpenFile(config.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, l.handlerOptions()))
	}

	switch len(handlers) {
	case 0:
		l.slog = slog.New(slog.NewTextHandler(io.Discard, nil))
	case 1:
		l.slog = slog.New(handlers[0])
	default:
		l.slog = slog.New(fanout(handlers))
	}

	return l, nil
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil)), config: LoggerConfig{Level: ERROR}}
}

func (l *Logger) handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       l.config.Level.slogLevel(),
		ReplaceAttr: trimSource,
	}
}

func trimSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		if source, ok := a.Value.Any().(*slog.Source); ok {
			source.File = filepath.Base(source.File)
		}
	}
	return a
}

// Close flushes and closes any open resources used by the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.file == nil {
		l.closed = true
		return nil
	}
	l.closed = true
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("failed to flush log file: %w", err)
	}
	return l.file.Close()
}

func (l *Logger) log(level LogLevel, message string, fields []map[string]interface{}) {
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level.slogLevel()) {
		return
	}
	l.slog.LogAttrs(ctx, level.slogLevel(), message, toAttrs(fields)...)
}

// toAttrs flattens the field maps in key order so output is stable
func toAttrs(fields []map[string]interface{}) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}

	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		v := merged[k]
		if err, ok := v.(error); ok {
			attrs = append(attrs, slog.String(k, err.Error()))
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, fields)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, fields)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Progress logs progress information for long-running operations
func (l *Logger) Progress(operation string, current, total int, fields ...map[string]interface{}) {
	percentage := 0
	if total > 0 {
		percentage = (current * 100) / total
	}

	progressFields := map[string]interface{}{
		"operation":  operation,
		"current":    current,
		"total":      total,
		"percentage": percentage,
	}
	l.log(INFO, "progress", append([]map[string]interface{}{progressFields}, fields...))
}

// fanout sends each record to every handler that accepts its level
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
