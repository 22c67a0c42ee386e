package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log entry
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	}
	return 1
}

// parseLevel maps a config string to a Level, defaulting to info
func parseLevel(level string) Level {
	switch level {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// ContextWithRequestID attaches a request ID that *Context log calls emit
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Entry is one JSON log line
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Stack     []string               `json:"stack,omitempty"`
}

// Logger writes structured JSON log lines
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	withStack bool
}

// Config holds logger construction options
type Config struct {
	Output    io.Writer
	MinLevel  Level
	WithStack bool
}

// New creates a logger
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.MinLevel == "" {
		cfg.MinLevel = LevelInfo
	}
	return &Logger{
		output:    cfg.Output,
		minLevel:  cfg.MinLevel,
		withStack: cfg.WithStack,
	}
}

// Default creates an info-level logger writing to stdout
func Default() *Logger {
	return New(Config{})
}

// NewWithLevel creates a logger from a config level string. Debug level
// also turns on stack capture for errors.
func NewWithLevel(level string) *Logger {
	parsed := parseLevel(level)
	return New(Config{
		MinLevel:  parsed,
		WithStack: parsed == LevelDebug,
	})
}

var singletons struct {
	sync.Mutex
	app *Logger
	db  *Logger
}

// AppLogger returns the shared application logger
func AppLogger() *Logger {
	singletons.Lock()
	defer singletons.Unlock()
	if singletons.app == nil {
		singletons.app = Default()
	}
	return singletons.app
}

// DatabaseLogger returns the shared database logger
func DatabaseLogger() *Logger {
	singletons.Lock()
	defer singletons.Unlock()
	if singletons.db == nil {
		singletons.db = Default()
	}
	return singletons.db
}

// InitializeLoggers configures both shared loggers from config level strings
func InitializeLoggers(appLevel, dbLevel string) {
	singletons.Lock()
	defer singletons.Unlock()
	singletons.app = NewWithLevel(appLevel)
	singletons.db = NewWithLevel(dbLevel)
}

// SetAppLogger replaces the shared application logger
func SetAppLogger(l *Logger) {
	singletons.Lock()
	defer singletons.Unlock()
	singletons.app = l
}

// SetDatabaseLogger replaces the shared database logger
func SetDatabaseLogger(l *Logger) {
	singletons.Lock()
	defer singletons.Unlock()
	singletons.db = l
}

func (l *Logger) Debug(msg string) { l.emit(LevelDebug, msg, nil, nil) }
func (l *Logger) Info(msg string)  { l.emit(LevelInfo, msg, nil, nil) }
func (l *Logger) Warn(msg string)  { l.emit(LevelWarn, msg, nil, nil) }

// Error logs a message with its cause
func (l *Logger) Error(msg string, err error) { l.emit(LevelError, msg, nil, err) }

func (l *Logger) DebugContext(ctx context.Context, msg string) {
	l.emitContext(ctx, LevelDebug, msg, nil, nil)
}

func (l *Logger) InfoContext(ctx context.Context, msg string) {
	l.emitContext(ctx, LevelInfo, msg, nil, nil)
}

func (l *Logger) WarnContext(ctx context.Context, msg string) {
	l.emitContext(ctx, LevelWarn, msg, nil, nil)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, err error) {
	l.emitContext(ctx, LevelError, msg, nil, err)
}

// WithFields returns a logger that attaches the fields to every entry
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {
	return &FieldLogger{logger: l, fields: fields}
}

func (l *Logger) emit(level Level, msg string, fields map[string]interface{}, err error) {
	if level.rank() < l.minLevel.rank() {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Context:   fields,
	}
	if err != nil {
		entry.Error = err.Error()
		if l.withStack && level == LevelError {
			entry.Stack = stackTrace()
		}
	}

	line, _ := json.Marshal(entry)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.output, string(line))
}

func (l *Logger) emitContext(ctx context.Context, level Level, msg string, fields map[string]interface{}, err error) {
	if level.rank() < l.minLevel.rank() {
		return
	}

	merged := make(map[string]interface{}, len(fields)+1)
	if requestID := ctx.Value(requestIDKey); requestID != nil {
		merged["request_id"] = requestID
	}
	for k, v := range fields {
		merged[k] = v
	}
	if len(merged) == 0 {
		merged = nil
	}

	l.emit(level, msg, merged, err)
}

func stackTrace() []string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			return stack
		}
	}
}

// FieldLogger carries a fixed field set
type FieldLogger struct {
	logger *Logger
	fields map[string]interface{}
}

func (fl *FieldLogger) Debug(msg string) { fl.logger.emit(LevelDebug, msg, fl.fields, nil) }
func (fl *FieldLogger) Info(msg string)  { fl.logger.emit(LevelInfo, msg, fl.fields, nil) }
func (fl *FieldLogger) Warn(msg string)  { fl.logger.emit(LevelWarn, msg, fl.fields, nil) }

func (fl *FieldLogger) Error(msg string, err error) {
	fl.logger.emit(LevelError, msg, fl.fields, err)
}

func (fl *FieldLogger) DebugContext(ctx context.Context, msg string) {
	fl.logger.emitContext(ctx, LevelDebug, msg, fl.fields, nil)
}

func (fl *FieldLogger) InfoContext(ctx context.Context, msg string) {
	fl.logger.emitContext(ctx, LevelInfo, msg, fl.fields, nil)
}

func (fl *FieldLogger) WarnContext(ctx context.Context, msg string) {
	fl.logger.emitContext(ctx, LevelWarn, msg, fl.fields, nil)
}

func (fl *FieldLogger) ErrorContext(ctx context.Context, msg string, err error) {
	fl.logger.emitContext(ctx, LevelError, msg, fl.fields, err)
}
