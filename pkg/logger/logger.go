package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// contextKey is the type for context keys
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// LoggerKey is the context key for logger
	LoggerKey contextKey = "logger"
)

var (
	globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	globalWriter *SmartWriter
)

// Config holds logger configuration
type Config struct {
	Level         string // debug, info, warn, error
	Format        string // json, console
	Output        io.Writer
	FlushInterval time.Duration
	// Fields are attached to every line, e.g. service name
	Fields map[string]interface{}
}

// InitWithFile initializes logger with rotating file output, optionally
// mirrored to stdout.
func InitWithFile(filename string, level string, format string, enableConsole bool) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir %s: %w", dir, err)
	}

	logFile := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}

	var output io.Writer = logFile
	if enableConsole {
		output = io.MultiWriter(os.Stdout, logFile)
	}

	Init(Config{
		Level:  level,
		Format: format,
		Output: output,
	})
	return nil
}

// Init initializes the global logger. Output goes through a SmartWriter so
// request paths never block on disk; error lines are flushed immediately.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	if globalWriter != nil {
		_ = globalWriter.Close()
	}
	sw := NewSmartWriter(output, interval)
	globalWriter = sw

	zerolog.CallerMarshalFunc = shortCaller

	var w io.Writer = sw
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{
			Out:        sw,
			TimeFormat: "2006-01-02 15:04:05.000",
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%-6s", i))
			},
		}
	}

	lc := zerolog.New(w).With().Timestamp().Caller()
	for k, v := range cfg.Fields {
		lc = lc.Interface(k, v)
	}
	globalLogger = lc.Logger()
}

// shortCaller keeps the last two path elements, e.g. usecase/fight_uc.go:42
func shortCaller(_ uintptr, file string, line int) string {
	short := file
	count := 0
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			count++
			if count == 2 {
				short = file[i+1:]
				break
			}
		}
	}
	return fmt.Sprintf("%s:%d", short, line)
}

// Flush forces all buffered logs to be written to the underlying writer
func Flush() {
	if globalWriter != nil {
		_ = globalWriter.Sync()
	}
}

// Close flushes and stops the background flusher
func Close() {
	if globalWriter != nil {
		_ = globalWriter.Close()
		globalWriter = nil
	}
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithRequestID creates a new context with request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	logger := FromContext(ctx).With().Str("request_id", requestID).Logger()

	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	ctx = context.WithValue(ctx, LoggerKey, &logger)
	return ctx
}

// FromContext extracts logger from context
// If no logger in context, returns global logger
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &globalLogger
	}

	if logger, ok := ctx.Value(LoggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		logger := globalLogger.With().Str("request_id", requestID).Logger()
		return &logger
	}

	return &globalLogger
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// Debug logs a debug message
func Debug(ctx context.Context) *zerolog.Event {
	return FromContext(ctx).Debug()
}

// Info logs an info message
func Info(ctx context.Context) *zerolog.Event {
	return FromContext(ctx).Info()
}

// Warn logs a warning message
func Warn(ctx context.Context) *zerolog.Event {
	return FromContext(ctx).Warn()
}

// Error logs an error message
func Error(ctx context.Context) *zerolog.Event {
	return FromContext(ctx).Error()
}

// Fatal logs a fatal message and exits
func Fatal(ctx context.Context) *zerolog.Event {
	Flush()
	return FromContext(ctx).Fatal()
}

// WithFields adds fields to the context logger
func WithFields(ctx context.Context, fields map[string]interface{}) context.Context {
	lc := FromContext(ctx).With()
	for k, v := range fields {
		lc = lc.Interface(k, v)
	}

	newLogger := lc.Logger()
	return context.WithValue(ctx, LoggerKey, &newLogger)
}

// WithUser tags every following line with the acting account
func WithUser(ctx context.Context, username, role string) context.Context {
	newLogger := FromContext(ctx).With().
		Str("username", username).
		Str("role", role).
		Logger()
	return context.WithValue(ctx, LoggerKey, &newLogger)
}

// InfoGlobal logs an info message without context
func InfoGlobal() *zerolog.Event {
	return globalLogger.Info()
}

// ErrorGlobal logs an error message without context
func ErrorGlobal() *zerolog.Event {
	return globalLogger.Error()
}
