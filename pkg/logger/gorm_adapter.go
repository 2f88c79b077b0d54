package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger adapts the context logger to gorm's logger interface
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
	// IgnoreRecordNotFound keeps lookups of absent rows out of the error log
	IgnoreRecordNotFound bool
}

// NewGormLogger creates a GormLogger from a textual level
// (silent, error, warn, info)
func NewGormLogger(level string) *GormLogger {
	return &GormLogger{
		SlowThreshold:        200 * time.Millisecond,
		LogLevel:             ParseGormLevel(level),
		IgnoreRecordNotFound: true,
	}
}

// ParseGormLevel maps a level name onto gorm's levels, defaulting to warn
func ParseGormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// LogMode sets the log level
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info logs info messages
func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		Info(ctx).Msgf(msg, data...)
	}
}

// Warn logs warn messages
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		Warn(ctx).Msgf(msg, data...)
	}
}

// Error logs error messages
func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		Error(ctx).Msgf(msg, data...)
	}
}

// Trace logs sql queries
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	var event *zerolog.Event

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error &&
		!(l.IgnoreRecordNotFound && errors.Is(err, gorm.ErrRecordNotFound)):
		event = Error(ctx).Err(err)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		event = Warn(ctx).Bool("slow_query", true)
	case l.LogLevel >= gormlogger.Info:
		event = Info(ctx)
	}
	if event == nil {
		return
	}

	sql, rows := fc()
	event.
		Str("sql", sql).
		Float64("elapsed_ms", float64(elapsed.Nanoseconds())/1e6).
		Int64("rows", rows).
		Msg("gorm query")
}
