package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormAdapter bridges gorm's logger.Interface onto the JSON logger
type GormAdapter struct {
	logger        *Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormAdapter creates an adapter at the given config level string.
// Debug surfaces every query, info and warn surface slow queries and
// errors, error surfaces errors only.
func NewGormAdapter(l *Logger, level string) *GormAdapter {
	var gl gormlogger.LogLevel
	switch level {
	case "debug":
		gl = gormlogger.Info
	case "error":
		gl = gormlogger.Error
	default:
		gl = gormlogger.Warn
	}
	return &GormAdapter{
		logger:        l,
		level:         gl,
		slowThreshold: 200 * time.Millisecond,
	}
}

// LogMode returns a copy at the requested level
func (g *GormAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *GormAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Info {
		g.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *GormAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *GormAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= gormlogger.Error {
		g.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...), nil)
	}
}

// Trace reports a finished query. Record-not-found is an answer, not a
// query failure, and is never logged as an error.
func (g *GormAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := map[string]interface{}{
		"sql":        sql,
		"rows":       rows,
		"elapsed_ms": float64(elapsed.Microseconds()) / 1e3,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		g.logger.WithFields(fields).ErrorContext(ctx, "query failed", err)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		fields["threshold_ms"] = float64(g.slowThreshold.Microseconds()) / 1e3
		g.logger.WithFields(fields).WarnContext(ctx, "slow query")
	case g.level >= gormlogger.Info:
		g.logger.WithFields(fields).DebugContext(ctx, "query")
	}
}
