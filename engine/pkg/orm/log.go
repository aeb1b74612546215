// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.


package orm

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/buildflow/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// job documents are stored inline, statements touching them can be huge
const defaultMaxLoggedSQLLen = 512

type loggerOption struct {
	slowThreshold                time.Duration
	ignoreTraceRecordNotFoundErr bool
	maxSQLLen                    int
}

type optionFunc func(*loggerOption)

// WithSlowThreshold sets the slow log threshold for gorm log
func WithSlowThreshold(thres time.Duration) optionFunc {
	return func(op *loggerOption) {
		op.slowThreshold = thres
	}
}

// WithIgnoreTraceRecordNotFoundErr sets if ignore 'record not found' error for trace
func WithIgnoreTraceRecordNotFoundErr() optionFunc {
	return func(op *loggerOption) {
		op.ignoreTraceRecordNotFoundErr = true
	}
}

// WithMaxSQLLen limits how much of a statement is logged. Non-positive
// means no limit.
func WithMaxSQLLen(n int) optionFunc {
	return func(op *loggerOption) {
		op.maxSQLLen = n
	}
}

// NewOrmLogger returns a logger which implements logger.Interface
func NewOrmLogger(lg *zap.Logger, opts ...optionFunc) logger.Interface {
	op := loggerOption{maxSQLLen: defaultMaxLoggedSQLLen}
	for _, opt := range opts {
		opt(&op)
	}
	return &ormLogger{op: op, lg: lg, level: logger.Info}
}

// ormLogger forwards gorm logs to zap. The zap level filters the output,
// the gorm level only decides which kinds of messages are emitted at all.
type ormLogger struct {
	op    loggerOption
	lg    *zap.Logger
	level logger.LogLevel
}

func (l *ormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cloned := *l
	cloned.level = level
	return &cloned
}

func (l *ormLogger) Info(_ context.Context, format string, args ...interface{}) {
	if l.level >= logger.Info {
		l.lg.Info(fmt.Sprintf(format, args...))
	}
}

func (l *ormLogger) Warn(_ context.Context, format string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.lg.Warn(fmt.Sprintf(format, args...))
	}
}

func (l *ormLogger) Error(_ context.Context, format string, args ...interface{}) {
	if l.level >= logger.Error {
		l.lg.Error(fmt.Sprintf(format, args...))
	}
}

// Trace emits one entry per statement: failed statements at error level,
// slow ones at warn level and the rest at debug level.
func (l *ormLogger) Trace(_ context.Context, begin time.Time, resFunc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := resFunc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", l.truncate(sql)),
		zap.Int64("affected-rows", rows),
	}

	failed := err != nil && !(l.op.ignoreTraceRecordNotFoundErr && errors.Is(err, gorm.ErrRecordNotFound))
	slow := l.op.slowThreshold != 0 && elapsed > l.op.slowThreshold
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	switch {
	case failed && l.level >= logger.Error:
		l.lg.Error("sql failed", append(fields, zap.Bool("slow", slow))...)
	case slow && l.level >= logger.Warn:
		l.lg.Warn("slow sql", fields...)
	default:
		l.lg.Debug("sql", fields...)
	}
}

func (l *ormLogger) truncate(sql string) string {
	if l.op.maxSQLLen <= 0 || len(sql) <= l.op.maxSQLLen {
		return sql
	}
	return fmt.Sprintf("%s...(%d bytes)", sql[:l.op.maxSQLLen], len(sql))
}
