package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func newObserved(level logger.LogLevel) (*ZapGormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewZapGormLogger(zap.New(core), level, true), logs
}

func query() (string, int64) { return "SELECT 1", 1 }

func TestTraceLogsErrorsWithTraceID(t *testing.T) {
	l, logs := newObserved(logger.Warn)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	l.Trace(ctx, time.Now(), query, errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, traceID.String(), entries[0].ContextMap()["trace_id"])
}

func TestTraceIgnoresRecordNotFound(t *testing.T) {
	l, logs := newObserved(logger.Info)
	l.ShowSQL = false

	l.Trace(context.Background(), time.Now(), query, logger.ErrRecordNotFound)
	require.Zero(t, logs.Len())
}

func TestTraceSlowQuery(t *testing.T) {
	l, logs := newObserved(logger.Warn)
	l.SlowThreshold = time.Millisecond

	l.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.FilterMessage("gorm.slow_query").Len())
}

func TestTraceSilent(t *testing.T) {
	l, logs := newObserved(logger.Silent)
	l.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	require.Zero(t, logs.Len())
}
