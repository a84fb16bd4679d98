package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func TestZapGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapGormLogger(zap.New(core), logger.Warn, false, 50*time.Millisecond)
	ctx := context.Background()
	query := func() (string, int64) { return "UPDATE events SET payout_status = 'paid'", 1 }

	l.Trace(ctx, time.Now(), query, nil)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.FilterMessage("gorm.slow_query").Len())

	l.Trace(ctx, time.Now(), query, errors.New("deadlock detected"))
	require.Equal(t, 1, logs.FilterMessage("gorm.query").Len())

	l.Trace(ctx, time.Now(), query, logger.ErrRecordNotFound)
	require.Equal(t, 2, logs.Len())
}

func TestZapGormLoggerSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapGormLogger(zap.New(core), logger.Info, true, 0).LogMode(logger.Silent)

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, errors.New("boom"))
	require.Zero(t, logs.Len())
}
