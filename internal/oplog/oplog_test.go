package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationWritesFields(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := New(zap.New(core))
	holderID, err := booking.NewHolderID("alice")
	require.NoError(test, err)
	date, err := booking.NewDate("2025-03-10")
	require.NoError(test, err)
	slot, err := booking.NewSlot(date, 3600, 7200)
	require.NoError(test, err)

	logger.LogOperation(context.Background(), booking.OperationLog{
		Operation: "create",
		HolderID:  holderID,
		Slot:      slot,
		Status:    "ok",
	})
	logger.LogOperation(context.Background(), booking.OperationLog{
		Operation: "cancel",
		Status:    "error",
		Error:     errors.New("boom"),
	})

	entries := logs.AllUntimed()
	require.Len(test, entries, 2)
	require.Equal(test, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(test, "alice", fields["holder_id"])
	require.Equal(test, "2025-03-10", fields["date"])
	require.EqualValues(test, 3600, fields["start_second"])
	require.NotContains(test, fields, "reservation_id")
	require.Equal(test, zapcore.WarnLevel, entries[1].Level)
	require.Equal(test, "boom", entries[1].ContextMap()["error"])
}

func TestNewToleratesNilLogger(test *testing.T) {
	test.Parallel()
	require.NotPanics(test, func() {
		New(nil).LogOperation(context.Background(), booking.OperationLog{Operation: "create"})
	})
}
