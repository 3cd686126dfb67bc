// Package oplog writes booking operation records to zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"go.uber.org/zap"
)

// ZapLogger implements booking.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

// New returns a ZapLogger. A nil logger discards entries.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("booking")}
}

// LogOperation writes one entry; failed operations are logged at warn level.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.HolderID.IsZero() {
		fields = append(fields, zap.String("holder_id", entry.HolderID.String()))
	}
	if entry.Role != "" {
		fields = append(fields, zap.String("role", entry.Role.String()))
	}
	if !entry.ResourceID.IsZero() {
		fields = append(fields, zap.String("resource_id", entry.ResourceID.String()))
	}
	if !entry.ReservationID.IsZero() {
		fields = append(fields, zap.String("reservation_id", entry.ReservationID.String()))
	}
	if !entry.Slot.Date.IsZero() {
		fields = append(fields,
			zap.String("date", entry.Slot.Date.String()),
			zap.Int("start_second", entry.Slot.Interval.Start()),
			zap.Int("end_second", entry.Slot.Interval.End()),
		)
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Warn("booking operation failed", fields...)
		return
	}
	zapLogger.logger.Info("booking operation", fields...)
}
