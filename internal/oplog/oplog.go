// Package oplog adapts the domain OperationLogger to zap.
package oplog

import (
	"context"

	"github.com/hourbank/timebank/pkg/timebank"
	"go.uber.org/zap"
)

// Logger writes one structured line per domain operation.
type Logger struct {
	base *zap.Logger
}

// New wires a Logger over a zap logger.
func New(base *zap.Logger) *Logger {
	return &Logger{base: base}
}

// LogOperation implements timebank.OperationLogger.
func (logger *Logger) LogOperation(_ context.Context, entry timebank.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.ActorID != "" {
		fields = append(fields, zap.String("actor_id", entry.ActorID))
	}
	if entry.BookingID != "" {
		fields = append(fields, zap.String("booking_id", entry.BookingID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_minutes", entry.Amount))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		logger.base.Warn("timebank operation failed", fields...)
		return
	}
	logger.base.Info("timebank operation", fields...)
}
