package telemetry

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
)

// OperationLogger writes ledger operations to zap and counts them.
type OperationLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewOperationLogger builds an OperationLogger. metrics may be nil.
func NewOperationLogger(logger *zap.Logger, metrics *Metrics) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger, metrics: metrics}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.String("transaction_type", string(entry.TransactionType)),
		zap.String("status", entry.Status),
	}
	if !entry.IdempotencyKey.IsZero() {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("ledger operation failed", fields...)
	} else {
		operationLogger.logger.Info("ledger operation", fields...)
	}
	if operationLogger.metrics != nil {
		operationLogger.metrics.RecordLedgerOperation(entry.Operation, entry.Status)
	}
}
