// Package oplog adapts domain operation callbacks onto zap and prometheus.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/clubware/clubcore/internal/metrics"
	"github.com/clubware/clubcore/pkg/booking"
	"github.com/clubware/clubcore/pkg/wallet"
)

// WalletLogger forwards wallet operation logs to zap and counts them.
type WalletLogger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewWalletLogger wires a WalletLogger; metrics may be nil.
func NewWalletLogger(logger *zap.Logger, metricSet *metrics.Metrics) *WalletLogger {
	return &WalletLogger{logger: logger, metrics: metricSet}
}

// LogOperation implements wallet.OperationLogger.
func (walletLogger *WalletLogger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("member_id", entry.MemberID.String()),
		zap.String("transaction_id", entry.TransactionID.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		walletLogger.logger.Warn("wallet operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	walletLogger.logger.Info("wallet operation", fields...)
	if walletLogger.metrics == nil {
		return
	}
	switch entry.Operation {
	case "debit":
		walletLogger.metrics.WalletDebits.Inc()
	case "credit":
		walletLogger.metrics.WalletCredits.Inc()
	case "reverse":
		walletLogger.metrics.WalletReversals.Inc()
	}
}

// BookingLogger forwards booking operation logs to zap and counts them.
type BookingLogger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewBookingLogger wires a BookingLogger; metrics may be nil.
func NewBookingLogger(logger *zap.Logger, metricSet *metrics.Metrics) *BookingLogger {
	return &BookingLogger{logger: logger, metrics: metricSet}
}

// LogOperation implements booking.OperationLogger.
func (bookingLogger *BookingLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("court_id", entry.CourtID.String()),
		zap.String("booking_id", entry.BookingID.String()),
		zap.Int("occurrences", entry.Occurrences),
		zap.Int("confirmed", entry.Confirmed),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		bookingLogger.logger.Warn("booking operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	bookingLogger.logger.Info("booking operation", fields...)
	if bookingLogger.metrics == nil {
		return
	}
	switch entry.Operation {
	case "create_booking":
		bookingLogger.metrics.BookingsConfirmed.Add(float64(entry.Confirmed))
	case "cancel_booking":
		bookingLogger.metrics.BookingsCancelled.Inc()
	}
}
