package booking

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing booking operation.
type OperationLog struct {
	Operation   string
	CourtID     CourtID
	BookingID   BookingID
	Occurrences int
	Confirmed   int
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithDurationBounds overrides the allowed booking duration window.
func WithDurationBounds(minDuration, maxDuration time.Duration) ServiceOption {
	return func(service *Service) {
		service.minDuration = minDuration
		service.maxDuration = maxDuration
	}
}
