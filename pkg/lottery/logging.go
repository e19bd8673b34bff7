package lottery

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

// OperationLog describes a state-changing or degraded lottery operation.
type OperationLog struct {
	Operation       string
	PeriodID        ReservationPeriodID
	EmployeeID      EmployeeID
	AccommodationID AccommodationID
	Actor           ActorID
	Winners         int
	Losers          int
	Ineligible      int
	Status          string
	Error           error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithShuffler replaces the random permutation used by the draw.
func WithShuffler(shuffle Shuffler) ServiceOption {
	return func(service *Service) {
		if shuffle != nil {
			service.shuffle = shuffle
		}
	}
}

// WithNotifier wires the collaborator informed of draw outcomes.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithEligibilityConcurrency bounds parallel history lookups during a draw.
func WithEligibilityConcurrency(limit int) ServiceOption {
	return func(service *Service) {
		if limit > 0 {
			service.eligibilityConcurrency = limit
		}
	}
}

// WithNotificationTimeout bounds the detached notification dispatch.
func WithNotificationTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.notificationTimeout = timeout
		}
	}
}

func logOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}
