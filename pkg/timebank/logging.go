package timebank

import "context"

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// BookingServiceOption configures a BookingService instance.
type BookingServiceOption func(*BookingService)

// OperationLogger records domain-level events emitted by service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing operation.
type OperationLog struct {
	Operation string
	ActorID   string
	BookingID string
	Amount    int64
	Status    string
	Error     error
}

// WithEngineLogger wires a logger that receives callbacks for every transfer operation.
func WithEngineLogger(logger OperationLogger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithBookingLogger wires a logger that receives callbacks for every lifecycle operation.
func WithBookingLogger(logger OperationLogger) BookingServiceOption {
	return func(service *BookingService) {
		service.logger = logger
	}
}

// WithNotifier wires the post-commit notification sink.
func WithNotifier(notifier Notifier) BookingServiceOption {
	return func(service *BookingService) {
		service.notifier = notifier
	}
}

func finishLog(entry OperationLog) OperationLog {
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	return entry
}
