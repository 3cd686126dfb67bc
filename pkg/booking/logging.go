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
	Operation     string
	HolderID      HolderID
	// Role is the acting caller's role.
	Role          Role
	ResourceID    ResourceID
	ReservationID ReservationID
	Slot          Slot
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithLocation sets the time zone used to turn dates and seconds into instants.
func WithLocation(location *time.Location) ServiceOption {
	return func(service *Service) {
		service.location = location
	}
}

// WithTokenVerifier replaces the default bcrypt-backed activation token check.
func WithTokenVerifier(verifier TokenVerifier) ServiceOption {
	return func(service *Service) {
		service.tokenVerifier = verifier
	}
}

// WithTokenHashCost sets the bcrypt cost used when rotating activation tokens.
func WithTokenHashCost(cost int) ServiceOption {
	return func(service *Service) {
		service.tokenHashCost = cost
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
