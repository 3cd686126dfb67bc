package booking

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Service contains the booking domain logic over a Store.
type Service struct {
	store         Store
	nowFn         func() time.Time
	location      *time.Location
	locks         *keyLocker
	tokenVerifier TokenVerifier
	tokenHashCost int
	logger        OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:         store,
		nowFn:         now,
		location:      time.UTC,
		locks:         newKeyLocker(),
		tokenHashCost: bcrypt.DefaultCost,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.location == nil {
		return nil, fmt.Errorf("%w: location is nil", ErrInvalidServiceConfig)
	}
	if service.tokenHashCost < bcrypt.MinCost || service.tokenHashCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: token hash cost %d out of range", ErrInvalidServiceConfig, service.tokenHashCost)
	}
	if service.tokenVerifier == nil {
		service.tokenVerifier = NewHolderTokenVerifier(store)
	}
	return service, nil
}

// Location returns the time zone the service evaluates dates in.
func (service *Service) Location() *time.Location {
	return service.location
}

// Today returns the current calendar date in the service location.
func (service *Service) Today() Date {
	return DateOf(service.nowFn(), service.location)
}
