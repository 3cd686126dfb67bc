package booking

import (
	"context"
	"fmt"
)

// ReservationRequest describes a reservation to admit. A zero HolderID
// reserves for the acting holder.
type ReservationRequest struct {
	ResourceID  ResourceID
	HolderID    HolderID
	Date        Date
	StartSecond int
	EndSecond   int
}

// ReservationChange describes an in-place update. A zero ResourceID or Date
// keeps the current value; the interval is always replaced.
type ReservationChange struct {
	ResourceID  ResourceID
	Date        Date
	StartSecond int
	EndSecond   int
}

// CanAdmit reports whether candidate fits within scope against the
// reservations in store, ignoring the reservation identified by excludeID.
func CanAdmit(ctx context.Context, store Store, candidate Reservation, scope Scope, excludeID ReservationID) (bool, error) {
	_, found, err := findConflict(ctx, store, candidate, scope, excludeID)
	if err != nil {
		return false, err
	}
	return !found, nil
}

func findConflict(ctx context.Context, store Store, candidate Reservation, scope Scope, excludeID ReservationID) (Reservation, bool, error) {
	var (
		peers []Reservation
		err   error
	)
	switch scope {
	case ScopeResource:
		peers, err = store.QueryByResourceAndDate(ctx, candidate.ResourceID, candidate.Slot.Date)
	case ScopeHolder:
		peers, err = store.QueryByHolderAndDate(ctx, candidate.HolderID, candidate.Slot.Date)
	default:
		return Reservation{}, false, fmt.Errorf("%w: unknown scope %q", ErrInvalidServiceConfig, scope)
	}
	if err != nil {
		return Reservation{}, false, err
	}
	for _, peer := range peers {
		if !excludeID.IsZero() && peer.ID == excludeID {
			continue
		}
		if Overlaps(peer.Slot, candidate.Slot) {
			return peer, true, nil
		}
	}
	return Reservation{}, false, nil
}

// admit checks the resource scope first, then the holder scope.
func admit(ctx context.Context, store Store, candidate Reservation, excludeID ReservationID) error {
	for _, scope := range []Scope{ScopeResource, ScopeHolder} {
		peer, found, err := findConflict(ctx, store, candidate, scope, excludeID)
		if err != nil {
			return err
		}
		if found {
			return ConflictError{Scope: scope, ReservationID: peer.ID}
		}
	}
	return nil
}

// CreateReservation admits a new reservation after both exclusivity checks pass.
func (service *Service) CreateReservation(ctx context.Context, actor Actor, request ReservationRequest) (Reservation, error) {
	holderID := request.HolderID
	if holderID.IsZero() {
		holderID = actor.HolderID
	}
	reservation, operationError := service.createReservation(ctx, actor, holderID, request)
	service.logOperation(ctx, OperationLog{
		Operation:     OperationCreate,
		HolderID:      holderID,
		Role:          actor.Role,
		ResourceID:    request.ResourceID,
		ReservationID: reservation.ID,
		Slot:          reservation.Slot,
		Error:         operationError,
	})
	return reservation, operationError
}

func (service *Service) createReservation(ctx context.Context, actor Actor, holderID HolderID, request ReservationRequest) (Reservation, error) {
	if holderID.IsZero() {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidHolderID)
	}
	if request.ResourceID.IsZero() {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidResourceID)
	}
	slot, err := NewSlot(request.Date, request.StartSecond, request.EndSecond)
	if err != nil {
		return Reservation{}, err
	}
	if !canActFor(actor, holderID) {
		return Reservation{}, fmt.Errorf("%w: cannot reserve for another holder", ErrForbidden)
	}
	candidate := Reservation{
		ID:         GenerateReservationID(),
		ResourceID: request.ResourceID,
		HolderID:   holderID,
		Slot:       slot,
		Version:    1,
		CreatedAt:  service.nowFn().UTC(),
	}
	keys := admissionKeys(candidate)
	unlock := service.locks.Lock(keys)
	defer unlock()

	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		resource, err := transactionStore.GetResource(ctx, candidate.ResourceID)
		if err != nil {
			return err
		}
		if !resource.UsableBy(actor.Role) {
			return fmt.Errorf("%w: resource %s is restricted", ErrForbidden, resource.ID())
		}
		if err := transactionStore.LockScopes(ctx, keys); err != nil {
			return err
		}
		if err := admit(ctx, transactionStore, candidate, ReservationID{}); err != nil {
			return err
		}
		return transactionStore.InsertReservation(ctx, candidate)
	})
	if err != nil {
		return Reservation{}, err
	}
	return candidate, nil
}

// UpdateReservation moves a reservation that has not started yet, re-running
// both exclusivity checks against every other reservation.
func (service *Service) UpdateReservation(ctx context.Context, actor Actor, reservationID ReservationID, change ReservationChange) (Reservation, error) {
	reservation, operationError := service.updateReservation(ctx, actor, reservationID, change)
	service.logOperation(ctx, OperationLog{
		Operation:     OperationUpdate,
		HolderID:      actor.HolderID,
		ResourceID:    reservation.ResourceID,
		ReservationID: reservationID,
		Slot:          reservation.Slot,
		Error:         operationError,
	})
	return reservation, operationError
}

func (service *Service) updateReservation(ctx context.Context, actor Actor, reservationID ReservationID, change ReservationChange) (Reservation, error) {
	snapshot, err := service.store.GetReservation(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if !CanManage(actor, snapshot) {
		return Reservation{}, fmt.Errorf("%w: not the owner of reservation %s", ErrForbidden, reservationID)
	}
	date := change.Date
	if date.IsZero() {
		date = snapshot.Slot.Date
	}
	resourceID := change.ResourceID
	if resourceID.IsZero() {
		resourceID = snapshot.ResourceID
	}
	slot, err := NewSlot(date, change.StartSecond, change.EndSecond)
	if err != nil {
		return Reservation{}, err
	}
	target := snapshot
	target.ResourceID = resourceID
	target.Slot = slot
	keys := admissionKeys(snapshot, target)
	unlock := service.locks.Lock(keys)
	defer unlock()

	var updated Reservation
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockScopes(ctx, keys); err != nil {
			return err
		}
		current, err := transactionStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if current.ResourceID != snapshot.ResourceID || current.Slot.Date != snapshot.Slot.Date {
			return fmt.Errorf("%w: reservation %s moved concurrently", ErrStaleReservation, reservationID)
		}
		if !service.nowFn().Before(current.StartInstant(service.location)) {
			return fmt.Errorf("%w: reservation %s", ErrAlreadyStarted, reservationID)
		}
		if resourceID != current.ResourceID {
			resource, err := transactionStore.GetResource(ctx, resourceID)
			if err != nil {
				return err
			}
			if !resource.UsableBy(actor.Role) {
				return fmt.Errorf("%w: resource %s is restricted", ErrForbidden, resource.ID())
			}
		}
		next := current
		next.ResourceID = resourceID
		next.Slot = slot
		if err := admit(ctx, transactionStore, next, current.ID); err != nil {
			return err
		}
		if err := transactionStore.UpdateReservation(ctx, next); err != nil {
			return err
		}
		next.Version = current.Version + 1
		updated = next
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return updated, nil
}

// CancelReservation deletes a reservation on behalf of its holder or an admin.
func (service *Service) CancelReservation(ctx context.Context, actor Actor, reservationID ReservationID) error {
	var cancelled Reservation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if !CanManage(actor, current) {
			return fmt.Errorf("%w: not the owner of reservation %s", ErrForbidden, reservationID)
		}
		cancelled = current
		return transactionStore.DeleteReservation(ctx, current)
	})
	service.logOperation(ctx, OperationLog{
		Operation:     OperationCancel,
		HolderID:      actor.HolderID,
		ResourceID:    cancelled.ResourceID,
		ReservationID: reservationID,
		Slot:          cancelled.Slot,
		Error:         operationError,
	})
	return operationError
}
