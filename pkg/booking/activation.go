package booking

import (
	"context"
	"fmt"
)

// Activate records the holder's check-in after the token check passes.
// Activating an already activated reservation succeeds without a write.
func (service *Service) Activate(ctx context.Context, actor Actor, reservationID ReservationID, holderID HolderID, token string) (Reservation, error) {
	reservation, operationError := service.activate(ctx, actor, reservationID, holderID, token)
	service.logOperation(ctx, OperationLog{
		Operation:     OperationActivate,
		HolderID:      holderID,
		Role:          actor.Role,
		ResourceID:    reservation.ResourceID,
		ReservationID: reservationID,
		Slot:          reservation.Slot,
		Error:         operationError,
	})
	return reservation, operationError
}

// ActivateCurrent activates the holder's reservation that is in progress now.
func (service *Service) ActivateCurrent(ctx context.Context, actor Actor, holderID HolderID, token string) (Reservation, error) {
	current, err := service.CurrentReservation(ctx, actor, holderID)
	if err != nil {
		return Reservation{}, err
	}
	return service.Activate(ctx, actor, current.ID, holderID, token)
}

func (service *Service) activate(ctx context.Context, actor Actor, reservationID ReservationID, holderID HolderID, token string) (Reservation, error) {
	if !canActFor(actor, holderID) {
		return Reservation{}, fmt.Errorf("%w: cannot activate for another holder", ErrForbidden)
	}
	matches, err := service.tokenVerifier.VerifyActivationToken(ctx, holderID, token)
	if err != nil {
		return Reservation{}, err
	}
	if !matches {
		return Reservation{}, ErrInvalidToken
	}
	var activated Reservation
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if current.HolderID != holderID {
			return fmt.Errorf("%w: reservation %s belongs to another holder", ErrForbidden, reservationID)
		}
		if current.Activated {
			activated = current
			return nil
		}
		next := current
		next.Activated = true
		if err := transactionStore.UpdateReservation(ctx, next); err != nil {
			return err
		}
		next.Version = current.Version + 1
		activated = next
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return activated, nil
}
