package booking

import (
	"context"
	"fmt"
	"sort"
)

// GetReservation returns a reservation visible to the actor.
func (service *Service) GetReservation(ctx context.Context, actor Actor, reservationID ReservationID) (Reservation, error) {
	reservation, err := service.store.GetReservation(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if !CanManage(actor, reservation) {
		return Reservation{}, fmt.Errorf("%w: not the owner of reservation %s", ErrForbidden, reservationID)
	}
	return reservation, nil
}

// ListHolderReservations returns the holder's reservations dated from onwards,
// ordered by date and start.
func (service *Service) ListHolderReservations(ctx context.Context, actor Actor, holderID HolderID, from Date) ([]Reservation, error) {
	if !canActFor(actor, holderID) {
		return nil, fmt.Errorf("%w: cannot list another holder", ErrForbidden)
	}
	if from.IsZero() {
		from = service.Today()
	}
	reservations, err := service.store.QueryByHolder(ctx, holderID, from)
	if err != nil {
		return nil, err
	}
	sortReservations(reservations)
	return reservations, nil
}

// ListResourceReservations returns the reservations on a resource for a date, ordered by start.
func (service *Service) ListResourceReservations(ctx context.Context, resourceID ResourceID, date Date) ([]Reservation, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	if _, err := service.store.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}
	reservations, err := service.store.QueryByResourceAndDate(ctx, resourceID, date)
	if err != nil {
		return nil, err
	}
	sortReservations(reservations)
	return reservations, nil
}

// CurrentReservation returns the holder's reservation whose interval contains now.
func (service *Service) CurrentReservation(ctx context.Context, actor Actor, holderID HolderID) (Reservation, error) {
	if !canActFor(actor, holderID) {
		return Reservation{}, fmt.Errorf("%w: cannot look up another holder", ErrForbidden)
	}
	now := service.nowFn()
	today := DateOf(now, service.location)
	second := SecondOfDay(now, service.location)
	reservations, err := service.store.QueryByHolderAndDate(ctx, holderID, today)
	if err != nil {
		return Reservation{}, err
	}
	for _, reservation := range reservations {
		if reservation.Slot.Interval.Contains(second) {
			return reservation, nil
		}
	}
	return Reservation{}, fmt.Errorf("%w: holder %s has no reservation in progress", ErrUnknownReservation, holderID)
}

func sortReservations(reservations []Reservation) {
	sort.SliceStable(reservations, func(left, right int) bool {
		leftSlot := reservations[left].Slot
		rightSlot := reservations[right].Slot
		if leftSlot.Date != rightSlot.Date {
			return leftSlot.Date.Before(rightSlot.Date)
		}
		return leftSlot.Interval.Start() < rightSlot.Interval.Start()
	})
}
