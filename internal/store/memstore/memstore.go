// Package memstore keeps reservations, resources and holders in process
// memory. It backs tests and single-process development runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
)

// Store implements booking.Store. Transactions are serialized and work on a
// copy of the data that replaces the live copy on commit.
type Store struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn against a private copy and commits it when fn succeeds.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	store.mu.RLock()
	working := store.state.clone()
	store.mu.RUnlock()
	if err := fn(ctx, &txStore{state: working}); err != nil {
		return err
	}
	store.mu.Lock()
	store.state = working
	store.mu.Unlock()
	return nil
}

// LockScopes is a no-op; WithTx already serializes writers.
func (store *Store) LockScopes(context.Context, []booking.ScopeKey) error {
	return nil
}

func (store *Store) write(ctx context.Context, fn func(working *state) error) error {
	return store.WithTx(ctx, func(_ context.Context, transactionStore booking.Store) error {
		return fn(transactionStore.(*txStore).state)
	})
}

func (store *Store) read() *state {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.state
}

func (store *Store) InsertReservation(ctx context.Context, reservation booking.Reservation) error {
	return store.write(ctx, func(working *state) error { return working.insertReservation(reservation) })
}

func (store *Store) UpdateReservation(ctx context.Context, reservation booking.Reservation) error {
	return store.write(ctx, func(working *state) error { return working.updateReservation(reservation) })
}

func (store *Store) DeleteReservation(ctx context.Context, reservation booking.Reservation) error {
	return store.write(ctx, func(working *state) error { return working.deleteReservation(reservation) })
}

func (store *Store) GetReservation(_ context.Context, reservationID booking.ReservationID) (booking.Reservation, error) {
	return store.read().getReservation(reservationID)
}

func (store *Store) QueryByResourceAndDate(_ context.Context, resourceID booking.ResourceID, date booking.Date) ([]booking.Reservation, error) {
	return store.read().queryByResourceAndDate(resourceID, date), nil
}

func (store *Store) QueryByHolderAndDate(_ context.Context, holderID booking.HolderID, date booking.Date) ([]booking.Reservation, error) {
	return store.read().queryByHolderAndDate(holderID, date), nil
}

func (store *Store) QueryByHolder(_ context.Context, holderID booking.HolderID, from booking.Date) ([]booking.Reservation, error) {
	return store.read().queryByHolder(holderID, from), nil
}

func (store *Store) QueryOpen(_ context.Context, from booking.Date, through booking.Date) ([]booking.Reservation, error) {
	return store.read().queryOpen(from, through), nil
}

func (store *Store) GetResource(_ context.Context, resourceID booking.ResourceID) (booking.Resource, error) {
	return store.read().getResource(resourceID)
}

func (store *Store) ListResources(context.Context) ([]booking.Resource, error) {
	return store.read().listResources(), nil
}

func (store *Store) SaveResource(ctx context.Context, resource booking.Resource) error {
	return store.write(ctx, func(working *state) error { working.saveResource(resource); return nil })
}

func (store *Store) GetHolder(_ context.Context, holderID booking.HolderID) (booking.Holder, error) {
	return store.read().getHolder(holderID)
}

func (store *Store) SaveHolder(ctx context.Context, holder booking.Holder) error {
	return store.write(ctx, func(working *state) error { working.saveHolder(holder); return nil })
}

func (store *Store) TallyReservations(context.Context) ([]booking.ReservationTally, error) {
	return store.read().tallyReservations(), nil
}

type txStore struct {
	state *state
}

func (store *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return fn(ctx, store)
}

func (store *txStore) LockScopes(context.Context, []booking.ScopeKey) error {
	return nil
}

func (store *txStore) InsertReservation(_ context.Context, reservation booking.Reservation) error {
	return store.state.insertReservation(reservation)
}

func (store *txStore) UpdateReservation(_ context.Context, reservation booking.Reservation) error {
	return store.state.updateReservation(reservation)
}

func (store *txStore) DeleteReservation(_ context.Context, reservation booking.Reservation) error {
	return store.state.deleteReservation(reservation)
}

func (store *txStore) GetReservation(_ context.Context, reservationID booking.ReservationID) (booking.Reservation, error) {
	return store.state.getReservation(reservationID)
}

func (store *txStore) QueryByResourceAndDate(_ context.Context, resourceID booking.ResourceID, date booking.Date) ([]booking.Reservation, error) {
	return store.state.queryByResourceAndDate(resourceID, date), nil
}

func (store *txStore) QueryByHolderAndDate(_ context.Context, holderID booking.HolderID, date booking.Date) ([]booking.Reservation, error) {
	return store.state.queryByHolderAndDate(holderID, date), nil
}

func (store *txStore) QueryByHolder(_ context.Context, holderID booking.HolderID, from booking.Date) ([]booking.Reservation, error) {
	return store.state.queryByHolder(holderID, from), nil
}

func (store *txStore) QueryOpen(_ context.Context, from booking.Date, through booking.Date) ([]booking.Reservation, error) {
	return store.state.queryOpen(from, through), nil
}

func (store *txStore) GetResource(_ context.Context, resourceID booking.ResourceID) (booking.Resource, error) {
	return store.state.getResource(resourceID)
}

func (store *txStore) ListResources(context.Context) ([]booking.Resource, error) {
	return store.state.listResources(), nil
}

func (store *txStore) SaveResource(_ context.Context, resource booking.Resource) error {
	store.state.saveResource(resource)
	return nil
}

func (store *txStore) GetHolder(_ context.Context, holderID booking.HolderID) (booking.Holder, error) {
	return store.state.getHolder(holderID)
}

func (store *txStore) SaveHolder(_ context.Context, holder booking.Holder) error {
	store.state.saveHolder(holder)
	return nil
}

func (store *txStore) TallyReservations(context.Context) ([]booking.ReservationTally, error) {
	return store.state.tallyReservations(), nil
}

type state struct {
	reservations map[booking.ReservationID]booking.Reservation
	resources    []booking.Resource
	holders      map[booking.HolderID]booking.Holder
}

func newState() *state {
	return &state{
		reservations: make(map[booking.ReservationID]booking.Reservation),
		holders:      make(map[booking.HolderID]booking.Holder),
	}
}

func (current *state) clone() *state {
	copied := &state{
		reservations: make(map[booking.ReservationID]booking.Reservation, len(current.reservations)),
		resources:    append([]booking.Resource(nil), current.resources...),
		holders:      make(map[booking.HolderID]booking.Holder, len(current.holders)),
	}
	for id, reservation := range current.reservations {
		copied.reservations[id] = reservation
	}
	for id, holder := range current.holders {
		copied.holders[id] = holder
	}
	return copied
}

func (current *state) insertReservation(reservation booking.Reservation) error {
	if _, exists := current.reservations[reservation.ID]; exists {
		return fmt.Errorf("%w: %s", booking.ErrReservationExists, reservation.ID)
	}
	current.reservations[reservation.ID] = reservation
	return nil
}

func (current *state) updateReservation(reservation booking.Reservation) error {
	stored, ok := current.reservations[reservation.ID]
	if !ok {
		return fmt.Errorf("%w: %s", booking.ErrUnknownReservation, reservation.ID)
	}
	if stored.Version != reservation.Version {
		return fmt.Errorf("%w: %s", booking.ErrStaleReservation, reservation.ID)
	}
	reservation.Version++
	reservation.CreatedAt = stored.CreatedAt
	current.reservations[reservation.ID] = reservation
	return nil
}

func (current *state) deleteReservation(reservation booking.Reservation) error {
	stored, ok := current.reservations[reservation.ID]
	if !ok {
		return fmt.Errorf("%w: %s", booking.ErrUnknownReservation, reservation.ID)
	}
	if stored.Version != reservation.Version {
		return fmt.Errorf("%w: %s", booking.ErrStaleReservation, reservation.ID)
	}
	delete(current.reservations, reservation.ID)
	return nil
}

func (current *state) getReservation(reservationID booking.ReservationID) (booking.Reservation, error) {
	reservation, ok := current.reservations[reservationID]
	if !ok {
		return booking.Reservation{}, fmt.Errorf("%w: %s", booking.ErrUnknownReservation, reservationID)
	}
	return reservation, nil
}

func (current *state) filter(keep func(booking.Reservation) bool) []booking.Reservation {
	result := make([]booking.Reservation, 0)
	for _, reservation := range current.reservations {
		if keep(reservation) {
			result = append(result, reservation)
		}
	}
	sort.Slice(result, func(left, right int) bool {
		leftSlot, rightSlot := result[left].Slot, result[right].Slot
		if leftSlot.Date != rightSlot.Date {
			return leftSlot.Date.Before(rightSlot.Date)
		}
		if leftSlot.Interval.Start() != rightSlot.Interval.Start() {
			return leftSlot.Interval.Start() < rightSlot.Interval.Start()
		}
		return result[left].ID.String() < result[right].ID.String()
	})
	return result
}

func (current *state) queryByResourceAndDate(resourceID booking.ResourceID, date booking.Date) []booking.Reservation {
	return current.filter(func(reservation booking.Reservation) bool {
		return reservation.ResourceID == resourceID && reservation.Slot.Date == date
	})
}

func (current *state) queryByHolderAndDate(holderID booking.HolderID, date booking.Date) []booking.Reservation {
	return current.filter(func(reservation booking.Reservation) bool {
		return reservation.HolderID == holderID && reservation.Slot.Date == date
	})
}

func (current *state) queryByHolder(holderID booking.HolderID, from booking.Date) []booking.Reservation {
	return current.filter(func(reservation booking.Reservation) bool {
		return reservation.HolderID == holderID && !reservation.Slot.Date.Before(from)
	})
}

func (current *state) queryOpen(from booking.Date, through booking.Date) []booking.Reservation {
	return current.filter(func(reservation booking.Reservation) bool {
		date := reservation.Slot.Date
		if date.Before(from) || through.Before(date) {
			return false
		}
		return !reservation.NotifiedStart || !reservation.NotifiedEnd || !reservation.Activated
	})
}

func (current *state) getResource(resourceID booking.ResourceID) (booking.Resource, error) {
	for _, resource := range current.resources {
		if resource.ID() == resourceID {
			return resource, nil
		}
	}
	return booking.Resource{}, fmt.Errorf("%w: %s", booking.ErrUnknownResource, resourceID)
}

func (current *state) listResources() []booking.Resource {
	return append([]booking.Resource(nil), current.resources...)
}

func (current *state) saveResource(resource booking.Resource) {
	for index, existing := range current.resources {
		if existing.ID() == resource.ID() {
			current.resources[index] = resource
			return
		}
	}
	current.resources = append(current.resources, resource)
}

func (current *state) getHolder(holderID booking.HolderID) (booking.Holder, error) {
	holder, ok := current.holders[holderID]
	if !ok {
		return booking.Holder{}, fmt.Errorf("%w: %s", booking.ErrUnknownHolder, holderID)
	}
	return holder, nil
}

func (current *state) saveHolder(holder booking.Holder) {
	current.holders[holder.ID] = holder
}

type tallyKey struct {
	holderID   booking.HolderID
	resourceID booking.ResourceID
}

func (current *state) tallyReservations() []booking.ReservationTally {
	tallies := make(map[tallyKey]*booking.ReservationTally)
	for _, reservation := range current.reservations {
		key := tallyKey{holderID: reservation.HolderID, resourceID: reservation.ResourceID}
		tally, ok := tallies[key]
		if !ok {
			tally = &booking.ReservationTally{HolderID: key.holderID, ResourceID: key.resourceID}
			tallies[key] = tally
		}
		tally.Bookings++
		if reservation.Activated {
			tally.Visits++
		}
		tally.TotalSeconds += int64(reservation.Slot.Interval.End() - reservation.Slot.Interval.Start())
	}
	result := make([]booking.ReservationTally, 0, len(tallies))
	for _, tally := range tallies {
		result = append(result, *tally)
	}
	sort.Slice(result, func(left, right int) bool {
		if result[left].HolderID != result[right].HolderID {
			return result[left].HolderID.String() < result[right].HolderID.String()
		}
		return result[left].ResourceID.String() < result[right].ResourceID.String()
	})
	return result
}
