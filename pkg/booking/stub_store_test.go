package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type stubStore struct {
	mu           sync.Mutex
	reservations map[ReservationID]Reservation
	resources    []Resource
	holders      map[HolderID]Holder
	lockedScopes [][]ScopeKey
	inserts      int
}

func newStubStore(test *testing.T, resources ...Resource) *stubStore {
	test.Helper()
	return &stubStore{
		reservations: make(map[ReservationID]Reservation),
		resources:    resources,
		holders:      make(map[HolderID]Holder),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) LockScopes(_ context.Context, keys []ScopeKey) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.lockedScopes = append(store.lockedScopes, append([]ScopeKey(nil), keys...))
	return nil
}

func (store *stubStore) InsertReservation(_ context.Context, reservation Reservation) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.reservations[reservation.ID]; exists {
		return fmt.Errorf("duplicate reservation %s", reservation.ID)
	}
	store.reservations[reservation.ID] = reservation
	store.inserts++
	return nil
}

func (store *stubStore) UpdateReservation(_ context.Context, reservation Reservation) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	current, ok := store.reservations[reservation.ID]
	if !ok {
		return ErrUnknownReservation
	}
	if current.Version != reservation.Version {
		return ErrStaleReservation
	}
	reservation.Version++
	store.reservations[reservation.ID] = reservation
	return nil
}

func (store *stubStore) DeleteReservation(_ context.Context, reservation Reservation) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	current, ok := store.reservations[reservation.ID]
	if !ok {
		return ErrUnknownReservation
	}
	if current.Version != reservation.Version {
		return ErrStaleReservation
	}
	delete(store.reservations, reservation.ID)
	return nil
}

func (store *stubStore) GetReservation(_ context.Context, reservationID ReservationID) (Reservation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return Reservation{}, ErrUnknownReservation
	}
	return reservation, nil
}

func (store *stubStore) filter(keep func(Reservation) bool) []Reservation {
	store.mu.Lock()
	defer store.mu.Unlock()
	var result []Reservation
	for _, reservation := range store.reservations {
		if keep(reservation) {
			result = append(result, reservation)
		}
	}
	sort.Slice(result, func(left, right int) bool {
		return result[left].ID.String() < result[right].ID.String()
	})
	return result
}

func (store *stubStore) QueryByResourceAndDate(_ context.Context, resourceID ResourceID, date Date) ([]Reservation, error) {
	return store.filter(func(reservation Reservation) bool {
		return reservation.ResourceID == resourceID && reservation.Slot.Date == date
	}), nil
}

func (store *stubStore) QueryByHolderAndDate(_ context.Context, holderID HolderID, date Date) ([]Reservation, error) {
	return store.filter(func(reservation Reservation) bool {
		return reservation.HolderID == holderID && reservation.Slot.Date == date
	}), nil
}

func (store *stubStore) QueryByHolder(_ context.Context, holderID HolderID, from Date) ([]Reservation, error) {
	return store.filter(func(reservation Reservation) bool {
		return reservation.HolderID == holderID && !reservation.Slot.Date.Before(from)
	}), nil
}

func (store *stubStore) QueryOpen(_ context.Context, from Date, through Date) ([]Reservation, error) {
	return store.filter(func(reservation Reservation) bool {
		inRange := !reservation.Slot.Date.Before(from) && !through.Before(reservation.Slot.Date)
		return inRange && (!reservation.NotifiedStart || !reservation.NotifiedEnd || !reservation.Activated)
	}), nil
}

func (store *stubStore) GetResource(_ context.Context, resourceID ResourceID) (Resource, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, resource := range store.resources {
		if resource.ID() == resourceID {
			return resource, nil
		}
	}
	return Resource{}, ErrUnknownResource
}

func (store *stubStore) ListResources(context.Context) ([]Resource, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return append([]Resource(nil), store.resources...), nil
}

func (store *stubStore) SaveResource(_ context.Context, resource Resource) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index, existing := range store.resources {
		if existing.ID() == resource.ID() {
			store.resources[index] = resource
			return nil
		}
	}
	store.resources = append(store.resources, resource)
	return nil
}

func (store *stubStore) GetHolder(_ context.Context, holderID HolderID) (Holder, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	holder, ok := store.holders[holderID]
	if !ok {
		return Holder{}, ErrUnknownHolder
	}
	return holder, nil
}

func (store *stubStore) SaveHolder(_ context.Context, holder Holder) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.holders[holder.ID] = holder
	return nil
}

func (store *stubStore) TallyReservations(context.Context) ([]ReservationTally, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	type pair struct {
		holder   HolderID
		resource ResourceID
	}
	tallies := make(map[pair]*ReservationTally)
	var order []pair
	for _, reservation := range store.reservations {
		key := pair{holder: reservation.HolderID, resource: reservation.ResourceID}
		tally, ok := tallies[key]
		if !ok {
			tally = &ReservationTally{HolderID: key.holder, ResourceID: key.resource}
			tallies[key] = tally
			order = append(order, key)
		}
		tally.Bookings++
		if reservation.Activated {
			tally.Visits++
		}
		tally.TotalSeconds += int64(reservation.Slot.Interval.End() - reservation.Slot.Interval.Start())
	}
	result := make([]ReservationTally, 0, len(order))
	for _, key := range order {
		result = append(result, *tallies[key])
	}
	return result, nil
}

func (store *stubStore) put(test *testing.T, reservation Reservation) {
	test.Helper()
	if reservation.ID.IsZero() {
		reservation.ID = GenerateReservationID()
	}
	if reservation.Version == 0 {
		reservation.Version = 1
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.reservations[reservation.ID] = reservation
}

func (store *stubStore) mustReservation(test *testing.T, reservationID ReservationID) Reservation {
	test.Helper()
	reservation, err := store.GetReservation(context.Background(), reservationID)
	if err != nil {
		test.Fatalf("reservation %s: %v", reservationID, err)
	}
	return reservation
}

type failingStore struct {
	*stubStore
	err error
}

func newFailingStore(test *testing.T, err error, resources ...Resource) *failingStore {
	test.Helper()
	return &failingStore{stubStore: newStubStore(test, resources...), err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *failingStore) InsertReservation(context.Context, Reservation) error {
	return store.err
}

func (store *failingStore) SaveHolder(context.Context, Holder) error {
	return store.err
}

var errStubFailure = errors.New("stub failure")

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (clock *fixedClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fixedClock) Set(now time.Time) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = now
}

func mustDate(test *testing.T, raw string) Date {
	test.Helper()
	date, err := NewDate(raw)
	if err != nil {
		test.Fatalf("date %q: %v", raw, err)
	}
	return date
}

func mustSlot(test *testing.T, date Date, startSecond int, endSecond int) Slot {
	test.Helper()
	slot, err := NewSlot(date, startSecond, endSecond)
	if err != nil {
		test.Fatalf("slot: %v", err)
	}
	return slot
}

func mustResourceID(test *testing.T, raw string) ResourceID {
	test.Helper()
	id, err := NewResourceID(raw)
	if err != nil {
		test.Fatalf("resource id: %v", err)
	}
	return id
}

func mustHolderID(test *testing.T, raw string) HolderID {
	test.Helper()
	id, err := NewHolderID(raw)
	if err != nil {
		test.Fatalf("holder id: %v", err)
	}
	return id
}

func mustResource(test *testing.T, raw string, accessLevel AccessLevel) Resource {
	test.Helper()
	metadata, err := NewMetadataJSON(`{"floor":2}`)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	resource, err := NewResource(mustResourceID(test, raw), "Resource "+raw, 4, ResourceRoom, accessLevel, metadata)
	if err != nil {
		test.Fatalf("resource: %v", err)
	}
	return resource
}

func mustNewService(test *testing.T, store Store, clock *fixedClock, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithTokenHashCost(bcrypt.MinCost)}, options...)
	service, err := NewService(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	return service
}

func memberActor(test *testing.T, raw string) Actor {
	test.Helper()
	return Actor{HolderID: mustHolderID(test, raw), Role: RoleMember}
}

func hours(value int) int {
	return value * 3600
}
