package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var admissionNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func TestCreateReservationRejectsResourceOverlap(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	date := mustDate(test, "2025-03-10")
	alice := memberActor(test, "alice")
	bob := memberActor(test, "bob")

	first, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomA.ID(), Date: date, StartSecond: hours(9), EndSecond: hours(10),
	})
	if err != nil {
		test.Fatalf("first reservation: %v", err)
	}
	if first.Version != 1 || first.HolderID != alice.HolderID {
		test.Fatalf("unexpected reservation %+v", first)
	}

	_, err = service.CreateReservation(context.Background(), bob, ReservationRequest{
		ResourceID: roomA.ID(), Date: date, StartSecond: hours(9) + 1800, EndSecond: hours(10) + 1800,
	})
	if !errors.Is(err, ErrConflict) {
		test.Fatalf("expected ErrConflict, got %v", err)
	}
	if scope, ok := ConflictScopeOf(err); !ok || scope != ScopeResource {
		test.Fatalf("expected resource scope, got %q", scope)
	}

	adjacent, err := service.CreateReservation(context.Background(), bob, ReservationRequest{
		ResourceID: roomA.ID(), Date: date, StartSecond: hours(10), EndSecond: hours(11),
	})
	if err != nil {
		test.Fatalf("adjacent reservation: %v", err)
	}
	if adjacent.Slot.Interval.Start() != hours(10) {
		test.Fatalf("unexpected adjacent slot %+v", adjacent.Slot)
	}
}

func TestCreateReservationRejectsHolderOverlap(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	roomB := mustResource(test, "room-b", AccessPublic)
	store := newStubStore(test, roomA, roomB)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	date := mustDate(test, "2025-03-10")
	alice := memberActor(test, "alice")

	if _, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomA.ID(), Date: date, StartSecond: hours(9), EndSecond: hours(10),
	}); err != nil {
		test.Fatalf("first reservation: %v", err)
	}
	_, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomB.ID(), Date: date, StartSecond: hours(9) + 1800, EndSecond: hours(10) + 1800,
	})
	if scope, ok := ConflictScopeOf(err); !ok || scope != ScopeHolder {
		test.Fatalf("expected holder conflict, got %v", err)
	}
	if _, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomB.ID(), Date: date, StartSecond: hours(10), EndSecond: hours(11),
	}); err != nil {
		test.Fatalf("adjacent reservation on another resource: %v", err)
	}
	if _, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomB.ID(), Date: date.AddDays(1), StartSecond: hours(9), EndSecond: hours(10),
	}); err != nil {
		test.Fatalf("same interval on the next day: %v", err)
	}
}

func TestCreateReservationReportsResourceScopeFirst(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	date := mustDate(test, "2025-03-10")
	alice := memberActor(test, "alice")

	if _, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomA.ID(), Date: date, StartSecond: hours(9), EndSecond: hours(10),
	}); err != nil {
		test.Fatalf("first reservation: %v", err)
	}
	_, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomA.ID(), Date: date, StartSecond: hours(9), EndSecond: hours(10),
	})
	if scope, _ := ConflictScopeOf(err); scope != ScopeResource {
		test.Fatalf("expected resource scope, got %v", err)
	}
}

func TestCreateReservationValidatesRequest(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	date := mustDate(test, "2025-03-10")
	alice := memberActor(test, "alice")

	testCases := []struct {
		name     string
		actor    Actor
		request  ReservationRequest
		expected error
	}{
		{name: "empty interval", actor: alice, request: ReservationRequest{ResourceID: roomA.ID(), Date: date, StartSecond: 100, EndSecond: 100}, expected: ErrInvalidInterval},
		{name: "missing date", actor: alice, request: ReservationRequest{ResourceID: roomA.ID(), StartSecond: 0, EndSecond: 100}, expected: ErrInvalidDate},
		{name: "missing resource", actor: alice, request: ReservationRequest{Date: date, StartSecond: 0, EndSecond: 100}, expected: ErrInvalidResourceID},
		{name: "unknown resource", actor: alice, request: ReservationRequest{ResourceID: mustResourceID(test, "ghost"), Date: date, StartSecond: 0, EndSecond: 100}, expected: ErrUnknownResource},
		{name: "anonymous", actor: Actor{Role: RoleMember}, request: ReservationRequest{ResourceID: roomA.ID(), Date: date, StartSecond: 0, EndSecond: 100}, expected: ErrInvalidHolderID},
		{name: "another holder", actor: alice, request: ReservationRequest{ResourceID: roomA.ID(), HolderID: mustHolderID(test, "bob"), Date: date, StartSecond: 0, EndSecond: 100}, expected: ErrForbidden},
	}
	for _, testCase := range testCases {
		_, err := service.CreateReservation(context.Background(), testCase.actor, testCase.request)
		if !errors.Is(err, testCase.expected) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, err)
		}
	}
	if store.inserts != 0 {
		test.Fatalf("expected no inserts, got %d", store.inserts)
	}
}

func TestCreateReservationEnforcesAccessLevel(test *testing.T) {
	test.Parallel()
	boardroom := mustResource(test, "boardroom", AccessRestricted)
	store := newStubStore(test, boardroom)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	date := mustDate(test, "2025-03-10")
	guest := Actor{HolderID: mustHolderID(test, "visitor"), Role: RoleGuest}

	_, err := service.CreateReservation(context.Background(), guest, ReservationRequest{
		ResourceID: boardroom.ID(), Date: date, StartSecond: hours(9), EndSecond: hours(10),
	})
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := service.CreateReservation(context.Background(), memberActor(test, "alice"), ReservationRequest{
		ResourceID: boardroom.ID(), Date: date, StartSecond: hours(9), EndSecond: hours(10),
	}); err != nil {
		test.Fatalf("member reservation: %v", err)
	}
}

func TestAdminReservesForAnotherHolder(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	admin := Actor{HolderID: mustHolderID(test, "root"), Role: RoleAdmin}
	bob := mustHolderID(test, "bob")

	reservation, err := service.CreateReservation(context.Background(), admin, ReservationRequest{
		ResourceID: roomA.ID(), HolderID: bob, Date: mustDate(test, "2025-03-10"), StartSecond: hours(9), EndSecond: hours(10),
	})
	if err != nil {
		test.Fatalf("admin reservation: %v", err)
	}
	if reservation.HolderID != bob {
		test.Fatalf("expected holder bob, got %s", reservation.HolderID)
	}
	if len(store.lockedScopes) != 1 {
		test.Fatalf("expected one scope lock, got %d", len(store.lockedScopes))
	}
	keys := store.lockedScopes[0]
	if len(keys) != 2 || keys[0] != HolderScopeKey(bob, reservation.Slot.Date) || keys[1] != ResourceScopeKey(roomA.ID(), reservation.Slot.Date) {
		test.Fatalf("unexpected scope keys %v", keys)
	}
}

func TestConcurrentCreatesAdmitExactlyOne(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	date := mustDate(test, "2025-03-10")

	const contenders = 16
	var waitGroup sync.WaitGroup
	results := make(chan error, contenders)
	for index := 0; index < contenders; index++ {
		actor := memberActor(test, "holder-"+string(rune('a'+index)))
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.CreateReservation(context.Background(), actor, ReservationRequest{
				ResourceID: roomA.ID(), Date: date, StartSecond: hours(9), EndSecond: hours(10),
			})
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	admitted := 0
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrConflict):
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != 1 {
		test.Fatalf("expected exactly one admission, got %d", admitted)
	}
	if size := service.locks.size(); size != 0 {
		test.Fatalf("expected released locks, got %d entries", size)
	}
}

func TestUpdateReservationReadmitsAgainstOthers(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	date := mustDate(test, "2025-03-10")
	alice := memberActor(test, "alice")
	bob := memberActor(test, "bob")

	mine, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomA.ID(), Date: date, StartSecond: hours(9), EndSecond: hours(10),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if _, err := service.CreateReservation(context.Background(), bob, ReservationRequest{
		ResourceID: roomA.ID(), Date: date, StartSecond: hours(11), EndSecond: hours(12),
	}); err != nil {
		test.Fatalf("create bob: %v", err)
	}

	extended, err := service.UpdateReservation(context.Background(), alice, mine.ID, ReservationChange{StartSecond: hours(9), EndSecond: hours(11)})
	if err != nil {
		test.Fatalf("extend over own interval: %v", err)
	}
	if extended.Version != 2 || extended.Slot.Interval.End() != hours(11) {
		test.Fatalf("unexpected update result %+v", extended)
	}
	if stored := store.mustReservation(test, mine.ID); stored.Version != 2 {
		test.Fatalf("expected stored version 2, got %d", stored.Version)
	}

	_, err = service.UpdateReservation(context.Background(), alice, mine.ID, ReservationChange{StartSecond: hours(9), EndSecond: hours(12)})
	if scope, _ := ConflictScopeOf(err); scope != ScopeResource {
		test.Fatalf("expected resource conflict, got %v", err)
	}
	if stored := store.mustReservation(test, mine.ID); stored.Slot.Interval.End() != hours(11) {
		test.Fatalf("rejected update changed the reservation: %+v", stored)
	}

	_, err = service.UpdateReservation(context.Background(), bob, mine.ID, ReservationChange{StartSecond: hours(13), EndSecond: hours(14)})
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateReservationKeepsNotificationFlags(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	date := mustDate(test, "2025-03-10")
	alice := memberActor(test, "alice")
	reservation := Reservation{
		ID:            GenerateReservationID(),
		ResourceID:    roomA.ID(),
		HolderID:      alice.HolderID,
		Slot:          mustSlot(test, date, hours(9), hours(10)),
		NotifiedStart: true,
		Version:       3,
	}
	store.put(test, reservation)

	updated, err := service.UpdateReservation(context.Background(), alice, reservation.ID, ReservationChange{Date: date.AddDays(1), StartSecond: hours(14), EndSecond: hours(15)})
	if err != nil {
		test.Fatalf("update: %v", err)
	}
	if !updated.NotifiedStart || updated.Version != 4 || updated.Slot.Date != date.AddDays(1) {
		test.Fatalf("unexpected update result %+v", updated)
	}
}

func TestUpdateReservationRejectsStartedReservation(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	clock := newFixedClock(admissionNow)
	service := mustNewService(test, store, clock)
	alice := memberActor(test, "alice")
	reservation := Reservation{
		ID:         GenerateReservationID(),
		ResourceID: roomA.ID(),
		HolderID:   alice.HolderID,
		Slot:       mustSlot(test, mustDate(test, "2025-03-10"), hours(8), hours(9)),
		Version:    1,
	}
	store.put(test, reservation)

	_, err := service.UpdateReservation(context.Background(), alice, reservation.ID, ReservationChange{StartSecond: hours(8), EndSecond: hours(10)})
	if !errors.Is(err, ErrAlreadyStarted) {
		test.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestCancelReservationRequiresOwnerOrAdmin(test *testing.T) {
	test.Parallel()
	roomA := mustResource(test, "room-a", AccessPublic)
	store := newStubStore(test, roomA)
	service := mustNewService(test, store, newFixedClock(admissionNow))
	alice := memberActor(test, "alice")
	reservation, err := service.CreateReservation(context.Background(), alice, ReservationRequest{
		ResourceID: roomA.ID(), Date: mustDate(test, "2025-03-10"), StartSecond: hours(9), EndSecond: hours(10),
	})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if err := service.CancelReservation(context.Background(), memberActor(test, "bob"), reservation.ID); !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
	admin := Actor{HolderID: mustHolderID(test, "root"), Role: RoleAdmin}
	if err := service.CancelReservation(context.Background(), admin, reservation.ID); err != nil {
		test.Fatalf("admin cancel: %v", err)
	}
	if err := service.CancelReservation(context.Background(), alice, reservation.ID); !errors.Is(err, ErrUnknownReservation) {
		test.Fatalf("expected ErrUnknownReservation, got %v", err)
	}
}

func TestCanAdmitIgnoresExcludedReservation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	date := mustDate(test, "2025-03-10")
	existing := Reservation{
		ID:         GenerateReservationID(),
		ResourceID: mustResourceID(test, "room-a"),
		HolderID:   mustHolderID(test, "alice"),
		Slot:       mustSlot(test, date, hours(9), hours(10)),
	}
	store.put(test, existing)
	candidate := existing
	candidate.ID = GenerateReservationID()

	admitted, err := CanAdmit(context.Background(), store, candidate, ScopeResource, ReservationID{})
	if err != nil || admitted {
		test.Fatalf("expected rejection, got %v %v", admitted, err)
	}
	admitted, err = CanAdmit(context.Background(), store, candidate, ScopeHolder, existing.ID)
	if err != nil || !admitted {
		test.Fatalf("expected admission when excluding the peer, got %v %v", admitted, err)
	}
	if _, err := CanAdmit(context.Background(), store, candidate, Scope("floor"), ReservationID{}); err == nil {
		test.Fatalf("expected unknown scope error")
	}
}
