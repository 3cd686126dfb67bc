package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type sentMessage struct {
	holderID booking.HolderID
	message  booking.Message
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	respond func(holderID booking.HolderID, message booking.Message) error
}

func (notifier *recordingNotifier) Notify(_ context.Context, holderID booking.HolderID, message booking.Message) error {
	notifier.mu.Lock()
	notifier.sent = append(notifier.sent, sentMessage{holderID: holderID, message: message})
	respond := notifier.respond
	notifier.mu.Unlock()
	if respond != nil {
		return respond(holderID, message)
	}
	return nil
}

func (notifier *recordingNotifier) messages() []sentMessage {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return append([]sentMessage(nil), notifier.sent...)
}

type failingQueryStore struct {
	*memstore.Store
}

func (store failingQueryStore) QueryOpen(context.Context, booking.Date, booking.Date) ([]booking.Reservation, error) {
	return nil, errors.New("database unreachable")
}

func at(hour int, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

func seedReservation(test *testing.T, store *memstore.Store, holder string, startHour int, endHour int) booking.Reservation {
	test.Helper()
	return seedSlot(test, store, holder, "2025-03-10", startHour*3600, endHour*3600)
}

func seedSlot(test *testing.T, store *memstore.Store, holder string, day string, startSecond int, endSecond int) booking.Reservation {
	test.Helper()
	ctx := context.Background()
	resourceID, err := booking.NewResourceID("room-a")
	require.NoError(test, err)
	if _, err := store.GetResource(ctx, resourceID); err != nil {
		resource, err := booking.NewResource(resourceID, "Blue Room", 6, booking.ResourceRoom, booking.AccessPublic, booking.MetadataJSON{})
		require.NoError(test, err)
		require.NoError(test, store.SaveResource(ctx, resource))
	}
	holderID, err := booking.NewHolderID(holder)
	require.NoError(test, err)
	date, err := booking.NewDate(day)
	require.NoError(test, err)
	slot, err := booking.NewSlot(date, startSecond, endSecond)
	require.NoError(test, err)
	reservation := booking.Reservation{
		ID:         booking.GenerateReservationID(),
		ResourceID: resourceID,
		HolderID:   holderID,
		Slot:       slot,
		Version:    1,
	}
	require.NoError(test, store.InsertReservation(ctx, reservation))
	return reservation
}

func newDriver(test *testing.T, store booking.Store, notifier booking.Notifier, clock func() time.Time, policy booking.LifecyclePolicy, config Config) *Driver {
	test.Helper()
	lifecycle, err := booking.NewLifecycle(policy)
	require.NoError(test, err)
	driver, err := New(store, notifier, lifecycle, clock, zap.NewNop(), config)
	require.NoError(test, err)
	return driver
}

func TestTickSendsStartReminderOnce(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	reservation := seedReservation(test, store, "alice", 10, 11)
	notifier := &recordingNotifier{}
	driver := newDriver(test, store, notifier, func() time.Time { return at(9, 50) }, booking.DefaultLifecyclePolicy(), Config{})

	report, err := driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Equal(test, 1, report.Notified)
	sent := notifier.messages()
	require.Len(test, sent, 1)
	assert.Equal(test, booking.NotificationStartsSoon, sent[0].message.Kind)
	assert.Equal(test, reservation.HolderID, sent[0].holderID)
	assert.Contains(test, sent[0].message.Text, "Blue Room")

	stored, err := store.GetReservation(context.Background(), reservation.ID)
	require.NoError(test, err)
	assert.True(test, stored.NotifiedStart)
	assert.False(test, stored.NotifiedEnd)
	assert.Equal(test, int64(2), stored.Version)

	report, err = driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Equal(test, 0, report.Notified)
	assert.Len(test, notifier.messages(), 1)
}

func TestTickSendsEndReminder(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	reservation := seedReservation(test, store, "alice", 10, 11)
	notifier := &recordingNotifier{}
	driver := newDriver(test, store, notifier, func() time.Time { return at(10, 50) }, booking.DefaultLifecyclePolicy(), Config{})

	_, err := driver.Tick(context.Background())
	require.NoError(test, err)
	sent := notifier.messages()
	require.Len(test, sent, 1)
	assert.Equal(test, booking.NotificationEndsSoon, sent[0].message.Kind)
	stored, err := store.GetReservation(context.Background(), reservation.ID)
	require.NoError(test, err)
	assert.True(test, stored.NotifiedEnd)
	assert.False(test, stored.NotifiedStart)
}

func TestTickRetriesFailedDeliveries(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	reservation := seedReservation(test, store, "alice", 10, 11)
	attempts := 0
	notifier := &recordingNotifier{respond: func(booking.HolderID, booking.Message) error {
		attempts++
		if attempts == 1 {
			return booking.ErrDeliveryFailure
		}
		return nil
	}}
	driver := newDriver(test, store, notifier, func() time.Time { return at(9, 50) }, booking.DefaultLifecyclePolicy(), Config{Workers: 1})

	report, err := driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Equal(test, 1, report.Failed)
	stored, err := store.GetReservation(context.Background(), reservation.ID)
	require.NoError(test, err)
	assert.False(test, stored.NotifiedStart)

	report, err = driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Equal(test, 1, report.Notified)
	stored, err = store.GetReservation(context.Background(), reservation.ID)
	require.NoError(test, err)
	assert.True(test, stored.NotifiedStart)
}

func TestTickMarksUnreachableRecipientsAsNotified(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	reservation := seedReservation(test, store, "alice", 10, 11)
	notifier := &recordingNotifier{respond: func(booking.HolderID, booking.Message) error {
		return booking.ErrRecipientUnreachable
	}}
	driver := newDriver(test, store, notifier, func() time.Time { return at(9, 50) }, booking.DefaultLifecyclePolicy(), Config{})

	_, err := driver.Tick(context.Background())
	require.NoError(test, err)
	stored, err := store.GetReservation(context.Background(), reservation.ID)
	require.NoError(test, err)
	assert.True(test, stored.NotifiedStart)
}

func TestTickExpiresUnactivatedReservations(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	idle := seedReservation(test, store, "alice", 10, 11)
	used := seedReservation(test, store, "bob", 10, 11)
	used.Activated = true
	require.NoError(test, store.UpdateReservation(context.Background(), used))
	notifier := &recordingNotifier{}
	policy := booking.DefaultLifecyclePolicy()
	policy.ExpiryEnabled = true
	driver := newDriver(test, store, notifier, func() time.Time { return at(10, 15) }, policy, Config{})

	report, err := driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Equal(test, 1, report.Expired)
	_, err = store.GetReservation(context.Background(), idle.ID)
	require.ErrorIs(test, err, booking.ErrUnknownReservation)
	_, err = store.GetReservation(context.Background(), used.ID)
	require.NoError(test, err)

	sent := notifier.messages()
	require.Len(test, sent, 1)
	assert.Equal(test, booking.NotificationExpired, sent[0].message.Kind)
	assert.Equal(test, idle.HolderID, sent[0].holderID)
}

func TestTickExpiresEvenWhenNoticeFails(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		respond func(release <-chan struct{}) error
	}{
		{
			name:    "delivery error",
			respond: func(<-chan struct{}) error { return booking.ErrDeliveryFailure },
		},
		{
			name: "delivery timeout",
			respond: func(release <-chan struct{}) error {
				<-release
				return nil
			},
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := memstore.New()
			idle := seedReservation(test, store, "alice", 10, 11)
			release := make(chan struct{})
			defer close(release)
			notifier := &recordingNotifier{respond: func(booking.HolderID, booking.Message) error {
				return testCase.respond(release)
			}}
			policy := booking.DefaultLifecyclePolicy()
			policy.ExpiryEnabled = true
			driver := newDriver(test, store, notifier, func() time.Time { return at(10, 15) }, policy, Config{NotifyTimeout: 20 * time.Millisecond})

			report, err := driver.Tick(context.Background())
			require.NoError(test, err)
			assert.Equal(test, 1, report.Expired)
			_, err = store.GetReservation(context.Background(), idle.ID)
			require.ErrorIs(test, err, booking.ErrUnknownReservation)
			sent := notifier.messages()
			require.Len(test, sent, 1)
			assert.Equal(test, booking.NotificationExpired, sent[0].message.Kind)
		})
	}
}

func TestTickLoadsNextDayWithinNotifyLead(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	reservation := seedSlot(test, store, "alice", "2025-03-11", 5*60, 3600)
	notifier := &recordingNotifier{}
	driver := newDriver(test, store, notifier, func() time.Time { return at(23, 55) }, booking.DefaultLifecyclePolicy(), Config{})

	report, err := driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Equal(test, 1, report.Evaluated)
	assert.Equal(test, 1, report.Notified)
	sent := notifier.messages()
	require.Len(test, sent, 1)
	assert.Equal(test, booking.NotificationStartsSoon, sent[0].message.Kind)
	stored, err := store.GetReservation(context.Background(), reservation.ID)
	require.NoError(test, err)
	assert.True(test, stored.NotifiedStart)
}

func TestTickKeepsFlagsAfterConcurrentActivation(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	reservation := seedReservation(test, store, "alice", 10, 11)
	notifier := &recordingNotifier{respond: func(booking.HolderID, booking.Message) error {
		current, err := store.GetReservation(context.Background(), reservation.ID)
		if err != nil {
			return err
		}
		current.Activated = true
		return store.UpdateReservation(context.Background(), current)
	}}
	driver := newDriver(test, store, notifier, func() time.Time { return at(9, 50) }, booking.DefaultLifecyclePolicy(), Config{})

	report, err := driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Equal(test, 0, report.Stale)
	assert.Equal(test, 1, report.Notified)
	stored, err := store.GetReservation(context.Background(), reservation.ID)
	require.NoError(test, err)
	assert.True(test, stored.Activated)
	assert.True(test, stored.NotifiedStart)
	assert.Equal(test, int64(3), stored.Version)

	_, err = driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Len(test, notifier.messages(), 1)
}

func TestTickSkipsReservationsMovedDuringDelivery(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	reservation := seedReservation(test, store, "alice", 10, 11)
	notifier := &recordingNotifier{respond: func(booking.HolderID, booking.Message) error {
		current, err := store.GetReservation(context.Background(), reservation.ID)
		if err != nil {
			return err
		}
		moved, err := booking.NewSlot(current.Slot.Date, 12*3600, 13*3600)
		if err != nil {
			return err
		}
		current.Slot = moved
		return store.UpdateReservation(context.Background(), current)
	}}
	driver := newDriver(test, store, notifier, func() time.Time { return at(9, 50) }, booking.DefaultLifecyclePolicy(), Config{})

	report, err := driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Equal(test, 1, report.Stale)
	stored, err := store.GetReservation(context.Background(), reservation.ID)
	require.NoError(test, err)
	assert.Equal(test, 12*3600, stored.Slot.Interval.Start())
	assert.False(test, stored.NotifiedStart)
	assert.Equal(test, int64(2), stored.Version)
}

func TestTickBoundsSlowAndPanickingNotifiers(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	seedReservation(test, store, "alice", 10, 11)
	seedReservation(test, store, "bob", 10, 11)
	release := make(chan struct{})
	defer close(release)
	notifier := &recordingNotifier{respond: func(holderID booking.HolderID, _ booking.Message) error {
		if holderID.String() == "alice" {
			<-release
			return nil
		}
		panic("sink exploded")
	}}
	driver := newDriver(test, store, notifier, func() time.Time { return at(9, 50) }, booking.DefaultLifecyclePolicy(), Config{NotifyTimeout: 20 * time.Millisecond})

	started := time.Now()
	report, err := driver.Tick(context.Background())
	require.NoError(test, err)
	assert.Less(test, time.Since(started), 2*time.Second)
	assert.Equal(test, 2, report.Failed)
	assert.Equal(test, 0, report.Notified)
}

func TestTickReturnsLoadErrors(test *testing.T) {
	test.Parallel()
	store := failingQueryStore{Store: memstore.New()}
	driver := newDriver(test, store, &recordingNotifier{}, func() time.Time { return at(9, 50) }, booking.DefaultLifecyclePolicy(), Config{})

	_, err := driver.Tick(context.Background())
	require.Error(test, err)
}

func TestStartRunsTicksUntilStop(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	reservation := seedReservation(test, store, "alice", 10, 11)
	notifier := &recordingNotifier{}
	core, logs := observer.New(zapcore.InfoLevel)
	lifecycle, err := booking.NewLifecycle(booking.DefaultLifecyclePolicy())
	require.NoError(test, err)
	driver, err := New(store, notifier, lifecycle, func() time.Time { return at(9, 50) }, zap.New(core), Config{Interval: 10 * time.Millisecond})
	require.NoError(test, err)

	require.NoError(test, driver.Start(context.Background()))
	require.ErrorIs(test, driver.Start(context.Background()), ErrAlreadyRunning)
	require.Eventually(test, func() bool {
		stored, err := store.GetReservation(context.Background(), reservation.ID)
		return err == nil && stored.NotifiedStart
	}, 2*time.Second, 10*time.Millisecond)
	driver.Stop()
	driver.Stop()

	assert.Len(test, notifier.messages(), 1)
	assert.NotZero(test, logs.FilterMessage("scheduler started").Len())
	assert.NotZero(test, logs.FilterMessage("scheduler stopped").Len())
}

func TestConfigValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	config := Config{}
	require.NoError(test, config.Validate())
	assert.Equal(test, DefaultInterval, config.Interval)
	assert.Equal(test, DefaultNotifyTimeout, config.NotifyTimeout)
	assert.Equal(test, DefaultWorkers, config.Workers)
	negative := Config{Workers: -1}
	require.Error(test, negative.Validate())
}
