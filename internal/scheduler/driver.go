// Package scheduler runs the periodic lifecycle sweep over open reservations.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is the tick period.
	DefaultInterval = time.Minute
	// DefaultNotifyTimeout bounds one notification delivery.
	DefaultNotifyTimeout = 10 * time.Second
	// DefaultWorkers bounds concurrent deliveries within a tick.
	DefaultWorkers = 8
)

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Config tunes the driver loop.
type Config struct {
	Interval      time.Duration
	NotifyTimeout time.Duration
	Workers       int
}

// Validate applies defaults and rejects negative values.
func (config *Config) Validate() error {
	if config.Interval < 0 || config.NotifyTimeout < 0 || config.Workers < 0 {
		return fmt.Errorf("scheduler config: negative value in %+v", *config)
	}
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.NotifyTimeout == 0 {
		config.NotifyTimeout = DefaultNotifyTimeout
	}
	if config.Workers == 0 {
		config.Workers = DefaultWorkers
	}
	return nil
}

// Report summarizes one tick.
type Report struct {
	Evaluated int
	Notified  int
	Failed    int
	Expired   int
	Stale     int
}

// Driver evaluates open reservations on every tick, delivers due
// notifications and persists the resulting flag changes.
type Driver struct {
	store     booking.Store
	notifier  booking.Notifier
	lifecycle *booking.Lifecycle
	now       func() time.Time
	logger    *zap.Logger
	config    Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New validates dependencies and returns a stopped Driver.
func New(store booking.Store, notifier booking.Notifier, lifecycle *booking.Lifecycle, now func() time.Time, logger *zap.Logger, config Config) (*Driver, error) {
	if store == nil {
		return nil, errors.New("scheduler: store is nil")
	}
	if notifier == nil {
		return nil, errors.New("scheduler: notifier is nil")
	}
	if lifecycle == nil {
		return nil, errors.New("scheduler: lifecycle is nil")
	}
	if now == nil {
		return nil, errors.New("scheduler: clock is nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		store:     store,
		notifier:  notifier,
		lifecycle: lifecycle,
		now:       now,
		logger:    logger.Named("scheduler"),
		config:    config,
	}, nil
}

// Start launches the loop. It returns immediately.
func (driver *Driver) Start(ctx context.Context) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if driver.running {
		return ErrAlreadyRunning
	}
	loopContext, cancel := context.WithCancel(ctx)
	driver.cancel = cancel
	driver.done = make(chan struct{})
	driver.running = true
	go driver.loop(loopContext, driver.done)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (driver *Driver) Stop() {
	driver.mu.Lock()
	if !driver.running {
		driver.mu.Unlock()
		return
	}
	cancel, done := driver.cancel, driver.done
	driver.running = false
	driver.mu.Unlock()
	cancel()
	<-done
}

func (driver *Driver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(driver.config.Interval)
	defer ticker.Stop()
	driver.logger.Info("scheduler started", zap.Duration("interval", driver.config.Interval))
	for {
		select {
		case <-ctx.Done():
			driver.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			report, err := driver.Tick(ctx)
			if err != nil {
				driver.logger.Error("scheduler tick failed", zap.Error(err))
				continue
			}
			if report.Notified+report.Failed+report.Expired+report.Stale > 0 {
				driver.logger.Info("scheduler tick",
					zap.Int("evaluated", report.Evaluated),
					zap.Int("notified", report.Notified),
					zap.Int("failed", report.Failed),
					zap.Int("expired", report.Expired),
					zap.Int("stale", report.Stale),
				)
			}
		}
	}
}

type delivery struct {
	index   int
	kind    booking.NotificationKind
	message booking.Message
	holder  booking.HolderID
	err     error
}

type pending struct {
	reservation booking.Reservation
	decision    booking.Decision
	outcome     booking.Outcome
}

// Tick runs one sweep. Per-reservation delivery failures are logged and
// counted; only failures to load or persist are returned.
func (driver *Driver) Tick(ctx context.Context) (Report, error) {
	now := driver.now()
	policy := driver.lifecycle.Policy()
	today := booking.DateOf(now, policy.Location)
	horizon := booking.DateOf(now.Add(policy.NotifyLead), policy.Location)
	open, err := driver.store.QueryOpen(ctx, today.AddDays(-1), horizon)
	if err != nil {
		return Report{}, fmt.Errorf("load open reservations: %w", err)
	}
	report := Report{Evaluated: len(open)}
	names := driver.resourceNames(ctx, open)

	var (
		due       []pending
		reminders []delivery
		expiring  []booking.Reservation
	)
	for _, reservation := range open {
		decision := driver.lifecycle.Evaluate(reservation, now)
		if decision.IsEmpty() {
			continue
		}
		if decision.Expire {
			expiring = append(expiring, reservation)
			continue
		}
		index := len(due)
		due = append(due, pending{reservation: reservation, decision: decision})
		if decision.NotifyStart {
			reminders = append(reminders, delivery{
				index:   index,
				kind:    booking.NotificationStartsSoon,
				holder:  reservation.HolderID,
				message: driver.lifecycle.Message(booking.NotificationStartsSoon, reservation, names[reservation.ResourceID]),
			})
		}
		if decision.NotifyEnd {
			reminders = append(reminders, delivery{
				index:   index,
				kind:    booking.NotificationEndsSoon,
				holder:  reservation.HolderID,
				message: driver.lifecycle.Message(booking.NotificationEndsSoon, reservation, names[reservation.ResourceID]),
			})
		}
	}

	driver.dispatch(ctx, reminders)
	for _, result := range reminders {
		delivered := driver.delivered(result)
		if !delivered {
			report.Failed++
			continue
		}
		report.Notified++
		switch result.kind {
		case booking.NotificationStartsSoon:
			due[result.index].outcome.StartDelivered = true
		case booking.NotificationEndsSoon:
			due[result.index].outcome.EndDelivered = true
		}
	}

	var deleted []booking.Reservation
	err = driver.store.WithTx(ctx, func(ctx context.Context, txStore booking.Store) error {
		deleted = deleted[:0]
		stale := 0
		for _, item := range due {
			next, changed := driver.lifecycle.Apply(item.reservation, item.decision, item.outcome)
			if !changed {
				continue
			}
			err := txStore.UpdateReservation(ctx, next)
			if errors.Is(err, booking.ErrStaleReservation) {
				err = driver.reapply(ctx, txStore, item)
			}
			if errors.Is(err, booking.ErrStaleReservation) || errors.Is(err, booking.ErrUnknownReservation) {
				driver.logStale(item.reservation, err)
				stale++
				continue
			}
			if err != nil {
				return fmt.Errorf("persist flags of %s: %w", item.reservation.ID, err)
			}
		}
		for _, reservation := range expiring {
			err := txStore.DeleteReservation(ctx, reservation)
			if errors.Is(err, booking.ErrStaleReservation) || errors.Is(err, booking.ErrUnknownReservation) {
				driver.logStale(reservation, err)
				stale++
				continue
			}
			if err != nil {
				return fmt.Errorf("expire %s: %w", reservation.ID, err)
			}
			deleted = append(deleted, reservation)
		}
		report.Stale = stale
		return nil
	})
	if err != nil {
		return report, err
	}
	report.Expired = len(deleted)

	notices := make([]delivery, 0, len(deleted))
	for index, reservation := range deleted {
		driver.logger.Info("reservation expired",
			zap.String("reservation_id", reservation.ID.String()),
			zap.String("holder_id", reservation.HolderID.String()),
			zap.String("resource_id", reservation.ResourceID.String()),
		)
		notices = append(notices, delivery{
			index:   index,
			kind:    booking.NotificationExpired,
			holder:  reservation.HolderID,
			message: driver.lifecycle.Message(booking.NotificationExpired, reservation, names[reservation.ResourceID]),
		})
	}
	driver.dispatch(ctx, notices)
	for _, notice := range notices {
		driver.delivered(notice)
	}
	return report, nil
}

// delivered reports whether the flag for result may be set. Holders
// without an address count as delivered since no retry can reach them.
func (driver *Driver) delivered(result delivery) bool {
	if result.err == nil {
		return true
	}
	fields := []zap.Field{
		zap.String("reservation_id", result.message.ReservationID.String()),
		zap.String("holder_id", result.holder.String()),
		zap.String("kind", string(result.kind)),
		zap.Error(result.err),
	}
	if errors.Is(result.err, booking.ErrRecipientUnreachable) {
		driver.logger.Info("notification recipient unreachable", fields...)
		return true
	}
	driver.logger.Warn("notification delivery failed", fields...)
	return false
}

// reapply merges delivered flags into the stored row after a concurrent
// write. The delivered reminders describe the slot that was read, so a
// row whose slot, resource or holder moved stays stale.
func (driver *Driver) reapply(ctx context.Context, txStore booking.Store, item pending) error {
	current, err := txStore.GetReservation(ctx, item.reservation.ID)
	if err != nil {
		return err
	}
	if current.Slot != item.reservation.Slot || current.ResourceID != item.reservation.ResourceID || current.HolderID != item.reservation.HolderID {
		return fmt.Errorf("%w: reservation moved during delivery", booking.ErrStaleReservation)
	}
	next, changed := driver.lifecycle.Apply(current, item.decision, item.outcome)
	if !changed {
		return nil
	}
	return txStore.UpdateReservation(ctx, next)
}

func (driver *Driver) logStale(reservation booking.Reservation, err error) {
	driver.logger.Info("stale reservation skipped",
		zap.String("reservation_id", reservation.ID.String()),
		zap.Int64("version", reservation.Version),
		zap.Error(err),
	)
}

func (driver *Driver) dispatch(ctx context.Context, deliveries []delivery) {
	if len(deliveries) == 0 {
		return
	}
	slots := make(chan struct{}, driver.config.Workers)
	var waitGroup sync.WaitGroup
	for index := range deliveries {
		waitGroup.Add(1)
		slots <- struct{}{}
		go func(item *delivery) {
			defer waitGroup.Done()
			defer func() { <-slots }()
			item.err = driver.notifyWithTimeout(ctx, item.holder, item.message)
		}(&deliveries[index])
	}
	waitGroup.Wait()
}

func (driver *Driver) notifyWithTimeout(ctx context.Context, holderID booking.HolderID, message booking.Message) error {
	notifyContext, cancel := context.WithTimeout(ctx, driver.config.NotifyTimeout)
	defer cancel()
	result := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				result <- fmt.Errorf("%w: notifier panic: %v", booking.ErrDeliveryFailure, recovered)
			}
		}()
		result <- driver.notifier.Notify(notifyContext, holderID, message)
	}()
	select {
	case err := <-result:
		return err
	case <-notifyContext.Done():
		return fmt.Errorf("%w: %w", booking.ErrDeliveryFailure, notifyContext.Err())
	}
}

func (driver *Driver) resourceNames(ctx context.Context, reservations []booking.Reservation) map[booking.ResourceID]string {
	names := make(map[booking.ResourceID]string)
	for _, reservation := range reservations {
		if _, seen := names[reservation.ResourceID]; seen {
			continue
		}
		resource, err := driver.store.GetResource(ctx, reservation.ResourceID)
		if err != nil {
			names[reservation.ResourceID] = ""
			continue
		}
		names[reservation.ResourceID] = resource.Name()
	}
	return names
}
