package booking

import (
	"fmt"
	"time"
)

// Phase is the lifecycle state of a reservation derived from its flags and the clock.
type Phase string

const (
	PhaseScheduled            Phase = "scheduled"
	PhaseNotifyPendingStart   Phase = "notify_pending_start"
	PhaseStartedUnnotifiedEnd Phase = "started_unnotified_end"
	PhaseEnded                Phase = "ended"
	PhaseActivated            Phase = "activated"
	PhaseExpired              Phase = "expired"
)

// LifecyclePolicy holds the timing rules of the lifecycle.
type LifecyclePolicy struct {
	NotifyLead    time.Duration
	ExpiryGrace   time.Duration
	ExpiryEnabled bool
	Location      *time.Location
}

// DefaultLifecyclePolicy returns 15 minute reminders, a 10 minute check-in
// grace period, expiry disabled and UTC.
func DefaultLifecyclePolicy() LifecyclePolicy {
	return LifecyclePolicy{
		NotifyLead:    DefaultNotifyLead,
		ExpiryGrace:   DefaultExpiryGrace,
		ExpiryEnabled: false,
		Location:      time.UTC,
	}
}

// Lifecycle evaluates timer transitions and is the only writer of the
// notification flags.
type Lifecycle struct {
	policy LifecyclePolicy
}

// NewLifecycle validates the policy.
func NewLifecycle(policy LifecyclePolicy) (*Lifecycle, error) {
	if policy.NotifyLead <= 0 {
		return nil, fmt.Errorf("%w: notify lead must be positive", ErrInvalidPolicy)
	}
	if policy.ExpiryGrace < 0 {
		return nil, fmt.Errorf("%w: expiry grace must not be negative", ErrInvalidPolicy)
	}
	if policy.Location == nil {
		return nil, fmt.Errorf("%w: location is nil", ErrInvalidPolicy)
	}
	return &Lifecycle{policy: policy}, nil
}

// Policy returns the timing rules in effect.
func (lifecycle *Lifecycle) Policy() LifecyclePolicy {
	return lifecycle.policy
}

// Decision lists the timer transitions due for one reservation.
type Decision struct {
	NotifyStart bool
	NotifyEnd   bool
	Expire      bool
}

// IsEmpty reports whether nothing is due.
func (decision Decision) IsEmpty() bool {
	return !decision.NotifyStart && !decision.NotifyEnd && !decision.Expire
}

// Outcome reports which notifications were delivered.
type Outcome struct {
	StartDelivered bool
	EndDelivered   bool
}

// Evaluate returns the transitions due at now. The three checks are
// independent of each other.
func (lifecycle *Lifecycle) Evaluate(reservation Reservation, now time.Time) Decision {
	start := reservation.StartInstant(lifecycle.policy.Location)
	end := reservation.EndInstant(lifecycle.policy.Location)
	lead := lifecycle.policy.NotifyLead
	return Decision{
		NotifyStart: !reservation.NotifiedStart && inWindow(now, start.Add(-lead), start),
		NotifyEnd:   !reservation.NotifiedEnd && inWindow(now, end.Add(-lead), end),
		Expire:      lifecycle.policy.ExpiryEnabled && !reservation.Activated && !now.Before(start.Add(lifecycle.policy.ExpiryGrace)),
	}
}

func inWindow(now time.Time, from time.Time, until time.Time) bool {
	return !now.Before(from) && now.Before(until)
}

// Phase derives the lifecycle phase at now.
func (lifecycle *Lifecycle) Phase(reservation Reservation, now time.Time) Phase {
	start := reservation.StartInstant(lifecycle.policy.Location)
	end := reservation.EndInstant(lifecycle.policy.Location)
	switch {
	case now.Before(start.Add(-lifecycle.policy.NotifyLead)):
		return PhaseScheduled
	case now.Before(start):
		return PhaseNotifyPendingStart
	case reservation.Activated:
		return PhaseActivated
	case lifecycle.policy.ExpiryEnabled && !now.Before(start.Add(lifecycle.policy.ExpiryGrace)):
		return PhaseExpired
	case now.Before(end):
		return PhaseStartedUnnotifiedEnd
	default:
		return PhaseEnded
	}
}

// Apply sets the flags of delivered notifications. It reports whether the
// reservation changed. Flags are never cleared.
func (lifecycle *Lifecycle) Apply(reservation Reservation, decision Decision, outcome Outcome) (Reservation, bool) {
	next := reservation
	if decision.NotifyStart && outcome.StartDelivered {
		next.NotifiedStart = true
	}
	if decision.NotifyEnd && outcome.EndDelivered {
		next.NotifiedEnd = true
	}
	changed := next.NotifiedStart != reservation.NotifiedStart || next.NotifiedEnd != reservation.NotifiedEnd
	return next, changed
}

// Message renders the notification of kind for reservation.
func (lifecycle *Lifecycle) Message(kind NotificationKind, reservation Reservation, resourceName string) Message {
	if resourceName == "" {
		resourceName = reservation.ResourceID.String()
	}
	startClock := formatClock(reservation.Slot.Interval.Start())
	endClock := formatClock(reservation.Slot.Interval.End())
	var text string
	switch kind {
	case NotificationStartsSoon:
		text = fmt.Sprintf("Your reservation of %s starts in %d minutes (%s-%s).", resourceName, minutes(lifecycle.policy.NotifyLead), startClock, endClock)
	case NotificationEndsSoon:
		text = fmt.Sprintf("Your reservation of %s ends in %d minutes (at %s).", resourceName, minutes(lifecycle.policy.NotifyLead), endClock)
	case NotificationExpired:
		text = fmt.Sprintf("Your reservation of %s on %s at %s was cancelled: no check-in within %d minutes of the start.", resourceName, reservation.Slot.Date, startClock, minutes(lifecycle.policy.ExpiryGrace))
	}
	return Message{
		Kind:          kind,
		ReservationID: reservation.ID,
		ResourceID:    reservation.ResourceID,
		ResourceName:  resourceName,
		Slot:          reservation.Slot,
		Text:          text,
	}
}

func formatClock(second int) string {
	return fmt.Sprintf("%02d:%02d", second/3600, (second%3600)/60)
}

func minutes(duration time.Duration) int {
	return int(duration / time.Minute)
}
