package booking

import (
	"context"
	"sort"
)

// Store is the persistence contract used by Service and the scheduler.
// Reads inside WithTx observe the transaction; LockScopes serializes
// admissions that share a scope key until the transaction ends.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LockScopes(ctx context.Context, keys []ScopeKey) error

	InsertReservation(ctx context.Context, reservation Reservation) error
	// UpdateReservation writes every mutable field of reservation when the
	// stored version equals reservation.Version and increments the version.
	// A version mismatch yields ErrStaleReservation.
	UpdateReservation(ctx context.Context, reservation Reservation) error
	// DeleteReservation removes the reservation under the same version rule.
	DeleteReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error)
	QueryByResourceAndDate(ctx context.Context, resourceID ResourceID, date Date) ([]Reservation, error)
	QueryByHolderAndDate(ctx context.Context, holderID HolderID, date Date) ([]Reservation, error)
	QueryByHolder(ctx context.Context, holderID HolderID, from Date) ([]Reservation, error)
	// QueryOpen returns reservations dated within [from, through] that still
	// have an unset lifecycle flag.
	QueryOpen(ctx context.Context, from Date, through Date) ([]Reservation, error)

	GetResource(ctx context.Context, resourceID ResourceID) (Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
	SaveResource(ctx context.Context, resource Resource) error

	GetHolder(ctx context.Context, holderID HolderID) (Holder, error)
	SaveHolder(ctx context.Context, holder Holder) error

	// TallyReservations aggregates stored reservations per holder and
	// resource pair.
	TallyReservations(ctx context.Context) ([]ReservationTally, error)
}

// ReservationTally counts the reservations of one holder on one resource.
// Visits are activated reservations; TotalSeconds sums interval lengths.
type ReservationTally struct {
	HolderID     HolderID
	ResourceID   ResourceID
	Bookings     int
	Visits       int
	TotalSeconds int64
}

// NotificationKind enumerates lifecycle notifications.
type NotificationKind string

const (
	NotificationStartsSoon NotificationKind = "starts_soon"
	NotificationEndsSoon   NotificationKind = "ends_soon"
	NotificationExpired    NotificationKind = "expired"
)

// Message is a notification addressed to a holder.
type Message struct {
	Kind          NotificationKind
	ReservationID ReservationID
	ResourceID    ResourceID
	ResourceName  string
	Slot          Slot
	Text          string
}

// Notifier delivers messages to holders. Implementations return an error
// matching ErrRecipientUnreachable when the holder has no address.
type Notifier interface {
	Notify(ctx context.Context, holderID HolderID, message Message) error
}

// TokenVerifier checks an activation token against the holder's current token.
type TokenVerifier interface {
	VerifyActivationToken(ctx context.Context, holderID HolderID, token string) (bool, error)
}

// ScopeKey names one exclusivity scope on one date.
type ScopeKey string

// ResourceScopeKey returns the lock key of a resource on a date.
func ResourceScopeKey(resourceID ResourceID, date Date) ScopeKey {
	return ScopeKey("resource:" + resourceID.String() + ":" + date.String())
}

// HolderScopeKey returns the lock key of a holder on a date.
func HolderScopeKey(holderID HolderID, date Date) ScopeKey {
	return ScopeKey("holder:" + holderID.String() + ":" + date.String())
}

// admissionKeys returns the sorted, de-duplicated scope keys of reservations.
func admissionKeys(reservations ...Reservation) []ScopeKey {
	seen := make(map[ScopeKey]struct{}, len(reservations)*2)
	keys := make([]ScopeKey, 0, len(reservations)*2)
	for _, reservation := range reservations {
		for _, key := range []ScopeKey{
			ResourceScopeKey(reservation.ResourceID, reservation.Slot.Date),
			HolderScopeKey(reservation.HolderID, reservation.Slot.Date),
		} {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(left, right int) bool { return keys[left] < keys[right] })
	return keys
}
