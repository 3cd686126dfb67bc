package booking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	minResourceCapacity = 1
	maxResourceCapacity = 1000
)

// ReservationID identifies a reservation.
type ReservationID struct {
	value string
}

// ResourceID identifies a bookable room or seat.
type ResourceID struct {
	value string
}

// HolderID identifies the person holding reservations.
type HolderID struct {
	value string
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

// GenerateReservationID returns a fresh random reservation id.
func GenerateReservationID() ReservationID {
	return ReservationID{value: uuid.NewString()}
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id ReservationID) IsZero() bool {
	return id.value == ""
}

// NewResourceID validates and normalizes a resource id.
func NewResourceID(raw string) (ResourceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ResourceID{}, fmt.Errorf("%w: empty value", ErrInvalidResourceID)
	}
	return ResourceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ResourceID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id ResourceID) IsZero() bool {
	return id.value == ""
}

// NewHolderID validates and normalizes a holder id.
func NewHolderID(raw string) (HolderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return HolderID{}, fmt.Errorf("%w: empty value", ErrInvalidHolderID)
	}
	return HolderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id HolderID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id HolderID) IsZero() bool {
	return id.value == ""
}

// Role is the already-authenticated role of a caller.
type Role string

const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleGuest:
		return RoleGuest, nil
	case RoleMember:
		return RoleMember, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// String returns the role name.
func (role Role) String() string {
	return string(role)
}

// AccessLevel controls which roles may use a resource.
type AccessLevel string

const (
	AccessPublic     AccessLevel = "public"
	AccessRestricted AccessLevel = "restricted"
)

// ParseAccessLevel validates an access level name.
func ParseAccessLevel(raw string) (AccessLevel, error) {
	switch AccessLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case AccessPublic:
		return AccessPublic, nil
	case AccessRestricted:
		return AccessRestricted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAccessLevel, raw)
	}
}

// String returns the access level name.
func (level AccessLevel) String() string {
	return string(level)
}

// ResourceType distinguishes rooms from seats.
type ResourceType string

const (
	ResourceRoom ResourceType = "room"
	ResourceSeat ResourceType = "seat"
)

// ParseResourceType validates a resource type name.
func ParseResourceType(raw string) (ResourceType, error) {
	switch ResourceType(strings.ToLower(strings.TrimSpace(raw))) {
	case ResourceRoom:
		return ResourceRoom, nil
	case ResourceSeat:
		return ResourceSeat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResourceType, raw)
	}
}

// String returns the resource type name.
func (resourceType ResourceType) String() string {
	return string(resourceType)
}

// MetadataJSON stores free-form resource attributes.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Resource is a bookable room or seat.
type Resource struct {
	id           ResourceID
	name         string
	capacity     int
	resourceType ResourceType
	accessLevel  AccessLevel
	metadata     MetadataJSON
}

// NewResource validates resource attributes.
func NewResource(id ResourceID, name string, capacity int, resourceType ResourceType, accessLevel AccessLevel, metadata MetadataJSON) (Resource, error) {
	if id.IsZero() {
		return Resource{}, fmt.Errorf("%w: empty value", ErrInvalidResourceID)
	}
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return Resource{}, fmt.Errorf("%w: empty value", ErrInvalidResourceName)
	}
	if capacity < minResourceCapacity || capacity > maxResourceCapacity {
		return Resource{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCapacity, capacity, minResourceCapacity, maxResourceCapacity)
	}
	if _, err := ParseResourceType(resourceType.String()); err != nil {
		return Resource{}, err
	}
	if _, err := ParseAccessLevel(accessLevel.String()); err != nil {
		return Resource{}, err
	}
	return Resource{
		id:           id,
		name:         trimmedName,
		capacity:     capacity,
		resourceType: resourceType,
		accessLevel:  accessLevel,
		metadata:     metadata,
	}, nil
}

func (resource Resource) ID() ResourceID { return resource.id }
func (resource Resource) Name() string { return resource.name }
func (resource Resource) Capacity() int { return resource.capacity }
func (resource Resource) Type() ResourceType { return resource.resourceType }
func (resource Resource) AccessLevel() AccessLevel { return resource.accessLevel }
func (resource Resource) Metadata() MetadataJSON { return resource.metadata }

// UsableBy reports whether the role may use the resource.
func (resource Resource) UsableBy(role Role) bool {
	if role == RoleGuest {
		return resource.accessLevel == AccessPublic
	}
	return true
}

// Holder is the persisted view of a person holding reservations.
type Holder struct {
	ID                  HolderID
	Role                Role
	TelegramChatID      int64
	ActivationTokenHash string
}

// HasNotificationAddress reports whether notifications can reach the holder.
func (holder Holder) HasNotificationAddress() bool {
	return holder.TelegramChatID != 0
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	HolderID HolderID
	Role     Role
}

// IsAdmin reports whether the actor holds the admin role.
func (actor Actor) IsAdmin() bool {
	return actor.Role == RoleAdmin
}

// Reservation is a holder's claim on a resource for one slot.
type Reservation struct {
	ID            ReservationID
	ResourceID    ResourceID
	HolderID      HolderID
	Slot          Slot
	Activated     bool
	NotifiedStart bool
	NotifiedEnd   bool
	Version       int64
	CreatedAt     time.Time
}

// StartInstant returns the wall-clock start of the reservation.
func (reservation Reservation) StartInstant(location *time.Location) time.Time {
	return reservation.Slot.Date.At(reservation.Slot.Interval.Start(), location)
}

// EndInstant returns the wall-clock end of the reservation.
func (reservation Reservation) EndInstant(location *time.Location) time.Time {
	return reservation.Slot.Date.At(reservation.Slot.Interval.End(), location)
}

// CanManage reports whether the actor may view, edit or cancel the reservation.
func CanManage(actor Actor, reservation Reservation) bool {
	if actor.IsAdmin() {
		return true
	}
	return !actor.HolderID.IsZero() && actor.HolderID == reservation.HolderID
}

// canActFor reports whether the actor may act on behalf of the holder.
func canActFor(actor Actor, holderID HolderID) bool {
	if actor.IsAdmin() {
		return true
	}
	return !actor.HolderID.IsZero() && actor.HolderID == holderID
}
