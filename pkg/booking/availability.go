package booking

import "context"

// AvailabilityQuery is the slot a caller wants to know about.
type AvailabilityQuery struct {
	Date        Date
	StartSecond int
	EndSecond   int
}

// ResourceAvailability pairs a resource with whether the query slot is free.
type ResourceAvailability struct {
	Resource  Resource
	Available bool
}

// Availability reports, in resource enumeration order, whether each resource
// is free for the query slot. Guests see non-public resources as unavailable
// without any reservation lookup.
func (service *Service) Availability(ctx context.Context, query AvailabilityQuery, role Role) ([]ResourceAvailability, error) {
	slot, err := NewSlot(query.Date, query.StartSecond, query.EndSecond)
	if err != nil {
		return nil, err
	}
	resources, err := service.store.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]ResourceAvailability, 0, len(resources))
	for _, resource := range resources {
		if !resource.UsableBy(role) {
			result = append(result, ResourceAvailability{Resource: resource, Available: false})
			continue
		}
		reservations, err := service.store.QueryByResourceAndDate(ctx, resource.ID(), slot.Date)
		if err != nil {
			return nil, err
		}
		result = append(result, ResourceAvailability{
			Resource:  resource,
			Available: !anyOverlaps(reservations, slot),
		})
	}
	return result, nil
}

func anyOverlaps(reservations []Reservation, slot Slot) bool {
	for _, reservation := range reservations {
		if Overlaps(reservation.Slot, slot) {
			return true
		}
	}
	return false
}
