package grpcserver

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldReservationID = "reservation_id"
	fieldResourceID    = "resource_id"
	fieldHolderID      = "holder_id"
	fieldDate          = "date"
	fieldFrom          = "from"
	fieldStartSecond   = "start_second"
	fieldEndSecond     = "end_second"
	fieldToken         = "token"
	fieldReservations  = "reservations"
	fieldResources     = "resources"
)

func stringField(request *structpb.Struct, name string) string {
	value, ok := request.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(value.GetStringValue())
}

func secondField(request *structpb.Struct, name string) (int, error) {
	value, ok := request.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", booking.ErrInvalidInterval, name)
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", booking.ErrInvalidInterval, name)
	}
	if number.NumberValue != math.Trunc(number.NumberValue) || math.IsInf(number.NumberValue, 0) {
		return 0, fmt.Errorf("%w: %s must be a whole number of seconds", booking.ErrInvalidInterval, name)
	}
	return int(number.NumberValue), nil
}

func intervalFields(request *structpb.Struct) (int, int, error) {
	startSecond, err := secondField(request, fieldStartSecond)
	if err != nil {
		return 0, 0, err
	}
	endSecond, err := secondField(request, fieldEndSecond)
	if err != nil {
		return 0, 0, err
	}
	return startSecond, endSecond, nil
}

func optionalHolderID(request *structpb.Struct) (booking.HolderID, error) {
	raw := stringField(request, fieldHolderID)
	if raw == "" {
		return booking.HolderID{}, nil
	}
	return booking.NewHolderID(raw)
}

func reservationFields(reservation booking.Reservation) map[string]any {
	return map[string]any{
		fieldReservationID: reservation.ID.String(),
		fieldResourceID:    reservation.ResourceID.String(),
		fieldHolderID:      reservation.HolderID.String(),
		fieldDate:          reservation.Slot.Date.String(),
		fieldStartSecond:   reservation.Slot.Interval.Start(),
		fieldEndSecond:     reservation.Slot.Interval.End(),
		"activated":        reservation.Activated,
		"notified_start":   reservation.NotifiedStart,
		"notified_end":     reservation.NotifiedEnd,
		"version":          reservation.Version,
		"created_at":       reservation.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func reservationResponse(reservation booking.Reservation) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(reservationFields(reservation))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return response, nil
}

func reservationsResponse(reservations []booking.Reservation) (*structpb.Struct, error) {
	items := make([]any, 0, len(reservations))
	for _, reservation := range reservations {
		items = append(items, reservationFields(reservation))
	}
	response, err := structpb.NewStruct(map[string]any{fieldReservations: items})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return response, nil
}

func availabilityResponse(view []booking.ResourceAvailability) (*structpb.Struct, error) {
	items := make([]any, 0, len(view))
	for _, entry := range view {
		items = append(items, map[string]any{
			fieldResourceID: entry.Resource.ID().String(),
			"name":          entry.Resource.Name(),
			"capacity":      entry.Resource.Capacity(),
			"type":          entry.Resource.Type().String(),
			"access_level":  entry.Resource.AccessLevel().String(),
			"available":     entry.Available,
		})
	}
	response, err := structpb.NewStruct(map[string]any{fieldResources: items})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return response, nil
}

func usageFields(usage booking.Usage) map[string]any {
	return map[string]any{
		"bookings":                 usage.Bookings,
		"visits":                   usage.Visits,
		"average_duration_seconds": int64(usage.AverageDuration / time.Second),
		"conversion_rate":          usage.ConversionRate,
	}
}

func statisticsResponse(stats booking.Statistics) (*structpb.Struct, error) {
	holders := make([]any, 0, len(stats.Holders))
	for _, entry := range stats.Holders {
		resources := make([]any, 0, len(entry.Resources))
		for _, count := range entry.Resources {
			resources = append(resources, map[string]any{
				fieldResourceID: count.ResourceID.String(),
				"name":          count.ResourceName,
				"bookings":      count.Bookings,
			})
		}
		holders = append(holders, map[string]any{
			fieldHolderID:  entry.HolderID.String(),
			"usage":        usageFields(entry.Usage),
			fieldResources: resources,
		})
	}
	resources := make([]any, 0, len(stats.Resources))
	for _, entry := range stats.Resources {
		counts := make([]any, 0, len(entry.Holders))
		for _, count := range entry.Holders {
			counts = append(counts, map[string]any{
				fieldHolderID: count.HolderID.String(),
				"bookings":    count.Bookings,
			})
		}
		resources = append(resources, map[string]any{
			fieldResourceID: entry.ResourceID.String(),
			"name":          entry.ResourceName,
			"usage":         usageFields(entry.Usage),
			"holders":       counts,
		})
	}
	response, err := structpb.NewStruct(map[string]any{
		"total":        usageFields(stats.Total),
		"holders":      holders,
		fieldResources: resources,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return response, nil
}
