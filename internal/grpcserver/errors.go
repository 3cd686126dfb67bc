package grpcserver

import (
	"errors"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInvalidInterval      = "invalid_interval"
	errorInvalidDate          = "invalid_date"
	errorInvalidReservationID = "invalid_reservation_id"
	errorInvalidResourceID    = "invalid_resource_id"
	errorInvalidHolderID      = "invalid_holder_id"
	errorInvalidRole          = "invalid_role"
	errorInvalidResource      = "invalid_resource"
	errorResourceConflict     = "resource_conflict"
	errorHolderConflict       = "holder_conflict"
	errorReservationExists    = "reservation_exists"
	errorUnknownReservation   = "unknown_reservation"
	errorUnknownResource      = "unknown_resource"
	errorUnknownHolder        = "unknown_holder"
	errorAlreadyStarted       = "already_started"
	errorStaleReservation     = "stale_reservation"
	errorInvalidToken         = "invalid_token"
	errorForbidden            = "forbidden"
)

func mapToGRPCError(source error) error {
	if scope, ok := booking.ConflictScopeOf(source); ok {
		if scope == booking.ScopeHolder {
			return status.Error(codes.AlreadyExists, errorHolderConflict)
		}
		return status.Error(codes.AlreadyExists, errorResourceConflict)
	}
	if errors.Is(source, booking.ErrInvalidInterval) {
		return status.Error(codes.InvalidArgument, errorInvalidInterval)
	}
	if errors.Is(source, booking.ErrInvalidDate) {
		return status.Error(codes.InvalidArgument, errorInvalidDate)
	}
	if errors.Is(source, booking.ErrInvalidReservationID) {
		return status.Error(codes.InvalidArgument, errorInvalidReservationID)
	}
	if errors.Is(source, booking.ErrInvalidResourceID) {
		return status.Error(codes.InvalidArgument, errorInvalidResourceID)
	}
	if errors.Is(source, booking.ErrInvalidHolderID) {
		return status.Error(codes.InvalidArgument, errorInvalidHolderID)
	}
	if errors.Is(source, booking.ErrInvalidRole) {
		return status.Error(codes.InvalidArgument, errorInvalidRole)
	}
	if errors.Is(source, booking.ErrInvalidResourceName) ||
		errors.Is(source, booking.ErrInvalidCapacity) ||
		errors.Is(source, booking.ErrInvalidResourceType) ||
		errors.Is(source, booking.ErrInvalidAccessLevel) ||
		errors.Is(source, booking.ErrInvalidMetadataJSON) {
		return status.Error(codes.InvalidArgument, errorInvalidResource)
	}
	if errors.Is(source, booking.ErrReservationExists) {
		return status.Error(codes.AlreadyExists, errorReservationExists)
	}
	if errors.Is(source, booking.ErrUnknownReservation) {
		return status.Error(codes.NotFound, errorUnknownReservation)
	}
	if errors.Is(source, booking.ErrUnknownResource) {
		return status.Error(codes.NotFound, errorUnknownResource)
	}
	if errors.Is(source, booking.ErrUnknownHolder) {
		return status.Error(codes.NotFound, errorUnknownHolder)
	}
	if errors.Is(source, booking.ErrAlreadyStarted) {
		return status.Error(codes.FailedPrecondition, errorAlreadyStarted)
	}
	if errors.Is(source, booking.ErrStaleReservation) {
		return status.Error(codes.FailedPrecondition, errorStaleReservation)
	}
	if errors.Is(source, booking.ErrInvalidToken) {
		return status.Error(codes.PermissionDenied, errorInvalidToken)
	}
	if errors.Is(source, booking.ErrForbidden) {
		return status.Error(codes.PermissionDenied, errorForbidden)
	}
	return status.Error(codes.Internal, source.Error())
}
