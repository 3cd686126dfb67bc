package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorUnauthorized      = "unauthorized"
	errorInvalidPayload    = "invalid_payload"
	errorResourceConflict  = "resource_conflict"
	errorHolderConflict    = "holder_conflict"
	errorInternal          = "internal_error"
	contextKeyAuthClaims   = "auth_claims"
	messageMissingSession  = "missing session"
	messageExpectedJSON    = "expected JSON body"
	messageInternalFailure = "request failed"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is ordered: ErrInvalidToken must match before ErrForbidden.
var errorMappings = []errorMapping{
	{booking.ErrInvalidInterval, http.StatusBadRequest, "invalid_interval"},
	{booking.ErrInvalidDate, http.StatusBadRequest, "invalid_date"},
	{booking.ErrInvalidReservationID, http.StatusBadRequest, "invalid_reservation_id"},
	{booking.ErrInvalidResourceID, http.StatusBadRequest, "invalid_resource_id"},
	{booking.ErrInvalidHolderID, http.StatusBadRequest, "invalid_holder_id"},
	{booking.ErrInvalidRole, http.StatusBadRequest, "invalid_role"},
	{booking.ErrInvalidResourceName, http.StatusBadRequest, "invalid_resource"},
	{booking.ErrInvalidCapacity, http.StatusBadRequest, "invalid_resource"},
	{booking.ErrInvalidResourceType, http.StatusBadRequest, "invalid_resource"},
	{booking.ErrInvalidAccessLevel, http.StatusBadRequest, "invalid_resource"},
	{booking.ErrInvalidMetadataJSON, http.StatusBadRequest, "invalid_resource"},
	{booking.ErrReservationExists, http.StatusConflict, "reservation_exists"},
	{booking.ErrUnknownReservation, http.StatusNotFound, "unknown_reservation"},
	{booking.ErrUnknownResource, http.StatusNotFound, "unknown_resource"},
	{booking.ErrUnknownHolder, http.StatusNotFound, "unknown_holder"},
	{booking.ErrAlreadyStarted, http.StatusUnprocessableEntity, "already_started"},
	{booking.ErrStaleReservation, http.StatusConflict, "stale_reservation"},
	{booking.ErrInvalidToken, http.StatusForbidden, "invalid_token"},
	{booking.ErrForbidden, http.StatusForbidden, "forbidden"},
}

// respondError writes the JSON error envelope for a booking error.
func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, errorResponse(code, messageInternalFailure))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func classifyError(err error) (int, string) {
	if scope, ok := booking.ConflictScopeOf(err); ok {
		if scope == booking.ScopeHolder {
			return http.StatusConflict, errorHolderConflict
		}
		return http.StatusConflict, errorResourceConflict
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, errorInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
