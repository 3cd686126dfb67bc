package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/internal/calendar"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/gin-gonic/gin"
)

// clockField accepts either a JSON number of seconds or a "HH:MM[:SS]" string.
type clockField struct {
	raw string
}

func (field *clockField) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		field.raw = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}
	field.raw = text
	return nil
}

func (field clockField) isSet() bool {
	return strings.TrimSpace(field.raw) != ""
}

func (field clockField) seconds() (int, error) {
	return booking.ParseSecondOfDay(field.raw)
}

type reservationRequest struct {
	ResourceID string     `json:"resource_id"`
	HolderID   string     `json:"holder_id"`
	Date       string     `json:"date"`
	Start      clockField `json:"start"`
	End        clockField `json:"end"`
}

type reservationChangeRequest struct {
	ResourceID string     `json:"resource_id"`
	Date       string     `json:"date"`
	Start      clockField `json:"start"`
	End        clockField `json:"end"`
}

type resourceRequest struct {
	Name        string          `json:"name"`
	Capacity    int             `json:"capacity"`
	Type        string          `json:"type"`
	AccessLevel string          `json:"access_level"`
	Metadata    json.RawMessage `json:"metadata"`
}

type activationRequest struct {
	Token string `json:"token"`
}

type telegramRequest struct {
	ChatID int64 `json:"chat_id"`
}

type holderRequest struct {
	Role string `json:"role"`
}

type reservationPayload struct {
	ReservationID string `json:"reservation_id"`
	ResourceID    string `json:"resource_id"`
	HolderID      string `json:"holder_id"`
	Date          string `json:"date"`
	StartSecond   int    `json:"start_second"`
	EndSecond     int    `json:"end_second"`
	Activated     bool   `json:"activated"`
	NotifiedStart bool   `json:"notified_start"`
	NotifiedEnd   bool   `json:"notified_end"`
	Version       int64  `json:"version"`
	CreatedAt     string `json:"created_at"`
}

type resourcePayload struct {
	ResourceID  string          `json:"resource_id"`
	Name        string          `json:"name"`
	Capacity    int             `json:"capacity"`
	Type        string          `json:"type"`
	AccessLevel string          `json:"access_level"`
	Metadata    json.RawMessage `json:"metadata"`
	Available   *bool           `json:"available,omitempty"`
}

func newReservationPayload(reservation booking.Reservation) reservationPayload {
	return reservationPayload{
		ReservationID: reservation.ID.String(),
		ResourceID:    reservation.ResourceID.String(),
		HolderID:      reservation.HolderID.String(),
		Date:          reservation.Slot.Date.String(),
		StartSecond:   reservation.Slot.Interval.Start(),
		EndSecond:     reservation.Slot.Interval.End(),
		Activated:     reservation.Activated,
		NotifiedStart: reservation.NotifiedStart,
		NotifiedEnd:   reservation.NotifiedEnd,
		Version:       reservation.Version,
		CreatedAt:     reservation.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newReservationPayloads(reservations []booking.Reservation) []reservationPayload {
	payloads := make([]reservationPayload, 0, len(reservations))
	for _, reservation := range reservations {
		payloads = append(payloads, newReservationPayload(reservation))
	}
	return payloads
}

func newResourcePayload(resource booking.Resource) resourcePayload {
	return resourcePayload{
		ResourceID:  resource.ID().String(),
		Name:        resource.Name(),
		Capacity:    resource.Capacity(),
		Type:        resource.Type().String(),
		AccessLevel: resource.AccessLevel().String(),
		Metadata:    json.RawMessage(resource.Metadata().String()),
	}
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	claims := getClaims(ctx)
	ctx.JSON(http.StatusOK, gin.H{
		"holder_id": actor.HolderID.String(),
		"role":      actor.Role.String(),
		"email":     claims.GetUserEmail(),
		"display":   claims.GetUserDisplayName(),
		"expires":   claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleListResources(ctx *gin.Context) {
	if _, ok := handler.resolveActor(ctx); !ok {
		return
	}
	resources, err := handler.service.ListResources(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]resourcePayload, 0, len(resources))
	for _, resource := range resources {
		payloads = append(payloads, newResourcePayload(resource))
	}
	ctx.JSON(http.StatusOK, gin.H{"resources": payloads})
}

func (handler *httpHandler) handlePutResource(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	var request resourceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, messageExpectedJSON))
		return
	}
	resource, err := buildResource(ctx.Param("id"), request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.service.PutResource(ctx.Request.Context(), actor, resource); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"resource": newResourcePayload(resource)})
}

func buildResource(rawID string, request resourceRequest) (booking.Resource, error) {
	resourceID, err := booking.NewResourceID(rawID)
	if err != nil {
		return booking.Resource{}, err
	}
	resourceType, err := booking.ParseResourceType(request.Type)
	if err != nil {
		return booking.Resource{}, err
	}
	accessLevel, err := booking.ParseAccessLevel(request.AccessLevel)
	if err != nil {
		return booking.Resource{}, err
	}
	metadata, err := booking.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		return booking.Resource{}, err
	}
	return booking.NewResource(resourceID, request.Name, request.Capacity, resourceType, accessLevel, metadata)
}

func (handler *httpHandler) handleAvailability(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	query, err := availabilityQuery(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	view, err := handler.service.Availability(ctx.Request.Context(), query, actor.Role)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]resourcePayload, 0, len(view))
	for _, entry := range view {
		payload := newResourcePayload(entry.Resource)
		available := entry.Available
		payload.Available = &available
		payloads = append(payloads, payload)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"date":      query.Date.String(),
		"start":     query.StartSecond,
		"end":       query.EndSecond,
		"resources": payloads,
	})
}

func availabilityQuery(ctx *gin.Context) (booking.AvailabilityQuery, error) {
	date, err := booking.NewDate(ctx.Query("date"))
	if err != nil {
		return booking.AvailabilityQuery{}, err
	}
	startSecond, err := booking.ParseSecondOfDay(ctx.Query("start"))
	if err != nil {
		return booking.AvailabilityQuery{}, err
	}
	endSecond, err := booking.ParseSecondOfDay(ctx.Query("end"))
	if err != nil {
		return booking.AvailabilityQuery{}, err
	}
	return booking.AvailabilityQuery{Date: date, StartSecond: startSecond, EndSecond: endSecond}, nil
}

func (handler *httpHandler) handleCreateReservation(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	var request reservationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, messageExpectedJSON))
		return
	}
	bookingRequest, err := request.toBooking()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reservation, err := handler.service.CreateReservation(ctx.Request.Context(), actor, bookingRequest)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"reservation": newReservationPayload(reservation)})
}

func (request reservationRequest) toBooking() (booking.ReservationRequest, error) {
	resourceID, err := booking.NewResourceID(request.ResourceID)
	if err != nil {
		return booking.ReservationRequest{}, err
	}
	var holderID booking.HolderID
	if strings.TrimSpace(request.HolderID) != "" {
		holderID, err = booking.NewHolderID(request.HolderID)
		if err != nil {
			return booking.ReservationRequest{}, err
		}
	}
	date, err := booking.NewDate(request.Date)
	if err != nil {
		return booking.ReservationRequest{}, err
	}
	startSecond, err := request.Start.seconds()
	if err != nil {
		return booking.ReservationRequest{}, err
	}
	endSecond, err := request.End.seconds()
	if err != nil {
		return booking.ReservationRequest{}, err
	}
	return booking.ReservationRequest{
		ResourceID:  resourceID,
		HolderID:    holderID,
		Date:        date,
		StartSecond: startSecond,
		EndSecond:   endSecond,
	}, nil
}

func (handler *httpHandler) handleListReservations(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	requestCtx := ctx.Request.Context()
	if rawResource := ctx.Query("resource_id"); rawResource != "" {
		resourceID, err := booking.NewResourceID(rawResource)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		date, err := booking.NewDate(ctx.Query("date"))
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		reservations, err := handler.service.ListResourceReservations(requestCtx, resourceID, date)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"reservations": newReservationPayloads(reservations)})
		return
	}
	holderID, err := handler.holderParam(ctx, actor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var from booking.Date
	if rawFrom := ctx.Query("from"); rawFrom != "" {
		from, err = booking.NewDate(rawFrom)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
	}
	reservations, err := handler.service.ListHolderReservations(requestCtx, actor, holderID, from)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservations": newReservationPayloads(reservations)})
}

// holderParam returns the holder_id query parameter, defaulting to the actor.
func (handler *httpHandler) holderParam(ctx *gin.Context, actor booking.Actor) (booking.HolderID, error) {
	raw := ctx.Query("holder_id")
	if raw == "" {
		return actor.HolderID, nil
	}
	return booking.NewHolderID(raw)
}

func (handler *httpHandler) handleCurrentReservation(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	holderID, err := handler.holderParam(ctx, actor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reservation, err := handler.service.CurrentReservation(ctx.Request.Context(), actor, holderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservation": newReservationPayload(reservation)})
}

func (handler *httpHandler) handleGetReservation(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reservation, err := handler.service.GetReservation(ctx.Request.Context(), actor, reservationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservation": newReservationPayload(reservation)})
}

func (handler *httpHandler) handleUpdateReservation(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request reservationChangeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, messageExpectedJSON))
		return
	}
	change, err := handler.reservationChange(ctx, actor, reservationID, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reservation, err := handler.service.UpdateReservation(ctx.Request.Context(), actor, reservationID, change)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservation": newReservationPayload(reservation)})
}

// reservationChange builds the change, keeping the current interval when the
// request omits start and end.
func (handler *httpHandler) reservationChange(ctx *gin.Context, actor booking.Actor, reservationID booking.ReservationID, request reservationChangeRequest) (booking.ReservationChange, error) {
	var change booking.ReservationChange
	var err error
	if strings.TrimSpace(request.ResourceID) != "" {
		if change.ResourceID, err = booking.NewResourceID(request.ResourceID); err != nil {
			return booking.ReservationChange{}, err
		}
	}
	if strings.TrimSpace(request.Date) != "" {
		if change.Date, err = booking.NewDate(request.Date); err != nil {
			return booking.ReservationChange{}, err
		}
	}
	if !request.Start.isSet() && !request.End.isSet() {
		current, err := handler.service.GetReservation(ctx.Request.Context(), actor, reservationID)
		if err != nil {
			return booking.ReservationChange{}, err
		}
		change.StartSecond = current.Slot.Interval.Start()
		change.EndSecond = current.Slot.Interval.End()
		return change, nil
	}
	if change.StartSecond, err = request.Start.seconds(); err != nil {
		return booking.ReservationChange{}, err
	}
	if change.EndSecond, err = request.End.seconds(); err != nil {
		return booking.ReservationChange{}, err
	}
	return change, nil
}

func (handler *httpHandler) handleCancelReservation(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.service.CancelReservation(ctx.Request.Context(), actor, reservationID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleActivate(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	token, ok := bindToken(ctx)
	if !ok {
		return
	}
	reservation, err := handler.service.Activate(ctx.Request.Context(), actor, reservationID, actor.HolderID, token)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservation": newReservationPayload(reservation)})
}

func (handler *httpHandler) handleActivateCurrent(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	token, ok := bindToken(ctx)
	if !ok {
		return
	}
	reservation, err := handler.service.ActivateCurrent(ctx.Request.Context(), actor, actor.HolderID, token)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservation": newReservationPayload(reservation)})
}

func bindToken(ctx *gin.Context) (string, bool) {
	var request activationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, messageExpectedJSON))
		return "", false
	}
	return request.Token, true
}

func (handler *httpHandler) handleRotateToken(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	token, err := handler.service.RotateActivationToken(ctx.Request.Context(), actor, actor.HolderID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"token": token})
}

func (handler *httpHandler) handleLinkTelegram(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	var request telegramRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, messageExpectedJSON))
		return
	}
	if err := handler.service.LinkNotificationAddress(ctx.Request.Context(), actor, actor.HolderID, request.ChatID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"holder_id": actor.HolderID.String(), "chat_id": request.ChatID})
}

func (handler *httpHandler) handlePutHolder(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	holderID, err := booking.NewHolderID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request holderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, messageExpectedJSON))
		return
	}
	role, err := booking.ParseRole(request.Role)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	holder, err := handler.service.PutHolder(ctx.Request.Context(), actor, holderID, role)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"holder_id": holder.ID.String(), "role": holder.Role.String()})
}

type usagePayload struct {
	Bookings               int     `json:"bookings"`
	Visits                 int     `json:"visits"`
	AverageDurationSeconds int     `json:"average_duration_seconds"`
	ConversionRate         float64 `json:"conversion_rate"`
}

type resourceCountPayload struct {
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	Bookings     int    `json:"bookings"`
}

type holderCountPayload struct {
	HolderID string `json:"holder_id"`
	Bookings int    `json:"bookings"`
}

type holderStatsPayload struct {
	HolderID  string                 `json:"holder_id"`
	Usage     usagePayload           `json:"usage"`
	Resources []resourceCountPayload `json:"resources"`
}

type resourceStatsPayload struct {
	ResourceID   string               `json:"resource_id"`
	ResourceName string               `json:"resource_name"`
	Usage        usagePayload         `json:"usage"`
	Holders      []holderCountPayload `json:"holders"`
}

func newUsagePayload(usage booking.Usage) usagePayload {
	return usagePayload{
		Bookings:               usage.Bookings,
		Visits:                 usage.Visits,
		AverageDurationSeconds: int(usage.AverageDuration / time.Second),
		ConversionRate:         usage.ConversionRate,
	}
}

func (handler *httpHandler) handleStatistics(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	statistics, err := handler.service.Statistics(ctx.Request.Context(), actor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	holders := make([]holderStatsPayload, 0, len(statistics.Holders))
	for _, holder := range statistics.Holders {
		resources := make([]resourceCountPayload, 0, len(holder.Resources))
		for _, count := range holder.Resources {
			resources = append(resources, resourceCountPayload{
				ResourceID:   count.ResourceID.String(),
				ResourceName: count.ResourceName,
				Bookings:     count.Bookings,
			})
		}
		holders = append(holders, holderStatsPayload{
			HolderID:  holder.HolderID.String(),
			Usage:     newUsagePayload(holder.Usage),
			Resources: resources,
		})
	}
	resources := make([]resourceStatsPayload, 0, len(statistics.Resources))
	for _, resource := range statistics.Resources {
		counts := make([]holderCountPayload, 0, len(resource.Holders))
		for _, count := range resource.Holders {
			counts = append(counts, holderCountPayload{HolderID: count.HolderID.String(), Bookings: count.Bookings})
		}
		resources = append(resources, resourceStatsPayload{
			ResourceID:   resource.ResourceID.String(),
			ResourceName: resource.ResourceName,
			Usage:        newUsagePayload(resource.Usage),
			Holders:      counts,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"total":     newUsagePayload(statistics.Total),
		"holders":   holders,
		"resources": resources,
	})
}

func (handler *httpHandler) handleReservationCalendar(ctx *gin.Context) {
	actor, ok := handler.resolveActor(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reservation, err := handler.service.GetReservation(ctx.Request.Context(), actor, reservationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	resource, err := handler.service.GetResource(ctx.Request.Context(), reservation.ResourceID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", calendar.FileName(reservation)))
	ctx.Data(http.StatusOK, calendar.ContentType, []byte(handler.calendar.Render(reservation, resource, handler.now())))
}
