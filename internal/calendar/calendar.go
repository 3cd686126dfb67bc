// Package calendar renders reservations as iCalendar (RFC 5545) files.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	ics "github.com/arran4/golang-ical"
)

const (
	productID = "-//spacebook//reservations//EN"
	uidDomain = "spacebook"
)

// ContentType is the media type of rendered files.
const ContentType = "text/calendar; charset=utf-8"

// Exporter renders reservations dated in one location.
type Exporter struct {
	venue    string
	location *time.Location
}

// NewExporter returns an Exporter. venue becomes the event location and
// may be empty.
func NewExporter(venue string, location *time.Location) (*Exporter, error) {
	if location == nil {
		return nil, fmt.Errorf("calendar: location is nil")
	}
	return &Exporter{venue: strings.TrimSpace(venue), location: location}, nil
}

// Render returns a calendar holding one event for reservation.
func (exporter *Exporter) Render(reservation booking.Reservation, resource booking.Resource, stamp time.Time) string {
	calendar := ics.NewCalendar()
	calendar.SetMethod(ics.MethodPublish)
	calendar.SetProductId(productID)

	event := calendar.AddEvent(reservation.ID.String() + "@" + uidDomain)
	event.SetDtStampTime(stamp.UTC())
	if !reservation.CreatedAt.IsZero() {
		event.SetCreatedTime(reservation.CreatedAt.UTC())
	}
	event.SetStartAt(reservation.StartInstant(exporter.location).UTC())
	event.SetEndAt(reservation.EndInstant(exporter.location).UTC())
	event.SetSummary(fmt.Sprintf("Reservation: %s", resource.Name()))
	event.SetDescription(fmt.Sprintf("%s %s, capacity %d. Check in with your activation token within the grace period.",
		resource.Type(), resource.Name(), resource.Capacity()))
	if exporter.venue != "" {
		event.SetLocation(exporter.venue)
	}
	return calendar.Serialize()
}

// FileName returns the attachment name for reservation.
func FileName(reservation booking.Reservation) string {
	return fmt.Sprintf("reservation_%s.ics", reservation.Slot.Date)
}
