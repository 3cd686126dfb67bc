package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without a time zone.
type Date struct {
	year  int
	month time.Month
	day   int
}

// NewDate parses a YYYY-MM-DD calendar date.
func NewDate(raw string) (Date, error) {
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return dateFromTime(parsed), nil
}

// DateOf returns the calendar day of instant as observed in location.
func DateOf(instant time.Time, location *time.Location) Date {
	return dateFromTime(instant.In(location))
}

func dateFromTime(value time.Time) Date {
	year, month, day := value.Date()
	return Date{year: year, month: month, day: day}
}

// String formats the date as YYYY-MM-DD.
func (date Date) String() string {
	if date.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", date.year, int(date.month), date.day)
}

// IsZero reports whether the date is unset.
func (date Date) IsZero() bool {
	return date.year == 0 && date.month == 0 && date.day == 0
}

// At returns the instant second seconds after midnight of date in location.
func (date Date) At(second int, location *time.Location) time.Time {
	return time.Date(date.year, date.month, date.day, 0, 0, second, 0, location)
}

// AddDays shifts the date by days calendar days.
func (date Date) AddDays(days int) Date {
	return dateFromTime(time.Date(date.year, date.month, date.day+days, 0, 0, 0, 0, time.UTC))
}

// Before reports whether date falls strictly before other.
func (date Date) Before(other Date) bool {
	if date.year != other.year {
		return date.year < other.year
	}
	if date.month != other.month {
		return date.month < other.month
	}
	return date.day < other.day
}

// SecondOfDay returns the seconds elapsed since local midnight of instant in location.
func SecondOfDay(instant time.Time, location *time.Location) int {
	local := instant.In(location)
	return local.Hour()*3600 + local.Minute()*60 + local.Second()
}

// ParseSecondOfDay accepts "HH:MM", "HH:MM:SS" or a plain number of seconds
// and returns the seconds after midnight. Range checks are left to NewInterval.
func ParseSecondOfDay(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty time of day", ErrInvalidInterval)
	}
	if !strings.Contains(trimmed, ":") {
		seconds, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
		}
		return seconds, nil
	}
	parts := strings.Split(trimmed, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
	limits := []int{23, 59, 59}
	weights := []int{3600, 60, 1}
	total := 0
	for index, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 || value > limits[index] {
			return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
		}
		total += value * weights[index]
	}
	return total, nil
}
