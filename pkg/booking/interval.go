package booking

import (
	"fmt"
	"time"
)

const (
	// FirstSecondOfDay is the smallest valid interval bound.
	FirstSecondOfDay = 0
	// LastSecondOfDay is the largest valid interval bound.
	LastSecondOfDay = 86399
)

// Interval is a half-open range [start, end) of seconds after midnight.
type Interval struct {
	start int
	end   int
}

// NewInterval validates bounds and returns the interval.
func NewInterval(startSecond int, endSecond int) (Interval, error) {
	if startSecond < FirstSecondOfDay || startSecond > LastSecondOfDay {
		return Interval{}, fmt.Errorf("%w: start %d outside [%d, %d]", ErrInvalidInterval, startSecond, FirstSecondOfDay, LastSecondOfDay)
	}
	if endSecond < FirstSecondOfDay || endSecond > LastSecondOfDay {
		return Interval{}, fmt.Errorf("%w: end %d outside [%d, %d]", ErrInvalidInterval, endSecond, FirstSecondOfDay, LastSecondOfDay)
	}
	if startSecond >= endSecond {
		return Interval{}, fmt.Errorf("%w: start %d not before end %d", ErrInvalidInterval, startSecond, endSecond)
	}
	return Interval{start: startSecond, end: endSecond}, nil
}

// Start returns the inclusive lower bound.
func (interval Interval) Start() int {
	return interval.start
}

// End returns the exclusive upper bound.
func (interval Interval) End() int {
	return interval.end
}

// Duration returns the interval length.
func (interval Interval) Duration() time.Duration {
	return time.Duration(interval.end-interval.start) * time.Second
}

// Contains reports whether second lies within the interval.
func (interval Interval) Contains(second int) bool {
	return interval.start <= second && second < interval.end
}

// Slot is an interval on a specific date.
type Slot struct {
	Date     Date
	Interval Interval
}

// NewSlot validates the bounds and returns a slot on date.
func NewSlot(date Date, startSecond int, endSecond int) (Slot, error) {
	if date.IsZero() {
		return Slot{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	interval, err := NewInterval(startSecond, endSecond)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Date: date, Interval: interval}, nil
}

// Overlaps reports whether two slots intersect. Slots on different dates
// never overlap and adjacent intervals such as [0,100) and [100,200) do not
// overlap either.
func Overlaps(first Slot, second Slot) bool {
	if first.Date != second.Date {
		return false
	}
	return first.Interval.start < second.Interval.end && second.Interval.start < first.Interval.end
}
