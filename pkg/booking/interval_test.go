package booking

import (
	"errors"
	"testing"
	"time"
)

func TestNewIntervalValidatesBounds(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		start       int
		end         int
		expectError bool
	}{
		{name: "whole day", start: FirstSecondOfDay, end: LastSecondOfDay},
		{name: "one second", start: 100, end: 101},
		{name: "empty", start: 100, end: 100, expectError: true},
		{name: "reversed", start: 200, end: 100, expectError: true},
		{name: "negative start", start: -1, end: 100, expectError: true},
		{name: "end past last second", start: 0, end: 86400, expectError: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			interval, err := NewInterval(testCase.start, testCase.end)
			if testCase.expectError {
				if !errors.Is(err, ErrInvalidInterval) {
					test.Fatalf("expected ErrInvalidInterval, got %v", err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if interval.Start() != testCase.start || interval.End() != testCase.end {
				test.Fatalf("unexpected interval %+v", interval)
			}
		})
	}
}

func TestOverlapsIsHalfOpenAndSymmetric(test *testing.T) {
	test.Parallel()
	date := mustDate(test, "2025-03-10")
	otherDate := mustDate(test, "2025-03-11")
	testCases := []struct {
		name     string
		first    Slot
		second   Slot
		expected bool
	}{
		{name: "adjacent", first: mustSlot(test, date, 0, 100), second: mustSlot(test, date, 100, 200), expected: false},
		{name: "nested", first: mustSlot(test, date, 0, 1000), second: mustSlot(test, date, 100, 200), expected: true},
		{name: "partial", first: mustSlot(test, date, 0, 150), second: mustSlot(test, date, 100, 200), expected: true},
		{name: "identical", first: mustSlot(test, date, 100, 200), second: mustSlot(test, date, 100, 200), expected: true},
		{name: "disjoint", first: mustSlot(test, date, 0, 50), second: mustSlot(test, date, 60, 200), expected: false},
		{name: "different dates", first: mustSlot(test, date, 0, 1000), second: mustSlot(test, otherDate, 0, 1000), expected: false},
	}
	for _, testCase := range testCases {
		if got := Overlaps(testCase.first, testCase.second); got != testCase.expected {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, got)
		}
		if got := Overlaps(testCase.second, testCase.first); got != testCase.expected {
			test.Fatalf("%s reversed: expected %v, got %v", testCase.name, testCase.expected, got)
		}
	}
}

func TestNewSlotRequiresDate(test *testing.T) {
	test.Parallel()
	if _, err := NewSlot(Date{}, 0, 100); !errors.Is(err, ErrInvalidDate) {
		test.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestDateParsingAndArithmetic(test *testing.T) {
	test.Parallel()
	date := mustDate(test, "2024-02-28")
	if next := date.AddDays(1).String(); next != "2024-02-29" {
		test.Fatalf("expected leap day, got %s", next)
	}
	if previous := mustDate(test, "2025-01-01").AddDays(-1).String(); previous != "2024-12-31" {
		test.Fatalf("expected year rollover, got %s", previous)
	}
	if !date.Before(date.AddDays(1)) || date.AddDays(1).Before(date) || date.Before(date) {
		test.Fatalf("unexpected ordering")
	}
	if _, err := NewDate("2025-13-01"); !errors.Is(err, ErrInvalidDate) {
		test.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	location := time.FixedZone("UTC+3", 3*3600)
	instant := time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC)
	if local := DateOf(instant, location).String(); local != "2025-03-11" {
		test.Fatalf("expected local date 2025-03-11, got %s", local)
	}
	if second := SecondOfDay(instant, location); second != 1*3600+30*60 {
		test.Fatalf("unexpected second of day %d", second)
	}
	if at := mustDate(test, "2025-03-11").At(5400, location); !at.Equal(instant) {
		test.Fatalf("expected %s, got %s", instant, at)
	}
}

func TestParseSecondOfDay(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		raw         string
		expected    int
		expectError bool
	}{
		{raw: "09:30", expected: 9*3600 + 30*60},
		{raw: "23:59:59", expected: LastSecondOfDay},
		{raw: " 3600 ", expected: 3600},
		{raw: "00:00", expected: 0},
		{raw: "24:00", expectError: true},
		{raw: "9:75", expectError: true},
		{raw: "1:2:3:4", expectError: true},
		{raw: "noon", expectError: true},
		{raw: "", expectError: true},
	}
	for _, testCase := range testCases {
		second, err := ParseSecondOfDay(testCase.raw)
		if testCase.expectError {
			if !errors.Is(err, ErrInvalidInterval) {
				test.Fatalf("%q: expected ErrInvalidInterval, got %v", testCase.raw, err)
			}
			continue
		}
		if err != nil || second != testCase.expected {
			test.Fatalf("%q: expected %d, got %d (%v)", testCase.raw, testCase.expected, second, err)
		}
	}
}
