// Package schedule defines the message schedule model and the occurrence
// evaluator that decides whether a schedule is due at a given tick.
//
// # Model
//
// A Schedule is attached to one recipient group and is either one-time or
// recurring. Recurring schedules carry a Frequency, a tagged variant with one
// of four kinds (daily/weekly/monthly/yearly), each with a positive interval
// multiplier and, where applicable, a set of eligible weekdays, month days, or
// months. Exceptions list calendar dates that must never fire.
//
// Schedules come out of an untyped document store, so decoding is lenient:
// an unknown frequency kind survives decode and simply never evaluates as due.
// Validation (Validate) is for the write path only.
//
// # Dates and times
//
// The engine works on calendar dates (Date, no time component) and naive
// wall-clock minutes (TimeOfDay). One IANA timezone per deployment is applied
// by the orchestrator when it derives "today" and "now"; this package never
// touches time.Location.
package schedule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Type string

const (
	TypeOneTime   Type = "one-time"
	TypeRecurring Type = "recurring"
)

type FrequencyKind string

const (
	Daily   FrequencyKind = "daily"
	Weekly  FrequencyKind = "weekly"
	Monthly FrequencyKind = "monthly"
	Yearly  FrequencyKind = "yearly"
)

// Frequency is the recurrence rule of a recurring schedule.
//
// Interval is a period multiplier (every N days/weeks/months/years).
// The day/month sets use the store's conventions:
//   - DaysOfWeek: 0=Sunday .. 6=Saturday
//   - DaysOfMonth: 1..31 (no clamping; a day that doesn't exist in a month
//     simply never matches that month)
//   - MonthsOfYear: 0=January .. 11=December
type Frequency struct {
	Kind         FrequencyKind `json:"kind"`
	Interval     int           `json:"interval"`
	DaysOfWeek   []int         `json:"days_of_week,omitempty"`
	DaysOfMonth  []int         `json:"days_of_month,omitempty"`
	MonthsOfYear []int         `json:"months_of_year,omitempty"`
}

// Schedule is a user-defined rule describing when a message goes out to a group.
//
// LastRun/LastRunTime form the idempotency marker: once LastRun equals the
// current calendar date the schedule is ineligible for the rest of that date.
type Schedule struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	Message string `json:"message"`

	StartDate Date       `json:"start_date"`
	StartTime *TimeOfDay `json:"start_time,omitempty"`
	EndDate   *Date      `json:"end_date,omitempty"`

	Frequency *Frequency `json:"frequency,omitempty"`

	Exceptions []Date `json:"exceptions,omitempty"`

	Enabled bool `json:"enabled"`

	LastRun     *Date      `json:"last_run,omitempty"`
	LastRunTime *TimeOfDay `json:"last_run_time,omitempty"`
}

// Validate checks invariants enforced at the write boundary.
// The evaluator itself never relies on Validate having run (fail-closed).
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("schedule: id is required")
	}
	if s.StartDate.IsZero() {
		return fmt.Errorf("schedule %s: start_date is required", s.ID)
	}
	switch s.Type {
	case TypeOneTime:
		return nil
	case TypeRecurring:
		f := s.Frequency
		if f == nil {
			return fmt.Errorf("schedule %s: recurring schedule requires a frequency", s.ID)
		}
		if f.Interval <= 0 {
			return fmt.Errorf("schedule %s: frequency interval must be positive", s.ID)
		}
		switch f.Kind {
		case Daily:
			return nil
		case Weekly:
			return validateSet(s.ID, "days_of_week", f.DaysOfWeek, 0, 6)
		case Monthly:
			return validateSet(s.ID, "days_of_month", f.DaysOfMonth, 1, 31)
		case Yearly:
			return validateSet(s.ID, "months_of_year", f.MonthsOfYear, 0, 11)
		default:
			return fmt.Errorf("schedule %s: unknown frequency kind %q", s.ID, f.Kind)
		}
	default:
		return fmt.Errorf("schedule %s: unknown type %q", s.ID, s.Type)
	}
}

func validateSet(id, name string, vs []int, lo, hi int) error {
	if len(vs) == 0 {
		return fmt.Errorf("schedule %s: %s must not be empty", id, name)
	}
	for _, v := range vs {
		if v < lo || v > hi {
			return fmt.Errorf("schedule %s: %s value %d out of range [%d,%d]", id, name, v, lo, hi)
		}
	}
	return nil
}

// ---- Date ----

const dateLayout = "2006-01-02"

// Date is a calendar date with no time component.
// The zero value is "no date".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) After(o Date) bool { return o.Before(d) }

// DaysUntil returns the number of whole calendar days from d to o.
// Negative when o is before d.
func (d Date) DaysUntil(o Date) int {
	a := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	b := time.Date(o.Year, o.Month, o.Day, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ---- TimeOfDay ----

// TimeOfDay is a naive wall-clock hour:minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, err := parseHHMM(s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
