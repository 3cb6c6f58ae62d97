package schedule

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) Date { return Date{Year: y, Month: m, Day: d} }

func datePtr(y int, m time.Month, d int) *Date {
	v := date(y, m, d)
	return &v
}

func at(h, m int) TimeOfDay { return TimeOfDay{Hour: h, Minute: m} }

func timePtr(h, m int) *TimeOfDay {
	v := at(h, m)
	return &v
}

func TestIsDueOneTime(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "ot",
		Type:      TypeOneTime,
		Message:   "hi",
		StartDate: date(2026, time.March, 5),
		StartTime: timePtr(14, 0),
		Enabled:   true,
	}

	if !IsDue(s, date(2026, time.March, 5), at(14, 0)) {
		t.Fatal("expected due on the start date at the start hour")
	}
	if IsDue(s, date(2026, time.March, 5), at(13, 0)) {
		t.Fatal("wrong hour must not be due")
	}
	if IsDue(s, date(2026, time.March, 4), at(14, 0)) {
		t.Fatal("day before must not be due")
	}
	if IsDue(s, date(2026, time.March, 6), at(14, 0)) {
		t.Fatal("day after must not be due")
	}
}

func TestIsDueDefaultHour(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "noh",
		Type:      TypeOneTime,
		StartDate: date(2026, time.January, 10),
		Enabled:   true,
	}
	if !IsDue(s, date(2026, time.January, 10), at(DefaultHour, 30)) {
		t.Fatalf("schedule without start_time should fire at %02d:xx", DefaultHour)
	}
	if IsDue(s, date(2026, time.January, 10), at(DefaultHour+1, 0)) {
		t.Fatal("schedule without start_time must only fire at the default hour")
	}
}

func TestIsDueDisabledAndExceptions(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "ex",
		Type:      TypeRecurring,
		StartDate: date(2026, time.January, 1),
		StartTime: timePtr(9, 0),
		Frequency: &Frequency{Kind: Daily, Interval: 1},
		Enabled:   true,
	}

	if !IsDue(s, date(2026, time.January, 2), at(9, 0)) {
		t.Fatal("daily schedule should be due")
	}

	s.Exceptions = []Date{date(2026, time.January, 2)}
	if IsDue(s, date(2026, time.January, 2), at(9, 0)) {
		t.Fatal("exception date must beat every other rule")
	}
	if !IsDue(s, date(2026, time.January, 3), at(9, 0)) {
		t.Fatal("non-exception date should still be due")
	}

	s.Enabled = false
	if IsDue(s, date(2026, time.January, 3), at(9, 0)) {
		t.Fatal("disabled schedule must never be due")
	}
}

func TestIsDueLastRunGuard(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "lr",
		Type:      TypeRecurring,
		StartDate: date(2026, time.January, 1),
		StartTime: timePtr(9, 0),
		Frequency: &Frequency{Kind: Daily, Interval: 1},
		Enabled:   true,
		LastRun:   datePtr(2026, time.January, 5),
	}

	if IsDue(s, date(2026, time.January, 5), at(9, 0)) {
		t.Fatal("already fired today, must not be due again")
	}
	if !IsDue(s, date(2026, time.January, 6), at(9, 0)) {
		t.Fatal("next day should be due again")
	}
}

func TestIsDueDailyInterval(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "d3",
		Type:      TypeRecurring,
		StartDate: date(2026, time.January, 1),
		StartTime: timePtr(8, 0),
		Frequency: &Frequency{Kind: Daily, Interval: 3},
		Enabled:   true,
	}

	tests := []struct {
		day  int
		want bool
	}{
		{1, true}, {2, false}, {3, false}, {4, true}, {5, false}, {7, true}, {10, true},
	}
	for _, tt := range tests {
		got := IsDue(s, date(2026, time.January, tt.day), at(8, 0))
		if got != tt.want {
			t.Fatalf("Jan %d: due = %v, want %v", tt.day, got, tt.want)
		}
	}
}

func TestIsDueWeekly(t *testing.T) {
	t.Parallel()
	// 2026-01-05 is a Monday.
	s := Schedule{
		ID:        "w2",
		Type:      TypeRecurring,
		StartDate: date(2026, time.January, 5),
		StartTime: timePtr(9, 0),
		Frequency: &Frequency{Kind: Weekly, Interval: 2, DaysOfWeek: []int{1, 3}}, // Mon, Wed
		Enabled:   true,
	}

	tests := []struct {
		name string
		day  Date
		want bool
	}{
		{"anchor monday", date(2026, time.January, 5), true},
		{"same week wednesday", date(2026, time.January, 7), true},
		{"same week friday", date(2026, time.January, 9), false},
		{"off-week monday", date(2026, time.January, 12), false},
		{"off-week wednesday", date(2026, time.January, 14), false},
		{"on-week monday", date(2026, time.January, 19), true},
		{"on-week wednesday", date(2026, time.January, 21), true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDue(s, tt.day, at(9, 0)); got != tt.want {
				t.Fatalf("due = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsDueWeeklyEmptyDays(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "we",
		Type:      TypeRecurring,
		StartDate: date(2026, time.January, 5),
		StartTime: timePtr(9, 0),
		Frequency: &Frequency{Kind: Weekly, Interval: 1},
		Enabled:   true,
	}
	for d := 5; d <= 11; d++ {
		if IsDue(s, date(2026, time.January, d), at(9, 0)) {
			t.Fatalf("weekly schedule with no eligible weekdays fired on Jan %d", d)
		}
	}
}

func TestIsDueMonthly(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "m31",
		Type:      TypeRecurring,
		StartDate: date(2026, time.January, 31),
		StartTime: timePtr(9, 0),
		Frequency: &Frequency{Kind: Monthly, Interval: 1, DaysOfMonth: []int{31}},
		Enabled:   true,
	}

	if !IsDue(s, date(2026, time.January, 31), at(9, 0)) {
		t.Fatal("anchor day should be due")
	}
	// February has no 31st; the schedule silently skips the month.
	for d := 1; d <= 28; d++ {
		if IsDue(s, date(2026, time.February, d), at(9, 0)) {
			t.Fatalf("schedule on the 31st fired on Feb %d", d)
		}
	}
	if !IsDue(s, date(2026, time.March, 31), at(9, 0)) {
		t.Fatal("March 31st should be due")
	}
}

func TestIsDueMonthlyInterval(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "m2",
		Type:      TypeRecurring,
		StartDate: date(2026, time.January, 15),
		StartTime: timePtr(9, 0),
		Frequency: &Frequency{Kind: Monthly, Interval: 2, DaysOfMonth: []int{15}},
		Enabled:   true,
	}

	tests := []struct {
		month time.Month
		want  bool
	}{
		{time.January, true}, {time.February, false}, {time.March, true},
		{time.April, false}, {time.May, true},
	}
	for _, tt := range tests {
		if got := IsDue(s, date(2026, tt.month, 15), at(9, 0)); got != tt.want {
			t.Fatalf("%s 15: due = %v, want %v", tt.month, got, tt.want)
		}
	}
	// Interval counts calendar months across year boundaries.
	if IsDue(s, date(2027, time.February, 15), at(9, 0)) != false {
		t.Fatal("Feb 2027 is 13 months from anchor, must not be due")
	}
	if !IsDue(s, date(2027, time.January, 15), at(9, 0)) {
		t.Fatal("Jan 2027 is 12 months from anchor, should be due")
	}
}

func TestIsDueYearly(t *testing.T) {
	t.Parallel()
	s := Schedule{
		ID:        "y1",
		Type:      TypeRecurring,
		StartDate: date(2026, time.June, 1),
		StartTime: timePtr(9, 0),
		Frequency: &Frequency{Kind: Yearly, Interval: 1, MonthsOfYear: []int{5, 11}}, // Jun, Dec
		Enabled:   true,
	}

	if !IsDue(s, date(2026, time.June, 10), at(9, 0)) {
		t.Fatal("June should be due")
	}
	if !IsDue(s, date(2026, time.December, 1), at(9, 0)) {
		t.Fatal("December should be due")
	}
	if IsDue(s, date(2026, time.July, 1), at(9, 0)) {
		t.Fatal("July is not an eligible month")
	}

	s.Frequency.Interval = 2
	if IsDue(s, date(2027, time.June, 1), at(9, 0)) {
		t.Fatal("odd year offset with interval 2 must not be due")
	}
	if !IsDue(s, date(2028, time.June, 1), at(9, 0)) {
		t.Fatal("even year offset with interval 2 should be due")
	}
}

func TestIsDueWindow(t *testing.T) {
	t.Parallel()
	end := date(2026, time.January, 10)
	s := Schedule{
		ID:        "win",
		Type:      TypeRecurring,
		StartDate: date(2026, time.January, 5),
		StartTime: timePtr(9, 0),
		EndDate:   &end,
		Frequency: &Frequency{Kind: Daily, Interval: 1},
		Enabled:   true,
	}

	if IsDue(s, date(2026, time.January, 4), at(9, 0)) {
		t.Fatal("before start date must not be due")
	}
	if !IsDue(s, date(2026, time.January, 10), at(9, 0)) {
		t.Fatal("end date itself is inclusive")
	}
	if IsDue(s, date(2026, time.January, 11), at(9, 0)) {
		t.Fatal("after end date must not be due")
	}
}

func TestIsDueFailClosed(t *testing.T) {
	t.Parallel()
	today := date(2026, time.January, 5)

	tests := []struct {
		name string
		s    Schedule
	}{
		{"recurring without frequency", Schedule{
			ID: "a", Type: TypeRecurring, StartDate: date(2026, time.January, 1),
			StartTime: timePtr(9, 0), Enabled: true,
		}},
		{"zero interval", Schedule{
			ID: "b", Type: TypeRecurring, StartDate: date(2026, time.January, 1),
			StartTime: timePtr(9, 0), Frequency: &Frequency{Kind: Daily}, Enabled: true,
		}},
		{"negative interval", Schedule{
			ID: "c", Type: TypeRecurring, StartDate: date(2026, time.January, 1),
			StartTime: timePtr(9, 0), Frequency: &Frequency{Kind: Daily, Interval: -1}, Enabled: true,
		}},
		{"unknown frequency kind", Schedule{
			ID: "d", Type: TypeRecurring, StartDate: date(2026, time.January, 1),
			StartTime: timePtr(9, 0), Frequency: &Frequency{Kind: "fortnightly", Interval: 1}, Enabled: true,
		}},
		{"unknown schedule type", Schedule{
			ID: "e", Type: "cron", StartDate: date(2026, time.January, 5),
			StartTime: timePtr(9, 0), Enabled: true,
		}},
		{"out-of-range weekday set", Schedule{
			ID: "f", Type: TypeRecurring, StartDate: date(2026, time.January, 1),
			StartTime: timePtr(9, 0), Frequency: &Frequency{Kind: Weekly, Interval: 1, DaysOfWeek: []int{9}}, Enabled: true,
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if IsDue(tt.s, today, at(9, 0)) {
				t.Fatal("malformed schedule evaluated as due")
			}
		})
	}
}
