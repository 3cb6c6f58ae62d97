package schedule

// DefaultHour is assumed when a schedule has no start_time.
const DefaultHour = 9

// IsDue reports whether the schedule should fire at the given calendar date
// and wall-clock minute.
//
// It is pure and total: malformed or unknown frequency data yields false,
// never an error. Double-sending on bad data is worse than under-sending,
// so every ambiguous case resolves to "not due".
//
// The hour must match exactly, which makes the evaluator correct only when it
// is invoked at least once per clock hour. The tick trigger enforces that
// cadence.
//
// Checks run in order and short-circuit:
//
//  1. exception dates
//  2. lastRun == today (already fired today)
//  3. hour match
//  4. one-time: startDate == today
//  5. recurring: window + frequency arithmetic
func IsDue(s Schedule, today Date, at TimeOfDay) bool {
	if !s.Enabled {
		return false
	}
	for _, ex := range s.Exceptions {
		if ex == today {
			return false
		}
	}
	if s.LastRun != nil && *s.LastRun == today {
		return false
	}

	hour := DefaultHour
	if s.StartTime != nil {
		hour = s.StartTime.Hour
	}
	if hour != at.Hour {
		return false
	}

	switch s.Type {
	case TypeOneTime:
		return s.StartDate == today
	case TypeRecurring:
		return recurringDue(s, today)
	default:
		return false
	}
}

func recurringDue(s Schedule, today Date) bool {
	f := s.Frequency
	if f == nil || f.Interval <= 0 {
		return false
	}
	if today.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil && !s.EndDate.IsZero() && today.After(*s.EndDate) {
		return false
	}

	// Non-negative here: today >= startDate was checked above.
	days := s.StartDate.DaysUntil(today)

	switch f.Kind {
	case Daily:
		return days%f.Interval == 0
	case Weekly:
		weeks := days / 7
		return weeks%f.Interval == 0 && containsInt(f.DaysOfWeek, int(today.Weekday()))
	case Monthly:
		// Calendar month arithmetic, not elapsed-day division. A schedule
		// anchored on the 31st never matches a 30-day month.
		months := (today.Year-s.StartDate.Year)*12 + int(today.Month) - int(s.StartDate.Month)
		return months%f.Interval == 0 && containsInt(f.DaysOfMonth, today.Day)
	case Yearly:
		years := today.Year - s.StartDate.Year
		return years%f.Interval == 0 && containsInt(f.MonthsOfYear, int(today.Month)-1)
	default:
		return false
	}
}

// containsInt reports set membership. An empty set matches nothing:
// a weekly schedule without eligible weekdays is never due, not due daily.
func containsInt(vs []int, v int) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}
