package recurrence

import "time"

// Schedule is the part of a template's recurring state that drives date arithmetic.
type Schedule struct {
	Frequency   Frequency
	SpecificDay int
	CustomDays  int
	NextRunAt   time.Time
}

// NextRun returns the run date that follows s.NextRunAt.
//
// The result is always strictly after s.NextRunAt. Unknown frequencies behave
// like MonthlyFirstDay.
func NextRun(s Schedule) time.Time {
	from := s.NextRunAt
	var next time.Time

	switch s.Frequency {
	case MonthlySpecificDay:
		next = dayOfNextMonth(from, s.SpecificDay)
	case Weekly:
		next = from.AddDate(0, 0, 7)
	case Quarterly:
		next = from.AddDate(0, 3, 0)
	case Yearly:
		next = from.AddDate(1, 0, 0)
	case CustomDays:
		days := s.CustomDays
		if days <= 0 {
			days = 1
		}
		next = from.AddDate(0, 0, days)
	default:
		next = dayOfNextMonth(from, 1)
	}

	if !next.After(from) {
		next = from.AddDate(0, 0, 1)
	}
	return next
}

// Upcoming returns the next n run dates after s.NextRunAt, in order.
func Upcoming(s Schedule, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		s.NextRunAt = NextRun(s)
		out = append(out, s.NextRunAt)
	}
	return out
}

// dayOfNextMonth moves t into the following calendar month and sets the day,
// clamping to the last day of that month. Time of day is preserved.
func dayOfNextMonth(t time.Time, day int) time.Time {
	if day <= 0 {
		day = 1
	}
	year, month, _ := t.Date()
	month++
	if last := daysIn(year, month, t.Location()); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the following month normalizes to the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
