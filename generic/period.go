package generic

// =============================================================================
// PERIOD - Administrative reporting/billing window
// =============================================================================

// Period bounds valid entry dates. Both ends are inclusive.
//
// Examples:
//   - Monthly period 2024-01: Jan 1 - Jan 31
//   - Four-week billing period: Jan 1 - Jan 28
type Period struct {
	ID    PeriodID
	Code  string
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Valid reports whether Start <= End.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.BeforeOrEqual(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// DaysInRange returns every calendar day in [from, to].
func DaysInRange(from, to TimePoint) []TimePoint {
	var days []TimePoint
	current := from
	for current.BeforeOrEqual(to) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// MonthlyPeriod builds the calendar-month period containing date.
func MonthlyPeriod(date TimePoint) Period {
	start := StartOfMonth(date.Year(), date.Month())
	return Period{
		ID:    PeriodID(start.Time.Format("2006-01")),
		Code:  start.Time.Format("2006-01"),
		Start: start,
		End:   EndOfMonth(date.Year(), date.Month()),
	}
}
