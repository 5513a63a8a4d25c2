// Package timeoff books leave. A booking request over a date range is
// expanded into one DRAFT leave entry per eligible workday.
package timeoff

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/generic"
)

// BookingRequest is transient and never stored as such.
type BookingRequest struct {
	LeaveTypeID generic.TaskID
	StartDate   generic.TimePoint
	EndDate     generic.TimePoint
	HoursPerDay decimal.Decimal
	Description string

	// AcknowledgeHistorical allows booking a leave type that is no longer
	// offered. Created entries are flagged Historical.
	AcknowledgeHistorical bool
}

type WarningKind string

const (
	WarningDuplicate   WarningKind = "duplicate_booking"
	WarningHoliday     WarningKind = "public_holiday"
	WarningHistorical  WarningKind = "historical_leave_type"
	WarningNonStandard WarningKind = "non_standard_task"
)

// Warning is a non-fatal notice about a booking.
type Warning struct {
	Kind    WarningKind
	Date    *generic.TimePoint
	Message string
}

func (w Warning) String() string { return w.Message }

func duplicateWarning(date generic.TimePoint) Warning {
	return Warning{Kind: WarningDuplicate, Date: &date, Message: fmt.Sprintf("duplicate booking on %s", date)}
}

func holidayWarning(date generic.TimePoint) Warning {
	return Warning{Kind: WarningHoliday, Date: &date, Message: fmt.Sprintf("public holiday on %s", date)}
}

func historicalWarning(code string) Warning {
	return Warning{Kind: WarningHistorical, Message: fmt.Sprintf("historical leave type %s", code)}
}

func nonStandardWarning(code string) Warning {
	return Warning{Kind: WarningNonStandard, Message: fmt.Sprintf("task %s is not a standard leave task", code)}
}

// BookingResult lists what BookLeave created and what it skipped.
type BookingResult struct {
	Created      []generic.Entry
	CreatedCount int
	Warnings     []Warning
}

// WarningMessages flattens the warnings to their text.
func (r BookingResult) WarningMessages() []string {
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.Message
	}
	return out
}

// Booking is one leave entry as shown in the leave overview.
type Booking struct {
	Entry    generic.Entry
	Code     string
	Category catalog.Category
}

// LeaveOverview is the caller's leave in a window.
type LeaveOverview struct {
	From       generic.TimePoint
	To         generic.TimePoint
	Bookings   []Booking
	TotalHours decimal.Decimal
}
