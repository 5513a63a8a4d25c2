/*
Package generic provides the core types shared by the workflow engine,
the leave booking generator and the period aggregator.

PURPOSE:
  This package holds the domain kernel: the Entry record, its workflow
  status, the identifiers that reference catalog data, hour quantities,
  error kinds and the persistence contracts. It knows nothing about HTTP,
  SQL dialects or leave-type codes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: One worked-hours or leave record for one employee on one day
  - EntryStatus: DRAFT, SUBMITTED, APPROVED, REJECTED
  - Hours: decimal quantities (never float64)
  - Principal: the authenticated caller passed into every operation

DESIGN PRINCIPLES:
  1. Precision: hours use decimal.Decimal, sums are never rounded internally
  2. Type Safety: distinct ID types so an employee id can't be passed as a task id
  3. Explicit caller: every mutating call receives a Principal

SEE ALSO:
  - errors.go: Error kinds returned by every operation
  - store.go: Entry Store contract
  - time.go, period.go: Calendar primitives
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type EmployeeID string
type PeriodID string
type TaskID string
type ProjectID string
type TeamID string

// =============================================================================
// HOURS - Decimal quantities
// =============================================================================

// MaxHoursPerDay bounds a single entry and a leave booking's hours per day.
var MaxHoursPerDay = decimal.NewFromInt(24)

// ValidHours reports whether h is in (0, 24].
func ValidHours(h decimal.Decimal) bool {
	return h.IsPositive() && h.LessThanOrEqual(MaxHoursPerDay)
}

// HoursBetween derives worked hours from a start/end pair minus a break.
func HoursBetween(start, end time.Time, breakMinutes int) decimal.Decimal {
	minutes := int64(end.Sub(start)/time.Minute) - int64(breakMinutes)
	return decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60))
}

// SumHours adds the hours of all entries without rounding.
func SumHours(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Hours)
	}
	return total
}

// =============================================================================
// ENTRY STATUS
// =============================================================================

type EntryStatus string

const (
	StatusDraft     EntryStatus = "DRAFT"
	StatusSubmitted EntryStatus = "SUBMITTED"
	StatusApproved  EntryStatus = "APPROVED"
	StatusRejected  EntryStatus = "REJECTED"
)

func (s EntryStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ParseStatus accepts the canonical upper-case names.
func ParseStatus(s string) (EntryStatus, bool) {
	st := EntryStatus(s)
	return st, st.Valid()
}

// =============================================================================
// ENTRY - A single time-worked or leave record
// =============================================================================

// Entry is one time-worked or leave record for one employee on one day.
//
// Leave entries carry only Date. Worked-hours entries also carry Start/End
// and Hours is derived from them minus BreakMinutes.
type Entry struct {
	ID        EntryID
	OwnerID   EmployeeID
	PeriodID  PeriodID
	TaskID    TaskID
	ProjectID *ProjectID // nil for leave

	Date         TimePoint
	Start        *time.Time
	End          *time.Time
	BreakMinutes int

	Hours       decimal.Decimal
	Description string

	Status          EntryStatus
	SubmittedAt     *time.Time
	ReviewedAt      *time.Time
	ReviewedBy      *EmployeeID
	RejectionReason *string

	// Historical marks entries booked against a historical leave type
	// with explicit acknowledgement.
	Historical bool

	// Version is the optimistic concurrency token. Stores bump it on every
	// write and reject updates carrying a stale value.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnedBy reports whether p owns the entry.
func (e Entry) OwnedBy(p Principal) bool { return e.OwnerID == p.EmployeeID }

// =============================================================================
// PRINCIPAL - The authenticated caller
// =============================================================================

type Principal struct {
	EmployeeID EmployeeID
	Roles      []string
}

func (p Principal) IsZero() bool { return p.EmployeeID == "" }

// =============================================================================
// HELPERS
// =============================================================================

func StrPtr(s string) *string { return &s }

func TimePtr(t time.Time) *time.Time { return &t }
