/*
booking.go - Leave Booking Generator

PURPOSE:
  Expands a (leave type, date range, hours per day) request into one DRAFT
  leave entry per eligible workday of the caller.

FLOW:
  1. Validate hours, leave type and range (nothing written on failure)
  2. Walk the range inclusively; skip weekends and public holidays
  3. Resolve the period of every remaining day (fails if any is uncovered)
  4. In one store transaction: lock the owner, skip days already booked,
     insert the rest
  5. Publish leave.booked after commit

  A duplicate day never fails the request. It is skipped with a warning
  and the other days are still created.

SEE ALSO:
  - ledger.go: Day uniqueness per leave type
  - catalog/catalog.go: Workdays, leave types, periods
  - workflow/: Submits the drafts created here
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/events"
	"github.com/warp/clockd/generic"
	"go.uber.org/zap"
)

// Booker creates leave drafts.
type Booker struct {
	store     generic.TxStore
	catalog   catalog.Catalog
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Booker)

func WithLogger(l *zap.Logger) Option {
	return func(b *Booker) {
		if l != nil {
			b.logger = l.Named("timeoff.booker")
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(b *Booker) {
		if p != nil {
			b.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Booker) { b.now = now }
}

func NewBooker(store generic.TxStore, cat catalog.Catalog, opts ...Option) *Booker {
	b := &Booker{
		store:     store,
		catalog:   cat,
		publisher: events.Nop{},
		logger:    zap.L().Named("timeoff.booker"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// plannedDay is one eligible day with its resolved period.
type plannedDay struct {
	date   generic.TimePoint
	period generic.PeriodID
}

// BookLeave books req for the caller. See the file header for the flow.
func (b *Booker) BookLeave(ctx context.Context, p generic.Principal, req BookingRequest) (BookingResult, error) {
	if p.IsZero() {
		return BookingResult{}, generic.Forbidden("no authenticated principal")
	}
	emp, err := b.catalog.GetEmployee(ctx, p.EmployeeID)
	if err != nil {
		return BookingResult{}, err
	}
	if !emp.Active {
		return BookingResult{}, generic.Forbidden("employee %s is not active", emp.ID)
	}

	leaveType, warnings, err := b.validate(ctx, req)
	if err != nil {
		return BookingResult{}, err
	}

	days, skipped, err := b.plan(ctx, req.StartDate, req.EndDate)
	if err != nil {
		return BookingResult{}, err
	}
	warnings = append(warnings, skipped...)

	now := b.now().UTC()
	var created []generic.Entry
	var duplicates []Warning
	err = b.store.WithTx(ctx, func(s generic.EntryStore) error {
		created, duplicates = nil, nil
		if err := s.LockOwner(ctx, p.EmployeeID); err != nil {
			return err
		}
		ledger := NewLedger(s, b.catalog)
		for _, day := range days {
			booked, err := ledger.IsDayBooked(ctx, p.EmployeeID, day.date, req.LeaveTypeID)
			if err != nil {
				return fmt.Errorf("check %s: %w", day.date, err)
			}
			if booked {
				duplicates = append(duplicates, duplicateWarning(day.date))
				continue
			}
			saved, err := s.Insert(ctx, generic.Entry{
				OwnerID:     p.EmployeeID,
				PeriodID:    day.period,
				TaskID:      req.LeaveTypeID,
				Date:        day.date,
				Hours:       req.HoursPerDay,
				Description: req.Description,
				Status:      generic.StatusDraft,
				Historical:  leaveType.IsHistorical,
			})
			if err != nil {
				return fmt.Errorf("insert leave %s: %w", day.date, err)
			}
			if err := s.AppendAudit(ctx, generic.AuditEntry{
				EntryID:  saved.ID,
				ActorID:  p.EmployeeID,
				Action:   generic.AuditBooked,
				ToStatus: generic.StatusDraft,
				At:       now,
			}); err != nil {
				return err
			}
			created = append(created, saved)
		}
		return nil
	})
	if err != nil {
		return BookingResult{}, err
	}
	warnings = append(warnings, duplicates...)

	b.logger.Info("leave booked",
		zap.String("owner_id", string(p.EmployeeID)),
		zap.String("leave_type", leaveType.Code),
		zap.String("from", req.StartDate.String()),
		zap.String("to", req.EndDate.String()),
		zap.Int("created", len(created)),
		zap.Int("warnings", len(warnings)),
	)
	if len(created) > 0 {
		if err := b.publisher.Publish(ctx, events.Event{
			Type:     events.LeaveBooked,
			Actor:    p.EmployeeID,
			EntryIDs: events.IDsOf(created),
			Owners:   []generic.EmployeeID{p.EmployeeID},
			At:       now,
		}); err != nil {
			b.logger.Warn("publish event failed", zap.String("type", string(events.LeaveBooked)), zap.Error(err))
		}
	}

	return BookingResult{Created: created, CreatedCount: len(created), Warnings: warnings}, nil
}

// validate checks the request fields and the leave type. It returns the
// type-level warnings (historical, non-standard code).
func (b *Booker) validate(ctx context.Context, req BookingRequest) (catalog.LeaveType, []Warning, error) {
	if !generic.ValidHours(req.HoursPerDay) {
		return catalog.LeaveType{}, nil, generic.Validation("hours per day must be greater than 0 and at most 24, got %s", req.HoursPerDay)
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return catalog.LeaveType{}, nil, generic.Validation("start and end date are required")
	}
	if req.StartDate.After(req.EndDate) {
		return catalog.LeaveType{}, nil, generic.Validation("start date %s is after end date %s", req.StartDate, req.EndDate).
			WithDates(req.StartDate, req.EndDate)
	}

	leaveType, err := b.catalog.GetLeaveType(ctx, req.LeaveTypeID)
	if err != nil {
		if errors.Is(err, generic.ErrNotFound) {
			return catalog.LeaveType{}, nil, generic.Validation("leave type %s unknown", req.LeaveTypeID)
		}
		return catalog.LeaveType{}, nil, err
	}

	var warnings []Warning
	if leaveType.IsHistorical {
		if !req.AcknowledgeHistorical {
			return catalog.LeaveType{}, nil, generic.Validation("historical leave type")
		}
		warnings = append(warnings, historicalWarning(leaveType.Code))
	}
	if !leaveType.IsStandard() {
		warnings = append(warnings, nonStandardWarning(leaveType.Code))
	}
	return leaveType, warnings, nil
}

// plan lists the eligible days of [from, to] with their periods.
func (b *Booker) plan(ctx context.Context, from, to generic.TimePoint) ([]plannedDay, []Warning, error) {
	var (
		days      []plannedDay
		warnings  []Warning
		uncovered []generic.TimePoint
	)
	for _, date := range generic.DaysInRange(from, to) {
		if date.IsWeekend() {
			continue
		}
		workday, err := b.catalog.IsWorkday(ctx, date)
		if err != nil {
			return nil, nil, err
		}
		if !workday {
			warnings = append(warnings, holidayWarning(date))
			continue
		}
		period, err := b.catalog.PeriodFor(ctx, date)
		if err != nil {
			if errors.Is(err, generic.ErrNotFound) {
				uncovered = append(uncovered, date)
				continue
			}
			return nil, nil, err
		}
		days = append(days, plannedDay{date: date, period: period.ID})
	}

	if len(uncovered) > 0 {
		return nil, nil, generic.Validation("no period covers %d day(s)", len(uncovered)).WithDates(uncovered...)
	}
	if len(days) == 0 {
		return nil, nil, generic.Validation("no workdays in range").WithDates(from, to)
	}
	return days, warnings, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListLeaveTypes returns the bookable leave types.
func (b *Booker) ListLeaveTypes(ctx context.Context, includeHistorical bool) ([]catalog.LeaveType, error) {
	return b.catalog.ListLeaveTypes(ctx, includeHistorical)
}

// Overview returns the caller's leave bookings in [from, to] with their total.
func (b *Booker) Overview(ctx context.Context, p generic.Principal, from, to generic.TimePoint) (LeaveOverview, error) {
	if p.IsZero() {
		return LeaveOverview{}, generic.Forbidden("no authenticated principal")
	}
	if from.After(to) {
		return LeaveOverview{}, generic.Validation("from %s is after to %s", from, to).WithDates(from, to)
	}
	bookings, err := NewLedger(b.store, b.catalog).BookedDays(ctx, p.EmployeeID, from, to)
	if err != nil {
		return LeaveOverview{}, err
	}

	overview := LeaveOverview{From: from, To: to, Bookings: bookings, TotalHours: decimal.Zero}
	for _, bk := range bookings {
		overview.TotalHours = overview.TotalHours.Add(bk.Entry.Hours)
	}
	return overview, nil
}
