package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clockd/generic"
	"go.uber.org/zap"
)

// DraftInput is the editable content of an entry.
//
// Worked-hours entries set Start/End (and optionally BreakMinutes); Hours
// is then derived and Date defaults to Start's day. Leave entries set
// Date and Hours directly.
type DraftInput struct {
	ID           *generic.EntryID
	PeriodID     generic.PeriodID
	TaskID       generic.TaskID
	ProjectID    *generic.ProjectID
	Date         generic.TimePoint
	Start        *time.Time
	End          *time.Time
	BreakMinutes int
	Hours        decimal.Decimal
	Description  string
}

type DraftResult struct {
	Entry    generic.Entry
	Warnings []string
}

// SaveDraft creates an entry in DRAFT, or updates the DRAFT entry in.ID.
func (e *Engine) SaveDraft(ctx context.Context, p generic.Principal, in DraftInput) (DraftResult, error) {
	if in.ID == nil {
		return e.createDraft(ctx, p, in)
	}
	return e.editEntry(ctx, p, *in.ID, in, generic.StatusDraft, generic.AuditUpdated)
}

// ReviseRejected edits a REJECTED entry in place ahead of resubmission.
// The entry stays REJECTED; its earlier rejection stays in the audit trail.
func (e *Engine) ReviseRejected(ctx context.Context, p generic.Principal, id generic.EntryID, in DraftInput) (DraftResult, error) {
	return e.editEntry(ctx, p, id, in, generic.StatusRejected, generic.AuditRevised)
}

func (e *Engine) createDraft(ctx context.Context, p generic.Principal, in DraftInput) (DraftResult, error) {
	content, err := e.validateDraft(ctx, p, in)
	if err != nil {
		return DraftResult{}, err
	}
	content.Status = generic.StatusDraft

	var result DraftResult
	err = e.store.WithTx(ctx, func(s generic.EntryStore) error {
		warnings, err := duplicateWarnings(ctx, s, content, "")
		if err != nil {
			return err
		}
		saved, err := s.Insert(ctx, content)
		if err != nil {
			return fmt.Errorf("insert draft: %w", err)
		}
		if err := s.AppendAudit(ctx, generic.AuditEntry{
			EntryID:  saved.ID,
			ActorID:  p.EmployeeID,
			Action:   generic.AuditCreated,
			ToStatus: generic.StatusDraft,
			At:       e.now().UTC(),
		}); err != nil {
			return err
		}
		result = DraftResult{Entry: saved, Warnings: warnings}
		return nil
	})
	if err != nil {
		return DraftResult{}, err
	}

	e.logger.Debug("draft created",
		zap.String("entry_id", string(result.Entry.ID)),
		zap.String("owner_id", string(p.EmployeeID)),
		zap.String("date", result.Entry.Date.String()),
	)
	return result, nil
}

// editEntry checks ownership and state before the content, so an entry
// that can't be edited reports that rather than a problem with the input.
// The check is repeated inside the transaction against the locked row.
func (e *Engine) editEntry(ctx context.Context, p generic.Principal, id generic.EntryID, in DraftInput, required generic.EntryStatus, action generic.AuditAction) (DraftResult, error) {
	if err := requirePrincipal(p); err != nil {
		return DraftResult{}, err
	}
	current, err := e.store.Get(ctx, id)
	if err != nil {
		return DraftResult{}, err
	}
	if err := checkEditable(current, p, required); err != nil {
		return DraftResult{}, err
	}

	content, err := e.validateDraft(ctx, p, in)
	if err != nil {
		return DraftResult{}, err
	}

	var result DraftResult
	err = e.store.WithTx(ctx, func(s generic.EntryStore) error {
		current, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := checkEditable(current, p, required); err != nil {
			return err
		}

		warnings, err := duplicateWarnings(ctx, s, content, id)
		if err != nil {
			return err
		}
		saved, err := s.Update(ctx, withContent(current, content))
		if err != nil {
			if errors.Is(err, generic.ErrConcurrentModification) {
				return generic.InvalidState("entry was modified concurrently").WithIDs(id)
			}
			return fmt.Errorf("update entry: %w", err)
		}
		if err := s.AppendAudit(ctx, generic.AuditEntry{
			EntryID:    id,
			ActorID:    p.EmployeeID,
			Action:     action,
			FromStatus: required,
			ToStatus:   required,
			At:         e.now().UTC(),
		}); err != nil {
			return err
		}
		result = DraftResult{Entry: saved, Warnings: warnings}
		return nil
	})
	if err != nil {
		return DraftResult{}, err
	}
	return result, nil
}

func checkEditable(current generic.Entry, p generic.Principal, required generic.EntryStatus) error {
	if !current.OwnedBy(p) {
		return generic.Forbidden("entry belongs to another employee").WithIDs(current.ID)
	}
	if current.Status != required {
		return generic.InvalidState("entry is %s, not %s", current.Status, required).WithIDs(current.ID)
	}
	return nil
}

// DeleteDraft removes a DRAFT entry owned by the caller.
func (e *Engine) DeleteDraft(ctx context.Context, p generic.Principal, id generic.EntryID) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	err := e.store.WithTx(ctx, func(s generic.EntryStore) error {
		current, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !current.OwnedBy(p) {
			return generic.Forbidden("entry belongs to another employee").WithIDs(id)
		}
		if current.Status != generic.StatusDraft {
			return generic.InvalidState("only DRAFT entries can be deleted, entry is %s", current.Status).WithIDs(id)
		}
		if err := s.Delete(ctx, id, current.Version); err != nil {
			if errors.Is(err, generic.ErrConcurrentModification) {
				return generic.InvalidState("entry was modified concurrently").WithIDs(id)
			}
			return err
		}
		return s.AppendAudit(ctx, generic.AuditEntry{
			EntryID:    id,
			ActorID:    p.EmployeeID,
			Action:     generic.AuditDeleted,
			FromStatus: generic.StatusDraft,
			At:         e.now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	e.logger.Info("draft deleted", zap.String("entry_id", string(id)), zap.String("owner_id", string(p.EmployeeID)))
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// validateDraft checks the owner, quantities, period, task and project and
// returns the entry content owned by p (no id or status yet).
func (e *Engine) validateDraft(ctx context.Context, p generic.Principal, in DraftInput) (generic.Entry, error) {
	if err := requirePrincipal(p); err != nil {
		return generic.Entry{}, err
	}
	emp, err := e.catalog.GetEmployee(ctx, p.EmployeeID)
	if err != nil {
		return generic.Entry{}, err
	}
	if !emp.Active {
		return generic.Entry{}, generic.Forbidden("employee %s is not active", emp.ID)
	}

	content := generic.Entry{
		OwnerID:      p.EmployeeID,
		PeriodID:     in.PeriodID,
		TaskID:       in.TaskID,
		ProjectID:    in.ProjectID,
		Date:         in.Date,
		Hours:        in.Hours,
		BreakMinutes: in.BreakMinutes,
		Description:  in.Description,
	}

	switch {
	case in.Start != nil || in.End != nil:
		if in.Start == nil || in.End == nil {
			return generic.Entry{}, generic.Validation("start and end must be given together")
		}
		if !in.End.After(*in.Start) {
			return generic.Entry{}, generic.Validation("end must be after start")
		}
		if in.BreakMinutes < 0 {
			return generic.Entry{}, generic.Validation("break minutes must not be negative")
		}
		startDay := generic.DayOf(*in.Start)
		if !content.Date.IsZero() && !content.Date.Equal(startDay) {
			return generic.Entry{}, generic.Validation("date %s does not match start %s", content.Date, startDay).WithDates(content.Date)
		}
		content.Date = startDay
		content.Start, content.End = in.Start, in.End
		content.Hours = generic.HoursBetween(*in.Start, *in.End, in.BreakMinutes)
	case content.Date.IsZero():
		return generic.Entry{}, generic.Validation("date is required")
	}

	if !generic.ValidHours(content.Hours) {
		return generic.Entry{}, generic.Validation("hours must be greater than 0 and at most 24, got %s", content.Hours).WithDates(content.Date)
	}

	period, err := e.catalog.GetPeriod(ctx, in.PeriodID)
	if err != nil {
		return generic.Entry{}, asValidation(err, "period %s unknown", in.PeriodID)
	}
	if !period.Contains(content.Date) {
		return generic.Entry{}, generic.Validation("date %s outside period %s %s", content.Date, period.ID, period).WithDates(content.Date)
	}

	if _, err := e.catalog.GetTask(ctx, in.TaskID); err != nil {
		return generic.Entry{}, asValidation(err, "task %s unknown", in.TaskID)
	}
	if in.ProjectID != nil {
		project, err := e.catalog.GetProject(ctx, *in.ProjectID)
		if err != nil {
			return generic.Entry{}, asValidation(err, "project %s unknown", *in.ProjectID)
		}
		if !project.Active {
			return generic.Entry{}, generic.Validation("project %s is not active", project.ID)
		}
	}
	return content, nil
}

// asValidation reports a missing reference as a validation failure of the
// input; other catalog errors pass through.
func asValidation(err error, format string, args ...any) error {
	if errors.Is(err, generic.ErrNotFound) {
		return generic.Validation(format, args...)
	}
	return err
}

func withContent(dst, src generic.Entry) generic.Entry {
	dst.PeriodID = src.PeriodID
	dst.TaskID = src.TaskID
	dst.ProjectID = src.ProjectID
	dst.Date = src.Date
	dst.Start = src.Start
	dst.End = src.End
	dst.BreakMinutes = src.BreakMinutes
	dst.Hours = src.Hours
	dst.Description = src.Description
	return dst
}

func duplicateWarnings(ctx context.Context, s generic.EntryStore, content generic.Entry, self generic.EntryID) ([]string, error) {
	existing, err := s.FindByOwnerDateTask(ctx, content.OwnerID, content.Date, content.TaskID)
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		if other.ID != self && sameProject(other.ProjectID, content.ProjectID) {
			return []string{fmt.Sprintf("possible duplicate entry on %s", content.Date)}, nil
		}
	}
	return nil, nil
}

func sameProject(a, b *generic.ProjectID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
