package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/clockd/events"
	"github.com/warp/clockd/generic"
	"go.uber.org/zap"
)

// BatchResult is returned by the all-or-nothing batch operations.
type BatchResult struct {
	Entries []generic.Entry
	At      time.Time
}

// ReviewInput carries a reviewer decision over a set of entries.
type ReviewInput struct {
	IDs     []generic.EntryID
	Approve bool
	Reason  string
}

// ReviewResult reports processed and skipped entries separately.
type ReviewResult struct {
	Processed []generic.Entry
	Skipped   []generic.Failure
}

// =============================================================================
// OWNER BATCHES - all-or-nothing
// =============================================================================

type ownerBatch struct {
	op     string
	from   generic.EntryStatus
	to     generic.EntryStatus
	action generic.AuditAction
	event  events.Type
	apply  func(e *generic.Entry, now time.Time)
}

var submitBatch = ownerBatch{
	op:     "submit",
	from:   generic.StatusDraft,
	to:     generic.StatusSubmitted,
	action: generic.AuditSubmitted,
	event:  events.EntriesSubmitted,
	apply: func(e *generic.Entry, now time.Time) {
		e.SubmittedAt = generic.TimePtr(now)
	},
}

var resubmitBatch = ownerBatch{
	op:     "resubmit",
	from:   generic.StatusRejected,
	to:     generic.StatusSubmitted,
	action: generic.AuditResubmitted,
	event:  events.EntriesResubmitted,
	apply: func(e *generic.Entry, now time.Time) {
		e.SubmittedAt = generic.TimePtr(now)
		e.RejectionReason = nil
		e.ReviewedAt = nil
		e.ReviewedBy = nil
	},
}

// SubmitEntries moves the caller's DRAFT entries to SUBMITTED. If any entry
// fails a guard, nothing is written and a *generic.BatchError lists them.
func (e *Engine) SubmitEntries(ctx context.Context, p generic.Principal, ids []generic.EntryID) (BatchResult, error) {
	return e.runOwnerBatch(ctx, p, ids, submitBatch)
}

// ResubmitEntries moves the caller's REJECTED entries back to SUBMITTED,
// clearing the rejection. The previous review remains in the audit trail.
func (e *Engine) ResubmitEntries(ctx context.Context, p generic.Principal, ids []generic.EntryID) (BatchResult, error) {
	return e.runOwnerBatch(ctx, p, ids, resubmitBatch)
}

func (e *Engine) runOwnerBatch(ctx context.Context, p generic.Principal, ids []generic.EntryID, b ownerBatch) (BatchResult, error) {
	if err := requirePrincipal(p); err != nil {
		return BatchResult{}, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return BatchResult{}, generic.Validation("no entries to %s", b.op)
	}

	now := e.now().UTC()
	var updated []generic.Entry
	err := e.store.WithTx(ctx, func(s generic.EntryStore) error {
		updated = nil
		loaded, err := s.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load entries: %w", err)
		}

		var failures []generic.Failure
		for _, id := range ids {
			if f, ok := checkOwnerGuard(id, loaded, p, b.from); !ok {
				failures = append(failures, f)
			}
		}
		if len(failures) > 0 {
			return &generic.BatchError{Op: b.op, Failures: failures}
		}

		for _, id := range ids {
			entry := loaded[id]
			b.apply(&entry, now)
			entry.Status = b.to
			saved, err := s.Update(ctx, entry)
			if err != nil {
				if errors.Is(err, generic.ErrConcurrentModification) {
					failures = append(failures, generic.FailureFrom(id, err))
					continue
				}
				return fmt.Errorf("update entry %s: %w", id, err)
			}
			if err := s.AppendAudit(ctx, generic.AuditEntry{
				EntryID:    id,
				ActorID:    p.EmployeeID,
				Action:     b.action,
				FromStatus: b.from,
				ToStatus:   b.to,
				At:         now,
			}); err != nil {
				return err
			}
			updated = append(updated, saved)
		}
		if len(failures) > 0 {
			return &generic.BatchError{Op: b.op, Failures: failures}
		}
		return nil
	})
	if err != nil {
		var batch *generic.BatchError
		if errors.As(err, &batch) {
			e.logger.Info(b.op+" rejected",
				zap.String("actor_id", string(p.EmployeeID)),
				zap.Strings("failed_ids", idStrings(batch.IDs())),
				zap.String("kind", string(batch.Kind())),
			)
		}
		return BatchResult{}, err
	}

	e.logger.Info(b.op+" committed",
		zap.String("actor_id", string(p.EmployeeID)),
		zap.Int("entries", len(updated)),
	)
	e.publish(ctx, events.Event{
		Type:     b.event,
		Actor:    p.EmployeeID,
		EntryIDs: events.IDsOf(updated),
		Owners:   events.OwnersOf(updated),
		At:       now,
	})
	return BatchResult{Entries: updated, At: now}, nil
}

// checkOwnerGuard applies existence, ownership, state and quantity guards
// in that order and reports the first one that fails.
func checkOwnerGuard(id generic.EntryID, loaded map[generic.EntryID]generic.Entry, p generic.Principal, from generic.EntryStatus) (generic.Failure, bool) {
	entry, ok := loaded[id]
	switch {
	case !ok:
		return generic.Failure{ID: id, Kind: generic.KindNotFound, Reason: "entry not found"}, false
	case !entry.OwnedBy(p):
		return generic.Failure{ID: id, Kind: generic.KindForbidden, Reason: "entry belongs to another employee"}, false
	case entry.Status != from:
		return generic.Failure{ID: id, Kind: generic.KindInvalidState,
			Reason: fmt.Sprintf("entry is %s, expected %s", entry.Status, from)}, false
	case !entry.Hours.IsPositive():
		return generic.Failure{ID: id, Kind: generic.KindValidation, Reason: "hours must be greater than 0"}, false
	}
	return generic.Failure{}, true
}

// =============================================================================
// REVIEW - per item
// =============================================================================

// ReviewEntries approves or rejects SUBMITTED entries. Entries that are
// missing, not SUBMITTED, or outside the reviewer's teams are skipped and
// reported; the others commit together.
func (e *Engine) ReviewEntries(ctx context.Context, p generic.Principal, in ReviewInput) (ReviewResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if !in.Approve && reason == "" {
		return ReviewResult{}, generic.Validation("rejection reason required").WithIDs(in.IDs...)
	}
	if err := requirePrincipal(p); err != nil {
		return ReviewResult{}, err
	}
	ids := dedupe(in.IDs)
	if len(ids) == 0 {
		return ReviewResult{}, generic.Validation("no entries to review")
	}

	to, action, evType := generic.StatusApproved, generic.AuditApproved, events.EntriesApproved
	if !in.Approve {
		to, action, evType = generic.StatusRejected, generic.AuditRejected, events.EntriesRejected
	}

	// Capability is resolved before the transaction so catalog lookups never
	// run while the store is locked. An entry's owner never changes.
	allowed, err := e.reviewableOwners(ctx, p, ids)
	if err != nil {
		return ReviewResult{}, err
	}

	now := e.now().UTC()
	var result ReviewResult
	err = e.store.WithTx(ctx, func(s generic.EntryStore) error {
		result = ReviewResult{}
		loaded, err := s.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load entries: %w", err)
		}

		for _, id := range ids {
			entry, ok := loaded[id]
			if !ok {
				result.Skipped = append(result.Skipped, generic.Failure{ID: id, Kind: generic.KindNotFound, Reason: "entry not found"})
				continue
			}
			if !CanTransition(entry.Status, to) {
				result.Skipped = append(result.Skipped, generic.Failure{ID: id, Kind: generic.KindInvalidState,
					Reason: fmt.Sprintf("entry is %s, not SUBMITTED", entry.Status)})
				continue
			}
			if !allowed[entry.OwnerID] {
				result.Skipped = append(result.Skipped, generic.Failure{ID: id, Kind: generic.KindForbidden,
					Reason: "no reviewer capability for the owner's team"})
				continue
			}

			entry.Status = to
			entry.ReviewedAt = generic.TimePtr(now)
			reviewer := p.EmployeeID
			entry.ReviewedBy = &reviewer
			if !in.Approve {
				entry.RejectionReason = generic.StrPtr(reason)
			}
			saved, err := s.Update(ctx, entry)
			if err != nil {
				if errors.Is(err, generic.ErrConcurrentModification) {
					result.Skipped = append(result.Skipped, generic.FailureFrom(id, err))
					continue
				}
				return fmt.Errorf("update entry %s: %w", id, err)
			}
			audit := generic.AuditEntry{
				EntryID:    id,
				ActorID:    p.EmployeeID,
				Action:     action,
				FromStatus: generic.StatusSubmitted,
				ToStatus:   to,
				At:         now,
			}
			if !in.Approve {
				audit.Reason = reason
			}
			if err := s.AppendAudit(ctx, audit); err != nil {
				return err
			}
			result.Processed = append(result.Processed, saved)
		}
		return nil
	})
	if err != nil {
		return ReviewResult{}, err
	}

	e.logger.Info("review committed",
		zap.String("reviewer_id", string(p.EmployeeID)),
		zap.Bool("approve", in.Approve),
		zap.Int("processed", len(result.Processed)),
		zap.Int("skipped", len(result.Skipped)),
	)
	if len(result.Processed) > 0 {
		e.publish(ctx, events.Event{
			Type:     evType,
			Actor:    p.EmployeeID,
			EntryIDs: events.IDsOf(result.Processed),
			Owners:   events.OwnersOf(result.Processed),
			Reason:   reasonFor(in.Approve, reason),
			At:       now,
		})
	}
	return result, nil
}

// reviewableOwners maps the owners of ids to p's reviewer capability.
func (e *Engine) reviewableOwners(ctx context.Context, p generic.Principal, ids []generic.EntryID) (map[generic.EmployeeID]bool, error) {
	entries, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	cache := e.newReviewCache(p)
	for _, entry := range entries {
		if _, err := cache.allowed(ctx, entry.OwnerID); err != nil {
			return nil, err
		}
	}
	return cache.seen, nil
}

func reasonFor(approve bool, reason string) string {
	if approve {
		return ""
	}
	return reason
}
