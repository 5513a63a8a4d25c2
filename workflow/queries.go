package workflow

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/clockd/generic"
)

// ListFilter narrows ListOwn. Zero fields don't filter.
type ListFilter struct {
	PeriodID *generic.PeriodID
	Statuses []generic.EntryStatus
	From     *generic.TimePoint
	To       *generic.TimePoint
}

// EntryList carries entries with their count and unrounded hour total.
type EntryList struct {
	Entries    []generic.Entry
	TotalCount int
	TotalHours decimal.Decimal
}

func newEntryList(entries []generic.Entry) EntryList {
	return EntryList{Entries: entries, TotalCount: len(entries), TotalHours: generic.SumHours(entries)}
}

// Get returns one entry to its owner or to a reviewer of the owner's team.
func (e *Engine) Get(ctx context.Context, p generic.Principal, id generic.EntryID) (generic.Entry, error) {
	entry, err := e.store.Get(ctx, id)
	if err != nil {
		return generic.Entry{}, err
	}
	if err := e.authorizeRead(ctx, p, entry); err != nil {
		return generic.Entry{}, err
	}
	return entry, nil
}

// ListOwn returns the caller's entries (drafts, submitted, rejected, ...).
func (e *Engine) ListOwn(ctx context.Context, p generic.Principal, f ListFilter) (EntryList, error) {
	if err := requirePrincipal(p); err != nil {
		return EntryList{}, err
	}
	entries, err := e.store.List(ctx, generic.EntryFilter{
		Owners:   []generic.EmployeeID{p.EmployeeID},
		PeriodID: f.PeriodID,
		Statuses: f.Statuses,
		From:     f.From,
		To:       f.To,
	})
	if err != nil {
		return EntryList{}, err
	}
	return newEntryList(entries), nil
}

// PendingReview returns SUBMITTED entries the caller may review.
func (e *Engine) PendingReview(ctx context.Context, p generic.Principal, periodID *generic.PeriodID) (EntryList, error) {
	if err := requirePrincipal(p); err != nil {
		return EntryList{}, err
	}
	entries, err := e.store.List(ctx, generic.EntryFilter{
		PeriodID: periodID,
		Statuses: []generic.EntryStatus{generic.StatusSubmitted},
	})
	if err != nil {
		return EntryList{}, err
	}

	cache := e.newReviewCache(p)
	var visible []generic.Entry
	for _, entry := range entries {
		ok, err := cache.allowed(ctx, entry.OwnerID)
		if err != nil {
			return EntryList{}, err
		}
		if ok {
			visible = append(visible, entry)
		}
	}
	return newEntryList(visible), nil
}

// History returns the audit trail of an existing entry, oldest first.
func (e *Engine) History(ctx context.Context, p generic.Principal, id generic.EntryID) ([]generic.AuditEntry, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	entry, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeRead(ctx, p, entry); err != nil {
		return nil, err
	}
	return e.store.History(ctx, id)
}

func (e *Engine) authorizeRead(ctx context.Context, p generic.Principal, entry generic.Entry) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	if entry.OwnedBy(p) {
		return nil
	}
	ok, err := e.CanReviewOwner(ctx, p, entry.OwnerID)
	if err != nil {
		return err
	}
	if !ok {
		return generic.Forbidden("entry belongs to another employee").WithIDs(entry.ID)
	}
	return nil
}
