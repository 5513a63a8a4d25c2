/*
store.go - Persistence contract for entries and their audit trail

PURPOSE:
  Defines the interface between the workflow core and the database.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.
  The core only expresses guard logic; isolation is the store's job.

KEY INTERFACES:
  EntryStore: Entry CRUD, duplicate lookup, filtered listing, audit append
  TxStore:    Runs a function inside one atomic transaction

OPTIMISTIC CONCURRENCY:
  Every Entry carries a Version. Update and Delete succeed only when the
  stored version equals the one the caller read, and Update bumps it.
  A mismatch returns ErrConcurrentModification. Two racing submitters
  therefore can't both transition the same entry: the loser either
  reads the new status (invalid_state) or trips the version check.

AUDIT:
  AppendAudit is part of EntryStore so audit rows commit or roll back
  together with the write they describe.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory, snapshot rollback
  - store/sqlite/sqlite.go: SQLite via database/sql
  - store/postgres/postgres.go: PostgreSQL via pgxpool, SELECT ... FOR UPDATE

SEE ALSO:
  - workflow/engine.go: Runs every transition inside WithTx
  - timeoff/booking.go: Duplicate detection via LockOwner + FindByOwnerDateTask
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY STORE
// =============================================================================

// EntryStore persists entries keyed by id, owner and period.
type EntryStore interface {
	// Get returns ErrNotFound (wrapped) when the id doesn't exist.
	Get(ctx context.Context, id EntryID) (Entry, error)

	// GetMany returns the entries that exist, keyed by id. Missing ids are
	// simply absent from the map. Inside a transaction, SQL stores lock the
	// returned rows.
	GetMany(ctx context.Context, ids []EntryID) (map[EntryID]Entry, error)

	// Insert assigns ID (when empty), Version=1 and timestamps.
	Insert(ctx context.Context, e Entry) (Entry, error)

	// Update writes e if the stored version equals e.Version, and returns
	// the entry with the bumped version.
	Update(ctx context.Context, e Entry) (Entry, error)

	// Delete removes the entry if the stored version equals version.
	Delete(ctx context.Context, id EntryID, version int64) error

	// FindByOwnerDateTask returns every entry (any status) for the triple.
	FindByOwnerDateTask(ctx context.Context, owner EmployeeID, date TimePoint, task TaskID) ([]Entry, error)

	// List returns entries matching the filter ordered by date, then creation.
	List(ctx context.Context, filter EntryFilter) ([]Entry, error)

	// LockOwner blocks other writers that lock the same owner until the
	// enclosing transaction ends. Check-then-insert sequences (leave
	// booking) call it first. Stores whose transactions already serialize
	// treat it as a no-op.
	LockOwner(ctx context.Context, owner EmployeeID) error

	AppendAudit(ctx context.Context, entry AuditEntry) error
	History(ctx context.Context, id EntryID) ([]AuditEntry, error)
}

// EntryFilter narrows List. Zero fields don't filter.
type EntryFilter struct {
	Owners   []EmployeeID
	PeriodID *PeriodID
	Statuses []EntryStatus
	From     *TimePoint // inclusive, by Date
	To       *TimePoint // inclusive, by Date
}

// Matches applies the filter in memory. SQL stores push it into WHERE.
func (f EntryFilter) Matches(e Entry) bool {
	if len(f.Owners) > 0 && !containsOwner(f.Owners, e.OwnerID) {
		return false
	}
	if f.PeriodID != nil && e.PeriodID != *f.PeriodID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
		return false
	}
	if f.From != nil && e.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Date.After(*f.To) {
		return false
	}
	return true
}

func containsOwner(owners []EmployeeID, id EmployeeID) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func containsStatus(statuses []EntryStatus, s EntryStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps EntryStore with transaction support.
type TxStore interface {
	EntryStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(EntryStore) error) error
}

// =============================================================================
// AUDIT LOG - Who moved which entry where, and why
// =============================================================================

type AuditEntry struct {
	ID         string
	EntryID    EntryID
	ActorID    EmployeeID
	Action     AuditAction
	FromStatus EntryStatus // empty for created/booked
	ToStatus   EntryStatus // empty for deleted
	Reason     string
	At         time.Time
}

type AuditAction string

const (
	AuditCreated     AuditAction = "created"
	AuditUpdated     AuditAction = "updated"
	AuditBooked      AuditAction = "booked"
	AuditSubmitted   AuditAction = "submitted"
	AuditApproved    AuditAction = "approved"
	AuditRejected    AuditAction = "rejected"
	AuditResubmitted AuditAction = "resubmitted"
	AuditRevised     AuditAction = "revised"
	AuditDeleted     AuditAction = "deleted"
)
