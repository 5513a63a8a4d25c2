/*
Package sqlite provides a SQLite-backed entry store and reference catalog.

PURPOSE:
  Persists entries and their audit trail, and serves the reference data
  (employees, teams, tasks, projects, periods, holidays) the workflow
  validates against. The same schema ideas carry over to store/postgres.

INTERFACES IMPLEMENTED:
  generic.EntryStore: Entries + audit trail
  generic.TxStore:    WithTx
  catalog.Catalog:    Reference data lookups

KEY TABLES:
  entries:        One row per time entry, with an optimistic version column
  entry_audit:    Append-only transition log (kept after a draft is deleted)
  employees, teams, team_reviewers, tasks, projects, periods, holidays:
                  Reference data, loaded with ImportCatalog

INDEXES:
  - idx_entries_owner_date_task: Duplicate checks (hot path for booking)
  - idx_entries_status_period:   Review queues
  - idx_audit_entry:             History

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; WithTx holds the write lock for the
  whole transaction. Updates are version-checked:

    UPDATE entries SET ... WHERE id = ? AND version = ?

  and report generic.ErrConcurrentModification when no row matched.

WAL MODE:
  SQLite is opened with WAL so readers don't block the single writer.

USAGE:
  store, err := sqlite.New("./data/clockd.db")
  if err != nil {
      return err
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - catalog.go: Catalog tables and lookups
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/clockd/generic"
)

// Store implements generic.TxStore and catalog.Catalog on SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives as long as its connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store, err := Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Open wraps an already opened database and migrates it.
func Open(db *sql.DB) (*Store, error) {
	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection (used by /healthz).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		project_id TEXT,
		date TEXT NOT NULL,
		start_at TEXT,
		end_at TEXT,
		break_minutes INTEGER NOT NULL DEFAULT 0,
		hours TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		submitted_at TEXT,
		reviewed_at TEXT,
		reviewed_by TEXT,
		rejection_reason TEXT,
		historical INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_owner_date_task
		ON entries(owner_id, date, task_id);
	CREATE INDEX IF NOT EXISTS idx_entries_status_period
		ON entries(status, period_id);

	CREATE TABLE IF NOT EXISTS entry_audit (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entry
		ON entry_audit(entry_id, seq);
	` + catalogSchema

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (generic.EntryStore interface)
// =============================================================================

const entryColumns = `id, owner_id, period_id, task_id, project_id, date, start_at, end_at,
	break_minutes, hours, description, status, submitted_at, reviewed_at, reviewed_by,
	rejection_reason, historical, version, created_at, updated_at`

func (s *Store) Get(ctx context.Context, id generic.EntryID) (generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, id)
}

func (s *Store) GetMany(ctx context.Context, ids []generic.EntryID) (map[generic.EntryID]generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntries(ctx, s.db, ids)
}

func (s *Store) Insert(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEntry(ctx, s.db, e)
}

func (s *Store) Update(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEntry(ctx, s.db, e)
}

func (s *Store) Delete(ctx context.Context, id generic.EntryID, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEntry(ctx, s.db, id, version)
}

func (s *Store) FindByOwnerDateTask(ctx context.Context, owner generic.EmployeeID, date generic.TimePoint, task generic.TaskID) ([]generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM entries WHERE owner_id = ? AND date = ? AND task_id = ?
		 ORDER BY created_at, id`,
		owner, date.String(), task)
}

// LockOwner is a no-op: WithTx holds the store mutex for the whole transaction.
func (s *Store) LockOwner(context.Context, generic.EmployeeID) error { return nil }

func (s *Store) List(ctx context.Context, filter generic.EntryFilter) ([]generic.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, filter)
}

func (s *Store) AppendAudit(ctx context.Context, a generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAudit(ctx, s.db, a)
}

func (s *Store) History(ctx context.Context, id generic.EntryID) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return history(ctx, s.db, id)
}

// =============================================================================
// QUERIES - shared by Store and txStore
// =============================================================================

func getEntry(ctx context.Context, q dbtx, id generic.EntryID) (generic.Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Entry{}, generic.NotFound("entry not found").WithIDs(id)
	}
	return e, err
}

func getEntries(ctx context.Context, q dbtx, ids []generic.EntryID) (map[generic.EntryID]generic.Entry, error) {
	result := make(map[generic.EntryID]generic.Entry, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	entries, err := queryEntries(ctx, q,
		`SELECT `+entryColumns+` FROM entries WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		result[e.ID] = e
	}
	return result, nil
}

func listEntries(ctx context.Context, q dbtx, f generic.EntryFilter) ([]generic.Entry, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Owners) > 0 {
		where = append(where, "owner_id IN ("+placeholders(len(f.Owners))+")")
		for _, o := range f.Owners {
			args = append(args, o)
		}
	}
	if f.PeriodID != nil {
		where = append(where, "period_id = ?")
		args = append(args, *f.PeriodID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}

	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, created_at, id"
	return queryEntries(ctx, q, query, args...)
}

func (s *Store) insertEntry(ctx context.Context, q dbtx, e generic.Entry) (generic.Entry, error) {
	if e.ID == "" {
		e.ID = generic.EntryID(uuid.NewString())
	}
	now := s.now().UTC()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := q.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.PeriodID, e.TaskID, nullProject(e.ProjectID), e.Date.String(),
		nullTime(e.Start), nullTime(e.End), e.BreakMinutes, e.Hours.String(), e.Description,
		e.Status, nullTime(e.SubmittedAt), nullTime(e.ReviewedAt), nullEmployee(e.ReviewedBy),
		nullStringPtr(e.RejectionReason), e.Historical, e.Version,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Entry{}, fmt.Errorf("insert entry %s: %w", e.ID, generic.ErrConcurrentModification)
		}
		return generic.Entry{}, fmt.Errorf("failed to insert entry: %w", err)
	}
	return e, nil
}

func (s *Store) updateEntry(ctx context.Context, q dbtx, e generic.Entry) (generic.Entry, error) {
	now := s.now().UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE entries SET
			period_id = ?, task_id = ?, project_id = ?, date = ?, start_at = ?, end_at = ?,
			break_minutes = ?, hours = ?, description = ?, status = ?, submitted_at = ?,
			reviewed_at = ?, reviewed_by = ?, rejection_reason = ?, historical = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		e.PeriodID, e.TaskID, nullProject(e.ProjectID), e.Date.String(), nullTime(e.Start), nullTime(e.End),
		e.BreakMinutes, e.Hours.String(), e.Description, e.Status, nullTime(e.SubmittedAt),
		nullTime(e.ReviewedAt), nullEmployee(e.ReviewedBy), nullStringPtr(e.RejectionReason), e.Historical,
		formatTime(now), e.ID, e.Version,
	)
	if err != nil {
		return generic.Entry{}, fmt.Errorf("failed to update entry: %w", err)
	}
	if err := checkAffected(ctx, q, res, e.ID, "update"); err != nil {
		return generic.Entry{}, err
	}
	e.Version++
	e.UpdatedAt = now
	return e, nil
}

func deleteEntry(ctx context.Context, q dbtx, id generic.EntryID, version int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM entries WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return checkAffected(ctx, q, res, id, "delete")
}

// checkAffected tells a missing row from a stale version when a
// version-checked write matched nothing.
func checkAffected(ctx context.Context, q dbtx, res sql.Result, id generic.EntryID, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s entry %s: %w", op, id, err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s entry %s: %w", op, id, err)
	}
	if exists == 0 {
		return generic.NotFound("entry not found").WithIDs(id)
	}
	return fmt.Errorf("%s entry %s: %w", op, id, generic.ErrConcurrentModification)
}

func (s *Store) appendAudit(ctx context.Context, q dbtx, a generic.AuditEntry) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = s.now().UTC()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO entry_audit (id, entry_id, actor_id, action, from_status, to_status, reason, at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?,
		         (SELECT COALESCE(MAX(seq), 0) + 1 FROM entry_audit WHERE entry_id = ?))`,
		a.ID, a.EntryID, a.ActorID, a.Action, a.FromStatus, a.ToStatus, a.Reason, formatTime(a.At), a.EntryID,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit: %w", err)
	}
	return nil
}

func history(ctx context.Context, q dbtx, id generic.EntryID) ([]generic.AuditEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, entry_id, actor_id, action, from_status, to_status, reason, at
		 FROM entry_audit WHERE entry_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			a  generic.AuditEntry
			at string
		)
		if err := rows.Scan(&a.ID, &a.EntryID, &a.ActorID, &a.Action, &a.FromStatus, &a.ToStatus, &a.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		a.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.EntryStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs against an open transaction; the parent's lock is held.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Get(ctx context.Context, id generic.EntryID) (generic.Entry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) GetMany(ctx context.Context, ids []generic.EntryID) (map[generic.EntryID]generic.Entry, error) {
	return getEntries(ctx, ts.tx, ids)
}

func (ts *txStore) Insert(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	return ts.parent.insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) Update(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	return ts.parent.updateEntry(ctx, ts.tx, e)
}

func (ts *txStore) Delete(ctx context.Context, id generic.EntryID, version int64) error {
	return deleteEntry(ctx, ts.tx, id, version)
}

func (ts *txStore) FindByOwnerDateTask(ctx context.Context, owner generic.EmployeeID, date generic.TimePoint, task generic.TaskID) ([]generic.Entry, error) {
	return queryEntries(ctx, ts.tx,
		`SELECT `+entryColumns+` FROM entries WHERE owner_id = ? AND date = ? AND task_id = ?
		 ORDER BY created_at, id`,
		owner, date.String(), task)
}

func (ts *txStore) LockOwner(context.Context, generic.EmployeeID) error { return nil }

func (ts *txStore) List(ctx context.Context, filter generic.EntryFilter) ([]generic.Entry, error) {
	return listEntries(ctx, ts.tx, filter)
}

func (ts *txStore) AppendAudit(ctx context.Context, a generic.AuditEntry) error {
	return ts.parent.appendAudit(ctx, ts.tx, a)
}

func (ts *txStore) History(ctx context.Context, id generic.EntryID) ([]generic.AuditEntry, error) {
	return history(ctx, ts.tx, id)
}

var (
	_ generic.TxStore    = (*Store)(nil)
	_ generic.EntryStore = (*txStore)(nil)
)

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func queryEntries(ctx context.Context, q dbtx, query string, args ...any) ([]generic.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []generic.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row scanner) (generic.Entry, error) {
	var (
		e                                generic.Entry
		projectID, reviewedBy, rejection sql.NullString
		start, end, submitted, reviewed  sql.NullString
		date, hours, created, updated    string
	)
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.PeriodID, &e.TaskID, &projectID, &date, &start, &end,
		&e.BreakMinutes, &hours, &e.Description, &e.Status, &submitted, &reviewed, &reviewedBy,
		&rejection, &e.Historical, &e.Version, &created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return generic.Entry{}, err
		}
		return generic.Entry{}, fmt.Errorf("failed to scan entry: %w", err)
	}

	if e.Date, err = generic.ParseDate(date); err != nil {
		return generic.Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	if e.Hours, err = decimal.NewFromString(hours); err != nil {
		return generic.Entry{}, fmt.Errorf("entry %s hours: %w", e.ID, err)
	}
	if projectID.Valid {
		p := generic.ProjectID(projectID.String)
		e.ProjectID = &p
	}
	if reviewedBy.Valid {
		r := generic.EmployeeID(reviewedBy.String)
		e.ReviewedBy = &r
	}
	if rejection.Valid {
		e.RejectionReason = generic.StrPtr(rejection.String)
	}
	e.Start = parseNullTime(start)
	e.End = parseNullTime(end)
	e.SubmittedAt = parseNullTime(submitted)
	e.ReviewedAt = parseNullTime(reviewed)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullProject(p *generic.ProjectID) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func nullEmployee(id *generic.EmployeeID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
