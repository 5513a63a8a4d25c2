/*
Package postgres provides a PostgreSQL entry store on pgx.

PURPOSE:
  Production backend for entries and the audit trail. Reference data stays
  in the catalog (YAML or SQLite); only workflow state lives here.

CONCURRENCY:
  WithTx runs fn in one pgx transaction. Inside it GetMany locks the rows
  it reads (SELECT ... FOR UPDATE), so a second submitter of the same
  entries waits and then sees their new status. Updates and deletes are
  also version-checked and report generic.ErrConcurrentModification.

  Leave booking checks for an existing day and then inserts. No unique
  index guards that (duplicate drafts are allowed with a warning), so
  LockOwner takes pg_advisory_xact_lock on the owner and concurrent
  bookings of one employee run one after the other.

SEE ALSO:
  - store/sqlite: Same contract on SQLite
  - generic/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/clockd/generic"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements generic.TxStore on a pgx pool.
type Store struct {
	entryStore
	pool *pgxpool.Pool
}

// Connect opens a pool for url.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConns = 10
	cfg.MinConns = 1
	return pgxpool.NewWithConfig(ctx, cfg)
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{entryStore: entryStore{q: pool, now: time.Now}, pool: pool}
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate creates the schema if missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		project_id TEXT,
		date DATE NOT NULL,
		start_at TIMESTAMPTZ,
		end_at TIMESTAMPTZ,
		break_minutes INTEGER NOT NULL DEFAULT 0,
		hours NUMERIC NOT NULL CHECK (hours >= 0),
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		submitted_at TIMESTAMPTZ,
		reviewed_at TIMESTAMPTZ,
		reviewed_by TEXT,
		rejection_reason TEXT,
		historical BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_owner_date_task ON entries(owner_id, date, task_id);
	CREATE INDEX IF NOT EXISTS idx_entries_status_period ON entries(status, period_id);

	CREATE TABLE IF NOT EXISTS entry_audit (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		entry_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entry ON entry_audit(entry_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.EntryStore) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&entryStore{q: tx, now: s.now, lockRows: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var (
	_ generic.TxStore    = (*Store)(nil)
	_ generic.EntryStore = (*entryStore)(nil)
)

// =============================================================================
// ENTRY STORE
// =============================================================================

type entryStore struct {
	q        querier
	now      func() time.Time
	lockRows bool
}

const entryColumns = `id, owner_id, period_id, task_id, project_id, to_char(date, 'YYYY-MM-DD'),
	start_at, end_at, break_minutes, hours::text, description, status, submitted_at, reviewed_at,
	reviewed_by, rejection_reason, historical, version, created_at, updated_at`

func (s *entryStore) Get(ctx context.Context, id generic.EntryID) (generic.Entry, error) {
	e, err := scanEntry(s.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Entry{}, generic.NotFound("entry not found").WithIDs(id)
	}
	return e, err
}

func (s *entryStore) GetMany(ctx context.Context, ids []generic.EntryID) (map[generic.EntryID]generic.Entry, error) {
	result := make(map[generic.EntryID]generic.Entry, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	query := `SELECT ` + entryColumns + ` FROM entries WHERE id = ANY($1) ORDER BY id`
	if s.lockRows {
		query += ` FOR UPDATE`
	}
	entries, err := s.query(ctx, query, keys)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		result[e.ID] = e
	}
	return result, nil
}

func (s *entryStore) Insert(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	if e.ID == "" {
		e.ID = generic.EntryID(uuid.NewString())
	}
	now := s.now().UTC()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.q.Exec(ctx, `
		INSERT INTO entries (id, owner_id, period_id, task_id, project_id, date, start_at, end_at,
			break_minutes, hours, description, status, submitted_at, reviewed_at, reviewed_by,
			rejection_reason, historical, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		e.ID, e.OwnerID, e.PeriodID, e.TaskID, projectArg(e.ProjectID), e.Date.String(), e.Start, e.End,
		e.BreakMinutes, e.Hours.String(), e.Description, e.Status, e.SubmittedAt, e.ReviewedAt,
		employeeArg(e.ReviewedBy), e.RejectionReason, e.Historical, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return generic.Entry{}, fmt.Errorf("insert entry %s: %w", e.ID, generic.ErrConcurrentModification)
		}
		return generic.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

func (s *entryStore) Update(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	now := s.now().UTC()
	tag, err := s.q.Exec(ctx, `
		UPDATE entries SET
			period_id = $1, task_id = $2, project_id = $3, date = $4::date, start_at = $5, end_at = $6,
			break_minutes = $7, hours = $8::numeric, description = $9, status = $10, submitted_at = $11,
			reviewed_at = $12, reviewed_by = $13, rejection_reason = $14, historical = $15,
			version = version + 1, updated_at = $16
		WHERE id = $17 AND version = $18`,
		e.PeriodID, e.TaskID, projectArg(e.ProjectID), e.Date.String(), e.Start, e.End,
		e.BreakMinutes, e.Hours.String(), e.Description, e.Status, e.SubmittedAt,
		e.ReviewedAt, employeeArg(e.ReviewedBy), e.RejectionReason, e.Historical,
		now, e.ID, e.Version,
	)
	if err != nil {
		return generic.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	if err := s.checkAffected(ctx, tag, e.ID, "update"); err != nil {
		return generic.Entry{}, err
	}
	e.Version++
	e.UpdatedAt = now
	return e, nil
}

func (s *entryStore) Delete(ctx context.Context, id generic.EntryID, version int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM entries WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return s.checkAffected(ctx, tag, id, "delete")
}

func (s *entryStore) checkAffected(ctx context.Context, tag pgconn.CommandTag, id generic.EntryID, op string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM entries WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s entry %s: %w", op, id, err)
	}
	if !exists {
		return generic.NotFound("entry not found").WithIDs(id)
	}
	return fmt.Errorf("%s entry %s: %w", op, id, generic.ErrConcurrentModification)
}

func (s *entryStore) FindByOwnerDateTask(ctx context.Context, owner generic.EmployeeID, date generic.TimePoint, task generic.TaskID) ([]generic.Entry, error) {
	return s.query(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE owner_id = $1 AND date = $2::date AND task_id = $3
		 ORDER BY created_at, id`,
		owner, date.String(), task)
}

// LockOwner takes a transaction-scoped advisory lock on owner. Outside
// WithTx the lock would be released at once, so it is skipped.
func (s *entryStore) LockOwner(ctx context.Context, owner generic.EmployeeID) error {
	if !s.lockRows {
		return nil
	}
	if _, err := s.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(owner)); err != nil {
		return fmt.Errorf("lock owner %s: %w", owner, err)
	}
	return nil
}

func (s *entryStore) List(ctx context.Context, f generic.EntryFilter) ([]generic.Entry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Owners) > 0 {
		owners := make([]string, len(f.Owners))
		for i, o := range f.Owners {
			owners[i] = string(o)
		}
		where = append(where, "owner_id = ANY("+arg(owners)+")")
	}
	if f.PeriodID != nil {
		where = append(where, "period_id = "+arg(string(*f.PeriodID)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if f.From != nil {
		where = append(where, "date >= "+arg(f.From.String())+"::date")
	}
	if f.To != nil {
		where = append(where, "date <= "+arg(f.To.String())+"::date")
	}

	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return s.query(ctx, query+" ORDER BY date, created_at, id", args...)
}

func (s *entryStore) AppendAudit(ctx context.Context, a generic.AuditEntry) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = s.now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO entry_audit (id, entry_id, actor_id, action, from_status, to_status, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.EntryID, a.ActorID, a.Action, a.FromStatus, a.ToStatus, a.Reason, a.At)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *entryStore) History(ctx context.Context, id generic.EntryID) ([]generic.AuditEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, entry_id, actor_id, action, from_status, to_status, reason, at
		FROM entry_audit WHERE entry_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var a generic.AuditEntry
		var entryID, actorID, action, from, to string
		if err := rows.Scan(&a.ID, &entryID, &actorID, &action, &from, &to, &a.Reason, &a.At); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.EntryID = generic.EntryID(entryID)
		a.ActorID = generic.EmployeeID(actorID)
		a.Action = generic.AuditAction(action)
		a.FromStatus = generic.EntryStatus(from)
		a.ToStatus = generic.EntryStatus(to)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

func (s *entryStore) query(ctx context.Context, query string, args ...any) ([]generic.Entry, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
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

func scanEntry(row pgx.Row) (generic.Entry, error) {
	var (
		e                               generic.Entry
		id, owner, period, task, status string
		project, reviewedBy, rejection  *string
		date, hours                     string
		start, end, submitted, reviewed *time.Time
	)
	err := row.Scan(
		&id, &owner, &period, &task, &project, &date,
		&start, &end, &e.BreakMinutes, &hours, &e.Description, &status, &submitted, &reviewed,
		&reviewedBy, &rejection, &e.Historical, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return generic.Entry{}, err
		}
		return generic.Entry{}, fmt.Errorf("scan entry: %w", err)
	}

	e.ID = generic.EntryID(id)
	e.OwnerID = generic.EmployeeID(owner)
	e.PeriodID = generic.PeriodID(period)
	e.TaskID = generic.TaskID(task)
	e.Status = generic.EntryStatus(status)
	if e.Date, err = generic.ParseDate(date); err != nil {
		return generic.Entry{}, fmt.Errorf("entry %s: %w", id, err)
	}
	if e.Hours, err = decimal.NewFromString(hours); err != nil {
		return generic.Entry{}, fmt.Errorf("entry %s hours: %w", id, err)
	}
	if project != nil {
		p := generic.ProjectID(*project)
		e.ProjectID = &p
	}
	if reviewedBy != nil {
		r := generic.EmployeeID(*reviewedBy)
		e.ReviewedBy = &r
	}
	e.RejectionReason = rejection
	e.Start, e.End = start, end
	e.SubmittedAt, e.ReviewedAt = submitted, reviewed
	return e, nil
}

func projectArg(p *generic.ProjectID) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func employeeArg(id *generic.EmployeeID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}
