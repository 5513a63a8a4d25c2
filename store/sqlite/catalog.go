package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/generic"
)

// =============================================================================
// CATALOG TABLES - Reference data (catalog.Catalog interface)
// =============================================================================

// Catalog reads don't take the store mutex: they never touch entries and
// may run while a WithTx holds it.
const catalogSchema = `
	CREATE TABLE IF NOT EXISTS catalog_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS team_reviewers (
		team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
		employee_id TEXT NOT NULL,
		PRIMARY KEY (team_id, employee_id)
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		historical INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_periods_range
		ON periods(start_date, end_date);

	CREATE TABLE IF NOT EXISTS holidays (
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, name)
	);
`

const settingMonthlyPeriods = "monthly_periods"

// ImportCatalog replaces the reference data with snap in one transaction.
func (s *Store) ImportCatalog(ctx context.Context, snap catalog.Snapshot) error {
	d, err := snap.Decode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"team_reviewers", "teams", "employees", "tasks", "projects", "periods", "holidays"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	monthly := "0"
	if snap.MonthlyPeriods {
		monthly = "1"
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO catalog_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		settingMonthlyPeriods, monthly); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	for _, t := range d.Teams {
		if _, err := tx.ExecContext(ctx, `INSERT INTO teams (id, name) VALUES (?, ?)`, t.ID, t.Name); err != nil {
			return fmt.Errorf("insert team %s: %w", t.ID, err)
		}
		for _, r := range t.Reviewers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO team_reviewers (team_id, employee_id) VALUES (?, ?)`, t.ID, r); err != nil {
				return fmt.Errorf("insert reviewer %s/%s: %w", t.ID, r, err)
			}
		}
	}
	for _, e := range d.Employees {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO employees (id, name, team_id, active) VALUES (?, ?, ?, ?)`,
			e.ID, e.Name, e.TeamID, e.Active); err != nil {
			return fmt.Errorf("insert employee %s: %w", e.ID, err)
		}
	}
	for _, t := range d.Tasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, code, description, historical) VALUES (?, ?, ?, ?)`,
			t.ID, t.Code, t.Description, t.Historical); err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	for _, p := range d.Projects {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, code, name, active) VALUES (?, ?, ?, ?)`,
			p.ID, p.Code, p.Name, p.Active); err != nil {
			return fmt.Errorf("insert project %s: %w", p.ID, err)
		}
	}
	for _, p := range d.Periods {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO periods (id, code, start_date, end_date) VALUES (?, ?, ?, ?)`,
			p.ID, p.Code, p.Start.String(), p.End.String()); err != nil {
			return fmt.Errorf("insert period %s: %w", p.ID, err)
		}
	}
	for _, h := range d.Holidays {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holidays (date, name, recurring) VALUES (?, ?, ?)`,
			h.Date.String(), h.Name, h.Recurring); err != nil {
			return fmt.Errorf("insert holiday %s: %w", h.Date, err)
		}
	}
	return tx.Commit()
}

func (s *Store) IsWorkday(ctx context.Context, date generic.TimePoint) (bool, error) {
	if date.IsWeekend() {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM holidays
		 WHERE date = ? OR (recurring = 1 AND substr(date, 6) = ?)`,
		date.String(), date.Time.Format("01-02"),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query holidays: %w", err)
	}
	return n == 0, nil
}

func (s *Store) GetTask(ctx context.Context, id generic.TaskID) (catalog.Task, error) {
	var t catalog.Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, description, historical FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.Code, &t.Description, &t.Historical)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Task{}, generic.NotFound("task %s not found", id)
	}
	if err != nil {
		return catalog.Task{}, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func (s *Store) GetLeaveType(ctx context.Context, id generic.TaskID) (catalog.LeaveType, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return catalog.LeaveType{}, err
	}
	return catalog.LeaveTypeOf(t), nil
}

func (s *Store) ListLeaveTypes(ctx context.Context, includeHistorical bool) ([]catalog.LeaveType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, description, historical FROM tasks
		 WHERE upper(code) LIKE 'Z%' AND (? OR historical = 0)
		 ORDER BY code`, includeHistorical)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave types: %w", err)
	}
	defer rows.Close()

	var types []catalog.LeaveType
	for rows.Next() {
		var t catalog.Task
		if err := rows.Scan(&t.ID, &t.Code, &t.Description, &t.Historical); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		types = append(types, catalog.LeaveTypeOf(t))
	}
	return types, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id generic.ProjectID) (catalog.Project, error) {
	var p catalog.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, name, active FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Code, &p.Name, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Project{}, generic.NotFound("project %s not found", id)
	}
	if err != nil {
		return catalog.Project{}, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (catalog.Employee, error) {
	var e catalog.Employee
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, team_id, active FROM employees WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.TeamID, &e.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Employee{}, generic.NotFound("employee %s not found", id)
	}
	if err != nil {
		return catalog.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

func (s *Store) GetPeriod(ctx context.Context, id generic.PeriodID) (generic.Period, error) {
	p, err := scanPeriod(s.db.QueryRowContext(ctx,
		`SELECT id, code, start_date, end_date FROM periods WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		monthly, merr := s.monthlyPeriods(ctx)
		if merr != nil {
			return generic.Period{}, merr
		}
		if monthly {
			if date, perr := generic.ParseDate(string(id) + "-01"); perr == nil {
				return generic.MonthlyPeriod(date), nil
			}
		}
		return generic.Period{}, generic.NotFound("period %s not found", id)
	}
	return p, err
}

func (s *Store) PeriodFor(ctx context.Context, date generic.TimePoint) (generic.Period, error) {
	p, err := scanPeriod(s.db.QueryRowContext(ctx,
		`SELECT id, code, start_date, end_date FROM periods
		 WHERE start_date <= ? AND end_date >= ?
		 ORDER BY start_date LIMIT 1`, date.String(), date.String()))
	if errors.Is(err, sql.ErrNoRows) {
		monthly, merr := s.monthlyPeriods(ctx)
		if merr != nil {
			return generic.Period{}, merr
		}
		if monthly {
			return generic.MonthlyPeriod(date), nil
		}
		return generic.Period{}, generic.NotFound("no period covers %s", date).WithDates(date)
	}
	return p, err
}

// Teams lists every team with its reviewers, ordered by id.
func (s *Store) Teams(ctx context.Context) ([]catalog.Team, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.name, COALESCE(r.employee_id, '')
		 FROM teams t LEFT JOIN team_reviewers r ON r.team_id = t.id
		 ORDER BY t.id, r.employee_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []catalog.Team
	for rows.Next() {
		var (
			id       generic.TeamID
			name     string
			reviewer generic.EmployeeID
		)
		if err := rows.Scan(&id, &name, &reviewer); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		if len(teams) == 0 || teams[len(teams)-1].ID != id {
			teams = append(teams, catalog.Team{ID: id, Name: name})
		}
		if reviewer != "" {
			last := &teams[len(teams)-1]
			last.Reviewers = append(last.Reviewers, reviewer)
		}
	}
	return teams, rows.Err()
}

func (s *Store) monthlyPeriods(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM catalog_settings WHERE key = ?`, settingMonthlyPeriods).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read settings: %w", err)
	}
	return v == "1", nil
}

func scanPeriod(row scanner) (generic.Period, error) {
	var (
		p          generic.Period
		start, end string
	)
	if err := row.Scan(&p.ID, &p.Code, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return generic.Period{}, err
		}
		return generic.Period{}, fmt.Errorf("failed to scan period: %w", err)
	}
	var err error
	if p.Start, err = generic.ParseDate(start); err != nil {
		return generic.Period{}, err
	}
	if p.End, err = generic.ParseDate(end); err != nil {
		return generic.Period{}, err
	}
	return p, nil
}

var _ catalog.Catalog = (*Store)(nil)
