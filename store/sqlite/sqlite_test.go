package sqlite_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clockd/auth"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/generic"
	"github.com/warp/clockd/store/sqlite"
	"github.com/warp/clockd/timeoff"
	"github.com/warp/clockd/workflow"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const seed = `
periods:
  - {id: P1, code: "2024-01", start: "2024-01-01", end: "2024-01-31"}
teams:
  - {id: team-a, name: A, reviewers: [mgr-1, mgr-0]}
  - {id: team-b, name: B}
employees:
  - {id: emp-1, name: Anna, team_id: team-a, active: true}
  - {id: emp-2, name: Bram, team_id: team-b, active: false}
  - {id: mgr-1, name: Mila, team_id: team-a, active: true}
tasks:
  - {id: Z05, code: Z05, description: Vakantie}
  - {id: Z07, code: Z07, description: Oud, historical: true}
  - {id: DEV, code: DEV, description: Development}
projects:
  - {id: prj-1, code: PRJ1, name: Platform, active: true}
holidays:
  - {date: "2024-01-10", name: Studiedag}
  - {date: "2020-12-25", name: Kerstmis, recurring: true}
`

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	snap, err := catalog.Parse([]byte(seed))
	require.NoError(t, err)
	require.NoError(t, s.ImportCatalog(context.Background(), snap))
	return s
}

func jan(d int) generic.TimePoint { return generic.NewTimePoint(2024, time.January, d) }

func draft(d int) generic.Entry {
	return generic.Entry{
		OwnerID:  "emp-1",
		PeriodID: "P1",
		TaskID:   "Z05",
		Date:     jan(d),
		Hours:    decimal.NewFromInt(8),
		Status:   generic.StatusDraft,
	}
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func TestStore_InsertAndGetPreservesFields(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	project := generic.ProjectID("prj-1")
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(8*time.Hour + 30*time.Minute)

	in := draft(2)
	in.TaskID = "DEV"
	in.ProjectID = &project
	in.Start, in.End = &start, &end
	in.BreakMinutes = 30
	in.Hours = decimal.RequireFromString("8.00")
	in.Description = "sprint work"

	saved, err := s.Insert(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, int64(1), saved.Version)

	got, err := s.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", got.Date.String())
	require.NotNil(t, got.ProjectID)
	assert.Equal(t, project, *got.ProjectID)
	assert.True(t, start.Equal(*got.Start))
	assert.True(t, end.Equal(*got.End))
	assert.True(t, decimal.NewFromInt(8).Equal(got.Hours))
	assert.Equal(t, 30, got.BreakMinutes)
	assert.Equal(t, "sprint work", got.Description)
	assert.Nil(t, got.SubmittedAt)
	assert.Nil(t, got.RejectionReason)
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_UpdateIsVersionChecked(t *testing.T) {
	// GIVEN: two copies of the same entry
	s := newStore(t)
	ctx := context.Background()
	saved, err := s.Insert(ctx, draft(2))
	require.NoError(t, err)
	stale := saved

	// WHEN: the first copy is written
	saved.Status = generic.StatusSubmitted
	saved.SubmittedAt = generic.TimePtr(time.Now())
	updated, err := s.Update(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// THEN: the second copy is rejected
	stale.Description = "late"
	_, err = s.Update(ctx, stale)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.Equal(t, generic.KindInvalidState, generic.KindOf(err))

	got, err := s.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusSubmitted, got.Status)
	assert.NotNil(t, got.SubmittedAt)
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saved, err := s.Insert(ctx, draft(2))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, saved.ID, 7), generic.ErrConcurrentModification)
	require.NoError(t, s.Delete(ctx, saved.ID, saved.Version))
	assert.ErrorIs(t, s.Delete(ctx, saved.ID, saved.Version), generic.ErrNotFound)
}

func TestStore_ListFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, d := range []int{5, 2, 9} {
		_, err := s.Insert(ctx, draft(d))
		require.NoError(t, err)
	}
	other := draft(3)
	other.OwnerID = "emp-2"
	other.Status = generic.StatusSubmitted
	_, err := s.Insert(ctx, other)
	require.NoError(t, err)

	from, to := jan(2), jan(5)
	got, err := s.List(ctx, generic.EntryFilter{
		Owners: []generic.EmployeeID{"emp-1"},
		From:   &from,
		To:     &to,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-02", got[0].Date.String())
	assert.Equal(t, "2024-01-05", got[1].Date.String())

	submitted, err := s.List(ctx, generic.EntryFilter{Statuses: []generic.EntryStatus{generic.StatusSubmitted}})
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, generic.EmployeeID("emp-2"), submitted[0].OwnerID)

	dupes, err := s.FindByOwnerDateTask(ctx, "emp-1", jan(9), "Z05")
	require.NoError(t, err)
	assert.Len(t, dupes, 1)
}

func TestStore_HistoryKeepsOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	for _, action := range []generic.AuditAction{generic.AuditCreated, generic.AuditSubmitted, generic.AuditRejected} {
		require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{
			EntryID: "e-1", ActorID: "emp-1", Action: action, At: at, Reason: string(action),
		}))
	}

	history, err := s.History(ctx, "e-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, generic.AuditRejected, history[2].Action)
	assert.Equal(t, "rejected", history[2].Reason)
	assert.True(t, at.Equal(history[0].At))
}

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx generic.EntryStore) error {
		saved, err := tx.Insert(ctx, draft(2))
		require.NoError(t, err)
		require.NoError(t, tx.AppendAudit(ctx, generic.AuditEntry{EntryID: saved.ID, ActorID: "emp-1", Action: generic.AuditCreated}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := s.List(ctx, generic.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_Lookups(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	emp, err := s.GetEmployee(ctx, "emp-2")
	require.NoError(t, err)
	assert.False(t, emp.Active)
	assert.Equal(t, generic.TeamID("team-b"), emp.TeamID)

	_, err = s.GetEmployee(ctx, "ghost")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	lt, err := s.GetLeaveType(ctx, "Z05")
	require.NoError(t, err)
	assert.Equal(t, catalog.CategoryVacation, lt.Category)

	types, err := s.ListLeaveTypes(ctx, false)
	require.NoError(t, err)
	require.Len(t, types, 1)
	all, err := s.ListLeaveTypes(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	p, err := s.GetProject(ctx, "prj-1")
	require.NoError(t, err)
	assert.True(t, p.Active)
}

func TestCatalog_WorkdaysAndPeriods(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for date, want := range map[generic.TimePoint]bool{
		jan(9):  true,
		jan(10): false, // one-off holiday
		jan(13): false, // Saturday
		generic.NewTimePoint(2024, time.December, 25): false, // recurring
	} {
		got, err := s.IsWorkday(ctx, date)
		require.NoError(t, err)
		assert.Equal(t, want, got, date.String())
	}

	period, err := s.PeriodFor(ctx, jan(31))
	require.NoError(t, err)
	assert.Equal(t, generic.PeriodID("P1"), period.ID)

	_, err = s.PeriodFor(ctx, generic.NewTimePoint(2024, time.February, 1))
	assert.ErrorIs(t, err, generic.ErrNotFound)

	// monthly fallback after re-import
	snap, err := catalog.Parse([]byte(seed + "monthly_periods: true\n"))
	require.NoError(t, err)
	require.NoError(t, s.ImportCatalog(ctx, snap))
	period, err = s.PeriodFor(ctx, generic.NewTimePoint(2024, time.February, 1))
	require.NoError(t, err)
	assert.Equal(t, generic.PeriodID("2024-02"), period.ID)
	byID, err := s.GetPeriod(ctx, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-31", byID.End.String())
}

func TestCatalog_Teams(t *testing.T) {
	s := newStore(t)

	teams, err := s.Teams(context.Background())
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, []generic.EmployeeID{"mgr-0", "mgr-1"}, teams[0].Reviewers)
	assert.Empty(t, teams[1].Reviewers)
}

// =============================================================================
// WORKFLOW ON SQLITE
// =============================================================================

func TestWorkflowOnSQLite_BookSubmitRejectResubmit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	teams, err := s.Teams(ctx)
	require.NoError(t, err)
	enforcer, err := auth.NewEnforcer()
	require.NoError(t, err)
	require.NoError(t, enforcer.LoadTeams(teams))

	anna := generic.Principal{EmployeeID: "emp-1"}
	mila := generic.Principal{EmployeeID: "mgr-1"}
	booker := timeoff.NewBooker(s, s)
	engine := workflow.NewEngine(s, s, enforcer)

	// GIVEN: a week of leave, the holiday on the 10th skipped
	booked, err := booker.BookLeave(ctx, anna, timeoff.BookingRequest{
		LeaveTypeID: "Z05", StartDate: jan(8), EndDate: jan(14), HoursPerDay: decimal.NewFromInt(8),
	})
	require.NoError(t, err)
	require.Equal(t, 4, booked.CreatedCount)
	assert.Equal(t, []string{"public holiday on 2024-01-10"}, booked.WarningMessages())
	ids := make([]generic.EntryID, 0, len(booked.Created))
	for _, e := range booked.Created {
		ids = append(ids, e.ID)
	}

	// WHEN: submitted, rejected, resubmitted
	_, err = engine.SubmitEntries(ctx, anna, ids)
	require.NoError(t, err)
	review, err := engine.ReviewEntries(ctx, mila, workflow.ReviewInput{IDs: ids, Reason: "overlaps release"})
	require.NoError(t, err)
	require.Len(t, review.Processed, 4)
	_, err = engine.ResubmitEntries(ctx, anna, ids)
	require.NoError(t, err)

	// THEN
	got, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, generic.StatusSubmitted, got.Status)
	assert.Nil(t, got.RejectionReason)
	assert.Equal(t, int64(4), got.Version)

	history, err := engine.History(ctx, mila, ids[0])
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, generic.AuditBooked, history[0].Action)
	assert.Equal(t, "overlaps release", history[2].Reason)

	// AND: a second submit is an invalid_state batch error
	_, err = engine.SubmitEntries(ctx, anna, ids[:1])
	assert.Equal(t, generic.KindInvalidState, generic.KindOf(err))
}

// =============================================================================
// SQLMOCK - driver-level behavior
// =============================================================================

func newMockStore(t *testing.T) (*sqlite.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entries").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := sqlite.Open(db)
	require.NoError(t, err)
	return s, mock
}

func TestWithTx_RollsBackWhenCallbackFails(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	boom := errors.New("audit failed")
	err := s.WithTx(context.Background(), func(tx generic.EntryStore) error {
		if _, err := tx.Insert(context.Background(), draft(2)); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entry_audit").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx generic.EntryStore) error {
		return tx.AppendAudit(context.Background(), generic.AuditEntry{EntryID: "e-1", ActorID: "emp-1", Action: generic.AuditCreated})
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_StaleVersionReportsConcurrentModification(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE entries SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM entries WHERE id = ?")).
		WithArgs("e-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	e := draft(2)
	e.ID = "e-1"
	e.Version = 3
	_, err := s.Update(context.Background(), e)

	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_DriverErrorIsWrapped(t *testing.T) {
	s, mock := newMockStore(t)
	driverErr := errors.New("disk I/O error")
	mock.ExpectExec("UPDATE entries SET").WillReturnError(driverErr)

	e := draft(2)
	e.ID = "e-1"
	_, err := s.Update(context.Background(), e)

	assert.ErrorIs(t, err, driverErr)
	assert.Equal(t, generic.KindInternal, generic.KindOf(err))
}
