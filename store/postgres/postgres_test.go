package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/generic"
	"github.com/warp/clockd/store/postgres"
	"github.com/warp/clockd/timeoff"
)

// Set CLOCKD_TEST_POSTGRES_URL to run these against a scratch database.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("CLOCKD_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CLOCKD_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, url)
	require.NoError(t, err)
	s := postgres.New(pool)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE entries, entry_audit`)
	require.NoError(t, err)
	return s
}

func draft() generic.Entry {
	return generic.Entry{
		OwnerID:  "emp-1",
		PeriodID: "P1",
		TaskID:   "Z05",
		Date:     generic.NewTimePoint(2024, time.January, 2),
		Hours:    decimal.RequireFromString("7.333"),
		Status:   generic.StatusDraft,
	}
}

func TestStore_RoundTripKeepsUnroundedHours(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.Insert(ctx, draft())
	require.NoError(t, err)
	got, err := s.Get(ctx, saved.ID)
	require.NoError(t, err)

	assert.Equal(t, "7.333", got.Hours.String())
	assert.Equal(t, "2024-01-02", got.Date.String())
	assert.Nil(t, got.ProjectID)
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_StaleUpdateIsRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saved, err := s.Insert(ctx, draft())
	require.NoError(t, err)

	saved.Status = generic.StatusSubmitted
	_, err = s.Update(ctx, saved)
	require.NoError(t, err)

	_, err = s.Update(ctx, saved)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	missing := saved
	missing.ID = "missing"
	_, err = s.Update(ctx, missing)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_ConcurrentTransitionsSerialize(t *testing.T) {
	// GIVEN: one draft and several transactions trying to submit it
	s := newStore(t)
	ctx := context.Background()
	saved, err := s.Insert(ctx, draft())
	require.NoError(t, err)

	const workers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		submitted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx generic.EntryStore) error {
				loaded, err := tx.GetMany(ctx, []generic.EntryID{saved.ID})
				if err != nil {
					return err
				}
				e := loaded[saved.ID]
				if e.Status != generic.StatusDraft {
					return generic.InvalidState("entry is %s", e.Status)
				}
				e.Status = generic.StatusSubmitted
				_, err = tx.Update(ctx, e)
				return err
			})
			if err == nil {
				mu.Lock()
				submitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// THEN: the row lock lets exactly one through
	assert.Equal(t, 1, submitted)
	got, err := s.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestStore_ConcurrentBookingsDoNotDuplicate(t *testing.T) {
	// GIVEN: several bookings of the same leave day for one employee
	s := newStore(t)
	ctx := context.Background()
	cat, err := catalog.NewStatic(catalog.Snapshot{
		MonthlyPeriods: true,
		Teams:          []catalog.TeamRecord{{ID: "team-a", Name: "A"}},
		Employees:      []catalog.EmployeeRecord{{ID: "emp-1", Name: "Anna", TeamID: "team-a", Active: true}},
		Tasks:          []catalog.TaskRecord{{ID: "Z05", Code: "Z05", Description: "Vakantie"}},
	})
	require.NoError(t, err)
	booker := timeoff.NewBooker(s, cat)
	req := timeoff.BookingRequest{
		LeaveTypeID: "Z05",
		StartDate:   generic.NewTimePoint(2024, time.January, 2),
		EndDate:     generic.NewTimePoint(2024, time.January, 2),
		HoursPerDay: decimal.NewFromInt(8),
	}

	const workers = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := booker.BookLeave(ctx, generic.Principal{EmployeeID: "emp-1"}, req)
			if err == nil {
				mu.Lock()
				created += res.CreatedCount
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// THEN: the owner lock lets one booking insert; the rest see the duplicate
	assert.Equal(t, 1, created)
	entries, err := s.FindByOwnerDateTask(ctx, "emp-1", req.StartDate, "Z05")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_HistoryAndFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saved, err := s.Insert(ctx, draft())
	require.NoError(t, err)
	for _, action := range []generic.AuditAction{generic.AuditCreated, generic.AuditSubmitted} {
		require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{EntryID: saved.ID, ActorID: "emp-1", Action: action}))
	}

	history, err := s.History(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, generic.AuditSubmitted, history[1].Action)

	period := generic.PeriodID("P1")
	list, err := s.List(ctx, generic.EntryFilter{
		Owners:   []generic.EmployeeID{"emp-1"},
		PeriodID: &period,
		Statuses: []generic.EntryStatus{generic.StatusDraft},
	})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
