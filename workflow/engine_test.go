package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clockd/auth"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/events"
	"github.com/warp/clockd/generic"
	"github.com/warp/clockd/generic/store"
	"github.com/warp/clockd/workflow"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const seed = `
periods:
  - {id: P1, code: "2024-01", start: "2024-01-01", end: "2024-01-31"}
teams:
  - {id: team-a, name: A, reviewers: [mgr-1]}
  - {id: team-b, name: B, reviewers: [mgr-2]}
employees:
  - {id: emp-1, name: Anna, team_id: team-a, active: true}
  - {id: emp-2, name: Bram, team_id: team-b, active: true}
  - {id: emp-3, name: Cees, team_id: team-a, active: false}
  - {id: mgr-1, name: Mila, team_id: team-a, active: true}
tasks:
  - {id: Z05, code: Z05, description: Vakantie}
  - {id: DEV, code: DEV, description: Development}
projects:
  - {id: prj-1, code: PRJ1, name: Platform, active: true}
  - {id: prj-old, code: OLD, name: Legacy, active: false}
`

var (
	anna  = generic.Principal{EmployeeID: "emp-1"}
	bram  = generic.Principal{EmployeeID: "emp-2"}
	cees  = generic.Principal{EmployeeID: "emp-3"}
	mila  = generic.Principal{EmployeeID: "mgr-1"}
	other = generic.Principal{EmployeeID: "mgr-2"}
)

// stepClock advances one minute on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type fixture struct {
	store    *store.TxMemory
	engine   *workflow.Engine
	recorder *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	snap, err := catalog.Parse([]byte(seed))
	require.NoError(t, err)
	cat, err := catalog.NewStatic(snap)
	require.NoError(t, err)

	enforcer, err := auth.NewEnforcer()
	require.NoError(t, err)
	require.NoError(t, enforcer.LoadTeams(cat.Teams()))

	st := store.NewTxMemory()
	rec := &events.Recorder{}
	clock := &stepClock{now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}
	engine := workflow.NewEngine(st, cat, enforcer,
		workflow.WithPublisher(rec),
		workflow.WithClock(clock.Now),
	)
	return &fixture{store: st, engine: engine, recorder: rec}
}

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func hours(h float64) decimal.Decimal { return decimal.NewFromFloat(h) }

func leaveDraft(day int) workflow.DraftInput {
	return workflow.DraftInput{
		PeriodID: "P1",
		TaskID:   "Z05",
		Date:     date(2024, time.January, day),
		Hours:    hours(8),
	}
}

func (f *fixture) draft(t *testing.T, p generic.Principal, day int) generic.Entry {
	t.Helper()
	res, err := f.engine.SaveDraft(context.Background(), p, leaveDraft(day))
	require.NoError(t, err)
	return res.Entry
}

func (f *fixture) status(t *testing.T, id generic.EntryID) generic.EntryStatus {
	t.Helper()
	e, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return e.Status
}

func kindOf(t *testing.T, err error) generic.Kind {
	t.Helper()
	require.Error(t, err)
	return generic.KindOf(err)
}

// =============================================================================
// SAVE DRAFT
// =============================================================================

func TestSaveDraft_CreatesLeaveDraft(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.SaveDraft(context.Background(), anna, leaveDraft(2))
	require.NoError(t, err)

	e := res.Entry
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, generic.StatusDraft, e.Status)
	assert.Equal(t, generic.EmployeeID("emp-1"), e.OwnerID)
	assert.Nil(t, e.ProjectID)
	assert.True(t, hours(8).Equal(e.Hours))
	assert.Nil(t, e.SubmittedAt)
	assert.Empty(t, res.Warnings)

	history, err := f.store.History(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, generic.AuditCreated, history[0].Action)
}

func TestSaveDraft_DerivesWorkedHours(t *testing.T) {
	// GIVEN: 09:00-17:30 with a 30 minute break
	f := newFixture(t)
	start := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 17, 30, 0, 0, time.UTC)
	project := generic.ProjectID("prj-1")

	// WHEN
	res, err := f.engine.SaveDraft(context.Background(), anna, workflow.DraftInput{
		PeriodID:     "P1",
		TaskID:       "DEV",
		ProjectID:    &project,
		Start:        &start,
		End:          &end,
		BreakMinutes: 30,
	})

	// THEN: 8 hours on the start's day
	require.NoError(t, err)
	assert.True(t, hours(8).Equal(res.Entry.Hours), res.Entry.Hours.String())
	assert.Equal(t, "2024-01-03", res.Entry.Date.String())
	assert.Equal(t, &project, res.Entry.ProjectID)
}

func TestSaveDraft_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unknownProject := generic.ProjectID("nope")
	inactiveProject := generic.ProjectID("prj-old")
	start := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)

	cases := map[string]workflow.DraftInput{
		"zero hours":       {PeriodID: "P1", TaskID: "Z05", Date: date(2024, time.January, 2), Hours: decimal.Zero},
		"negative hours":   {PeriodID: "P1", TaskID: "Z05", Date: date(2024, time.January, 2), Hours: hours(-1)},
		"over 24 hours":    {PeriodID: "P1", TaskID: "Z05", Date: date(2024, time.January, 2), Hours: hours(24.5)},
		"outside period":   {PeriodID: "P1", TaskID: "Z05", Date: date(2024, time.February, 1), Hours: hours(8)},
		"unknown period":   {PeriodID: "P9", TaskID: "Z05", Date: date(2024, time.January, 2), Hours: hours(8)},
		"unknown task":     {PeriodID: "P1", TaskID: "XXX", Date: date(2024, time.January, 2), Hours: hours(8)},
		"unknown project":  {PeriodID: "P1", TaskID: "DEV", ProjectID: &unknownProject, Date: date(2024, time.January, 2), Hours: hours(8)},
		"inactive project": {PeriodID: "P1", TaskID: "DEV", ProjectID: &inactiveProject, Date: date(2024, time.January, 2), Hours: hours(8)},
		"missing date":     {PeriodID: "P1", TaskID: "Z05", Hours: hours(8)},
		"end before start": {PeriodID: "P1", TaskID: "DEV", Start: &start, End: &before},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.SaveDraft(ctx, anna, in)
			assert.Equal(t, generic.KindValidation, kindOf(t, err))
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	list, err := f.store.List(ctx, generic.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, list, "no entry may be written on validation failure")
}

func TestSaveDraft_InactiveOrUnknownEmployee(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SaveDraft(context.Background(), cees, leaveDraft(2))
	assert.Equal(t, generic.KindForbidden, kindOf(t, err))

	_, err = f.engine.SaveDraft(context.Background(), generic.Principal{EmployeeID: "ghost"}, leaveDraft(2))
	assert.Equal(t, generic.KindNotFound, kindOf(t, err))

	_, err = f.engine.SaveDraft(context.Background(), generic.Principal{}, leaveDraft(2))
	assert.Equal(t, generic.KindForbidden, kindOf(t, err))
}

func TestSaveDraft_UpdatesOnlyOwnDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.draft(t, anna, 2)

	// WHEN: the owner edits the draft
	in := leaveDraft(3)
	in.ID = &e.ID
	in.Description = "moved"
	res, err := f.engine.SaveDraft(ctx, anna, in)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", res.Entry.Date.String())
	assert.Equal(t, "moved", res.Entry.Description)
	assert.Equal(t, int64(2), res.Entry.Version)

	// WHEN: someone else edits it
	_, err = f.engine.SaveDraft(ctx, bram, in)
	assert.Equal(t, generic.KindForbidden, kindOf(t, err))

	// WHEN: it's no longer a draft
	_, err = f.engine.SubmitEntries(ctx, anna, []generic.EntryID{e.ID})
	require.NoError(t, err)
	_, err = f.engine.SaveDraft(ctx, anna, in)
	assert.Equal(t, generic.KindInvalidState, kindOf(t, err))

	// WHEN: the id doesn't exist
	missing := generic.EntryID("missing")
	in.ID = &missing
	_, err = f.engine.SaveDraft(ctx, anna, in)
	assert.Equal(t, generic.KindNotFound, kindOf(t, err))
}

func TestSaveDraft_StateCheckedBeforeContent(t *testing.T) {
	// GIVEN: an approved entry
	f := newFixture(t)
	ctx := context.Background()
	e := f.submitted(t, anna, 2)
	_, err := f.engine.ReviewEntries(ctx, mila, workflow.ReviewInput{IDs: []generic.EntryID{e.ID}, Approve: true})
	require.NoError(t, err)

	// WHEN: the owner tries to set 25 hours on it
	in := leaveDraft(2)
	in.ID = &e.ID
	in.Hours = hours(25)
	_, err = f.engine.SaveDraft(ctx, anna, in)

	// THEN: the state is what's wrong, not the hours
	assert.Equal(t, generic.KindInvalidState, kindOf(t, err))

	// AND: another employee sending bad input is refused as not the owner
	_, err = f.engine.SaveDraft(ctx, bram, in)
	assert.Equal(t, generic.KindForbidden, kindOf(t, err))
	assert.Equal(t, generic.StatusApproved, f.status(t, e.ID))
}

func TestSaveDraft_WarnsOnPossibleDuplicate(t *testing.T) {
	f := newFixture(t)
	f.draft(t, anna, 2)

	res, err := f.engine.SaveDraft(context.Background(), anna, leaveDraft(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"possible duplicate entry on 2024-01-02"}, res.Warnings)
}

// =============================================================================
// DELETE DRAFT
// =============================================================================

func TestDeleteDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep := f.draft(t, anna, 2)
	drop := f.draft(t, anna, 3)

	assert.Equal(t, generic.KindForbidden, kindOf(t, f.engine.DeleteDraft(ctx, bram, drop.ID)))
	require.NoError(t, f.engine.DeleteDraft(ctx, anna, drop.ID))
	_, err := f.store.Get(ctx, drop.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	assert.Equal(t, generic.KindNotFound, kindOf(t, f.engine.DeleteDraft(ctx, anna, drop.ID)))

	_, err = f.engine.SubmitEntries(ctx, anna, []generic.EntryID{keep.ID})
	require.NoError(t, err)
	assert.Equal(t, generic.KindInvalidState, kindOf(t, f.engine.DeleteDraft(ctx, anna, keep.ID)))
}

// =============================================================================
// SUBMIT - all-or-nothing
// =============================================================================

func TestSubmit_TransitionsBatch(t *testing.T) {
	f := newFixture(t)
	a, b := f.draft(t, anna, 2), f.draft(t, anna, 3)

	res, err := f.engine.SubmitEntries(context.Background(), anna, []generic.EntryID{a.ID, b.ID, a.ID})
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	for _, e := range res.Entries {
		assert.Equal(t, generic.StatusSubmitted, e.Status)
		require.NotNil(t, e.SubmittedAt)
		assert.Equal(t, res.At, *e.SubmittedAt)
	}

	evs := f.recorder.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EntriesSubmitted, evs[0].Type)
	assert.ElementsMatch(t, []generic.EntryID{a.ID, b.ID}, evs[0].EntryIDs)
}

func TestSubmit_ZeroHoursRejectsWholeBatch(t *testing.T) {
	// GIVEN: three drafts, the second with hours=0
	f := newFixture(t)
	ctx := context.Background()
	first := f.draft(t, anna, 2)
	second, err := f.store.Insert(ctx, generic.Entry{
		OwnerID: "emp-1", PeriodID: "P1", TaskID: "Z05",
		Date: date(2024, time.January, 3), Hours: decimal.Zero, Status: generic.StatusDraft,
	})
	require.NoError(t, err)
	third := f.draft(t, anna, 4)

	// WHEN
	_, err = f.engine.SubmitEntries(ctx, anna, []generic.EntryID{first.ID, second.ID, third.ID})

	// THEN: the batch fails naming only the second entry
	var batch *generic.BatchError
	require.True(t, errors.As(err, &batch))
	assert.Equal(t, []generic.EntryID{second.ID}, batch.IDs())
	assert.Equal(t, generic.KindValidation, batch.Failures[0].Kind)
	assert.ErrorIs(t, err, generic.ErrValidation)

	// AND: nothing moved
	for _, id := range []generic.EntryID{first.ID, second.ID, third.ID} {
		assert.Equal(t, generic.StatusDraft, f.status(t, id))
	}
	assert.Empty(t, f.recorder.Events())
}

func TestSubmit_NonDraftRejectsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted := f.draft(t, anna, 2)
	_, err := f.engine.SubmitEntries(ctx, anna, []generic.EntryID{submitted.ID})
	require.NoError(t, err)
	fresh := f.draft(t, anna, 3)

	_, err = f.engine.SubmitEntries(ctx, anna, []generic.EntryID{fresh.ID, submitted.ID})

	assert.Equal(t, generic.KindInvalidState, kindOf(t, err))
	assert.Equal(t, generic.StatusDraft, f.status(t, fresh.ID))
}

func TestSubmit_ReportsEveryFailingID(t *testing.T) {
	f := newFixture(t)
	mine := f.draft(t, anna, 2)
	theirs := f.draft(t, bram, 2)

	_, err := f.engine.SubmitEntries(context.Background(), anna, []generic.EntryID{mine.ID, theirs.ID, "missing"})

	var batch *generic.BatchError
	require.True(t, errors.As(err, &batch))
	require.Len(t, batch.Failures, 2)
	assert.Equal(t, generic.Failure{ID: theirs.ID, Kind: generic.KindForbidden, Reason: "entry belongs to another employee"}, batch.Failures[0])
	assert.Equal(t, generic.KindNotFound, batch.Failures[1].Kind)
	assert.Equal(t, generic.KindForbidden, batch.Kind())
	assert.Equal(t, generic.StatusDraft, f.status(t, mine.ID))
}

func TestSubmit_EmptyBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitEntries(context.Background(), anna, nil)
	assert.Equal(t, generic.KindValidation, kindOf(t, err))
}

func TestSubmit_ConcurrentCallersOnlyOneWins(t *testing.T) {
	// GIVEN: one draft and many concurrent submitters
	f := newFixture(t)
	e := f.draft(t, anna, 2)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.SubmitEntries(context.Background(), anna, []generic.EntryID{e.ID})
		}(i)
	}
	wg.Wait()

	// THEN: exactly one succeeded, the rest observed invalid_state
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, generic.KindInvalidState, generic.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	history, err := f.store.History(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2) // created + submitted
}

// =============================================================================
// REVIEW - per item
// =============================================================================

func (f *fixture) submitted(t *testing.T, p generic.Principal, day int) generic.Entry {
	t.Helper()
	e := f.draft(t, p, day)
	res, err := f.engine.SubmitEntries(context.Background(), p, []generic.EntryID{e.ID})
	require.NoError(t, err)
	return res.Entries[0]
}

func TestReview_RejectWithoutReason(t *testing.T) {
	f := newFixture(t)
	e := f.submitted(t, anna, 2)

	_, err := f.engine.ReviewEntries(context.Background(), mila, workflow.ReviewInput{
		IDs: []generic.EntryID{e.ID}, Approve: false, Reason: "   ",
	})

	assert.Equal(t, generic.KindValidation, kindOf(t, err))
	assert.Contains(t, err.Error(), "rejection reason required")
	assert.Equal(t, generic.StatusSubmitted, f.status(t, e.ID))
}

func TestReview_ApproveSetsReviewStamp(t *testing.T) {
	f := newFixture(t)
	e := f.submitted(t, anna, 2)

	res, err := f.engine.ReviewEntries(context.Background(), mila, workflow.ReviewInput{
		IDs: []generic.EntryID{e.ID}, Approve: true,
	})

	require.NoError(t, err)
	require.Len(t, res.Processed, 1)
	got := res.Processed[0]
	assert.Equal(t, generic.StatusApproved, got.Status)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, generic.EmployeeID("mgr-1"), *got.ReviewedBy)
	assert.NotNil(t, got.ReviewedAt)
	assert.Nil(t, got.RejectionReason)
}

func TestReview_ReapprovingIsSkippedNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	approved := f.submitted(t, anna, 2)
	_, err := f.engine.ReviewEntries(ctx, mila, workflow.ReviewInput{IDs: []generic.EntryID{approved.ID}, Approve: true})
	require.NoError(t, err)
	pending := f.submitted(t, anna, 3)

	// WHEN: the already-approved entry is reviewed again with a fresh one
	res, err := f.engine.ReviewEntries(ctx, mila, workflow.ReviewInput{
		IDs: []generic.EntryID{approved.ID, pending.ID}, Approve: true,
	})

	// THEN
	require.NoError(t, err)
	require.Len(t, res.Processed, 1)
	assert.Equal(t, pending.ID, res.Processed[0].ID)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, approved.ID, res.Skipped[0].ID)
	assert.Equal(t, generic.KindInvalidState, res.Skipped[0].Kind)
}

func TestReview_SkipsOtherTeamsAndMissing(t *testing.T) {
	f := newFixture(t)
	mine := f.submitted(t, anna, 2)
	foreign := f.submitted(t, bram, 2)

	res, err := f.engine.ReviewEntries(context.Background(), mila, workflow.ReviewInput{
		IDs: []generic.EntryID{mine.ID, foreign.ID, "missing"}, Approve: false, Reason: "wrong code",
	})

	require.NoError(t, err)
	require.Len(t, res.Processed, 1)
	assert.Equal(t, "wrong code", *res.Processed[0].RejectionReason)
	kinds := map[generic.EntryID]generic.Kind{}
	for _, s := range res.Skipped {
		kinds[s.ID] = s.Kind
	}
	assert.Equal(t, generic.KindForbidden, kinds[foreign.ID])
	assert.Equal(t, generic.KindNotFound, kinds["missing"])
	assert.Equal(t, generic.StatusSubmitted, f.status(t, foreign.ID))

	evs := f.recorder.Events()
	last := evs[len(evs)-1]
	assert.Equal(t, events.EntriesRejected, last.Type)
	assert.Equal(t, "wrong code", last.Reason)
}

func TestReview_AdminRoleReviewsAnyTeam(t *testing.T) {
	f := newFixture(t)
	e := f.submitted(t, bram, 2)
	admin := generic.Principal{EmployeeID: "boss", Roles: []string{auth.RoleAdmin}}

	res, err := f.engine.ReviewEntries(context.Background(), admin, workflow.ReviewInput{IDs: []generic.EntryID{e.ID}, Approve: true})
	require.NoError(t, err)
	assert.Len(t, res.Processed, 1)
}

// =============================================================================
// RESUBMIT
// =============================================================================

func TestRoundTrip_RejectAndResubmit(t *testing.T) {
	// GIVEN: a draft that is submitted and rejected
	f := newFixture(t)
	ctx := context.Background()
	e := f.submitted(t, anna, 2)
	firstSubmit := *e.SubmittedAt
	_, err := f.engine.ReviewEntries(ctx, mila, workflow.ReviewInput{
		IDs: []generic.EntryID{e.ID}, Approve: false, Reason: "wrong leave type",
	})
	require.NoError(t, err)

	// WHEN: the owner revises and resubmits
	in := leaveDraft(2)
	in.Description = "fixed"
	_, err = f.engine.ReviseRejected(ctx, anna, e.ID, in)
	require.NoError(t, err)
	res, err := f.engine.ResubmitEntries(ctx, anna, []generic.EntryID{e.ID})
	require.NoError(t, err)

	// THEN: SUBMITTED again, reason cleared, new submittedAt
	got := res.Entries[0]
	assert.Equal(t, generic.StatusSubmitted, got.Status)
	assert.Nil(t, got.RejectionReason)
	assert.Nil(t, got.ReviewedAt)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, got.SubmittedAt.After(firstSubmit))
	assert.Equal(t, "fixed", got.Description)

	// AND: the rejection is preserved in the audit trail
	history, err := f.engine.History(ctx, anna, e.ID)
	require.NoError(t, err)
	actions := make([]generic.AuditAction, len(history))
	for i, h := range history {
		actions[i] = h.Action
	}
	assert.Equal(t, []generic.AuditAction{
		generic.AuditCreated, generic.AuditSubmitted, generic.AuditRejected,
		generic.AuditRevised, generic.AuditResubmitted,
	}, actions)
	assert.Equal(t, "wrong leave type", history[2].Reason)
}

func TestResubmit_RequiresRejected(t *testing.T) {
	f := newFixture(t)
	e := f.draft(t, anna, 2)

	_, err := f.engine.ResubmitEntries(context.Background(), anna, []generic.EntryID{e.ID})
	assert.Equal(t, generic.KindInvalidState, kindOf(t, err))
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestReviseRejected_RequiresRejected(t *testing.T) {
	f := newFixture(t)
	e := f.draft(t, anna, 2)

	_, err := f.engine.ReviseRejected(context.Background(), anna, e.ID, leaveDraft(2))
	assert.Equal(t, generic.KindInvalidState, kindOf(t, err))
}

// =============================================================================
// QUERIES
// =============================================================================

func TestListOwnAndPendingReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.draft(t, anna, 2)
	f.submitted(t, anna, 3)
	f.submitted(t, bram, 3)
	period := generic.PeriodID("P1")

	own, err := f.engine.ListOwn(ctx, anna, workflow.ListFilter{PeriodID: &period})
	require.NoError(t, err)
	assert.Equal(t, 2, own.TotalCount)
	assert.True(t, hours(16).Equal(own.TotalHours))

	drafts, err := f.engine.ListOwn(ctx, anna, workflow.ListFilter{Statuses: []generic.EntryStatus{generic.StatusDraft}})
	require.NoError(t, err)
	assert.Equal(t, 1, drafts.TotalCount)

	pending, err := f.engine.PendingReview(ctx, mila, &period)
	require.NoError(t, err)
	require.Equal(t, 1, pending.TotalCount)
	assert.Equal(t, generic.EmployeeID("emp-1"), pending.Entries[0].OwnerID)

	none, err := f.engine.PendingReview(ctx, other, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, none.TotalCount) // mgr-2 reviews team-b
}

func TestHistory_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.draft(t, anna, 2)

	_, err := f.engine.History(ctx, mila, e.ID)
	assert.NoError(t, err)

	_, err = f.engine.History(ctx, bram, e.ID)
	assert.Equal(t, generic.KindForbidden, kindOf(t, err))

	_, err = f.engine.Get(ctx, other, e.ID)
	assert.Equal(t, generic.KindForbidden, kindOf(t, err))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, workflow.CanTransition(generic.StatusDraft, generic.StatusSubmitted))
	assert.True(t, workflow.CanTransition(generic.StatusSubmitted, generic.StatusRejected))
	assert.True(t, workflow.CanTransition(generic.StatusRejected, generic.StatusSubmitted))
	assert.False(t, workflow.CanTransition(generic.StatusApproved, generic.StatusSubmitted))
	assert.False(t, workflow.CanTransition(generic.StatusDraft, generic.StatusApproved))
	assert.True(t, workflow.Editable(generic.StatusRejected))
	assert.False(t, workflow.Editable(generic.StatusApproved))
}
