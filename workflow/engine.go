/*
Package workflow implements the entry approval state machine.

PURPOSE:
  Moves worked-hours and leave entries through their lifecycle and
  enforces who may do what, in which state:

    DRAFT --submit--> SUBMITTED --review(approve)--> APPROVED
                          |
                          +----review(reject)----> REJECTED --resubmit--> SUBMITTED

BATCH CONTRACTS:
  SubmitEntries, ResubmitEntries: all-or-nothing. Any failing guard aborts
    the whole batch; the caller gets a *generic.BatchError listing every
    failing id with its kind and reason.
  ReviewEntries: per item. Entries that can't be reviewed are skipped and
    reported; the rest commit.

ATOMICITY:
  Every mutating operation runs inside exactly one TxStore.WithTx. Audit
  records are written in the same transaction. Events are published only
  after commit and a publish failure is logged, never returned.

CALLER:
  Every operation takes the authenticated generic.Principal explicitly.

SEE ALSO:
  - status.go: Transition table
  - drafts.go: SaveDraft, ReviseRejected, DeleteDraft
  - transitions.go: SubmitEntries, ResubmitEntries, ReviewEntries
  - queries.go: ListOwn, PendingReview, History
*/
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/events"
	"github.com/warp/clockd/generic"
	"go.uber.org/zap"
)

// Reviewers decides reviewer capability per team (auth.Enforcer).
type Reviewers interface {
	CanReview(ctx context.Context, p generic.Principal, team generic.TeamID) (bool, error)
}

// Engine runs workflow operations against an Entry Store.
type Engine struct {
	store     generic.TxStore
	catalog   catalog.Catalog
	reviewers Reviewers
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.Named("workflow.engine")
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store generic.TxStore, cat catalog.Catalog, reviewers Reviewers, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		catalog:   cat,
		reviewers: reviewers,
		publisher: events.Nop{},
		logger:    zap.L().Named("workflow.engine"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanReviewOwner reports whether p may review entries owned by owner.
// An unknown owner yields false.
func (e *Engine) CanReviewOwner(ctx context.Context, p generic.Principal, owner generic.EmployeeID) (bool, error) {
	emp, err := e.catalog.GetEmployee(ctx, owner)
	if err != nil {
		if errors.Is(err, generic.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return e.reviewers.CanReview(ctx, p, emp.TeamID)
}

// reviewCache memoizes CanReviewOwner for one operation.
type reviewCache struct {
	engine *Engine
	p      generic.Principal
	seen   map[generic.EmployeeID]bool
}

func (e *Engine) newReviewCache(p generic.Principal) *reviewCache {
	return &reviewCache{engine: e, p: p, seen: make(map[generic.EmployeeID]bool)}
}

func (c *reviewCache) allowed(ctx context.Context, owner generic.EmployeeID) (bool, error) {
	if ok, hit := c.seen[owner]; hit {
		return ok, nil
	}
	ok, err := c.engine.CanReviewOwner(ctx, c.p, owner)
	if err != nil {
		return false, err
	}
	c.seen[owner] = ok
	return ok, nil
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish event failed",
			zap.String("type", string(ev.Type)),
			zap.Int("entries", len(ev.EntryIDs)),
			zap.Error(err),
		)
	}
}

func requirePrincipal(p generic.Principal) error {
	if p.IsZero() {
		return generic.Forbidden("no authenticated principal")
	}
	return nil
}

// dedupe keeps the first occurrence of each id.
func dedupe(ids []generic.EntryID) []generic.EntryID {
	seen := make(map[generic.EntryID]bool, len(ids))
	out := make([]generic.EntryID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func idStrings(ids []generic.EntryID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
