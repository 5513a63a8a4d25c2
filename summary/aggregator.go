/*
Package summary computes hour totals over date windows.

PURPOSE:
  Read-only reporting over the entry store. Totals are recomputed on every
  call and never stored.

RULES:
  - Windows are inclusive on both ends: from <= entry.Date <= to
  - Every status counts; callers pass Statuses to narrow
  - Sums are unrounded decimals; rounding happens at the API boundary

SEE ALSO:
  - catalog/classify.go: Leave code to category
  - api/handlers.go: Formats hours with two decimals
*/
package summary

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/generic"
	"go.uber.org/zap"
)

// Summary is one owner's entries and total over a window.
type Summary struct {
	OwnerID    generic.EmployeeID
	From       generic.TimePoint
	To         generic.TimePoint
	TotalHours decimal.Decimal
	Entries    []generic.Entry
}

// TotalsQuery selects the entries Totals groups.
type TotalsQuery struct {
	Owners     []generic.EmployeeID // empty: every owner
	From       generic.TimePoint
	To         generic.TimePoint
	Statuses   []generic.EntryStatus // empty: every status
	ByCategory bool
}

// Total is the hours and distinct days of one group.
type Total struct {
	OwnerID  generic.EmployeeID
	Category catalog.Category // empty unless grouped by category
	Hours    decimal.Decimal
	Days     int
}

type Aggregator struct {
	store   generic.EntryStore
	catalog catalog.Catalog
	logger  *zap.Logger
}

func NewAggregator(store generic.EntryStore, cat catalog.Catalog, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.L()
	}
	return &Aggregator{store: store, catalog: cat, logger: logger.Named("summary.aggregator")}
}

// Summarize sums every entry of owner in [from, to].
func (a *Aggregator) Summarize(ctx context.Context, owner generic.EmployeeID, from, to generic.TimePoint) (Summary, error) {
	if err := checkWindow(from, to); err != nil {
		return Summary{}, err
	}
	entries, err := a.store.List(ctx, generic.EntryFilter{
		Owners: []generic.EmployeeID{owner},
		From:   &from,
		To:     &to,
	})
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		OwnerID:    owner,
		From:       from,
		To:         to,
		TotalHours: generic.SumHours(entries),
		Entries:    entries,
	}, nil
}

type groupKey struct {
	owner    generic.EmployeeID
	category catalog.Category
}

type group struct {
	hours decimal.Decimal
	days  map[string]struct{}
}

// Totals groups hours by owner, and by category when q.ByCategory is set.
func (a *Aggregator) Totals(ctx context.Context, q TotalsQuery) ([]Total, error) {
	if err := checkWindow(q.From, q.To); err != nil {
		return nil, err
	}
	entries, err := a.store.List(ctx, generic.EntryFilter{
		Owners:   q.Owners,
		Statuses: q.Statuses,
		From:     &q.From,
		To:       &q.To,
	})
	if err != nil {
		return nil, err
	}

	categories := make(map[generic.TaskID]catalog.Category)
	groups := make(map[groupKey]*group)
	for _, e := range entries {
		key := groupKey{owner: e.OwnerID}
		if q.ByCategory {
			cat, ok := categories[e.TaskID]
			if !ok {
				cat, err = a.categoryOf(ctx, e.TaskID)
				if err != nil {
					return nil, err
				}
				categories[e.TaskID] = cat
			}
			key.category = cat
		}
		g, ok := groups[key]
		if !ok {
			g = &group{hours: decimal.Zero, days: make(map[string]struct{})}
			groups[key] = g
		}
		g.hours = g.hours.Add(e.Hours)
		g.days[e.Date.String()] = struct{}{}
	}

	totals := make([]Total, 0, len(groups))
	for key, g := range groups {
		totals = append(totals, Total{OwnerID: key.owner, Category: key.category, Hours: g.hours, Days: len(g.days)})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].OwnerID != totals[j].OwnerID {
			return totals[i].OwnerID < totals[j].OwnerID
		}
		return totals[i].Category < totals[j].Category
	})

	a.logger.Debug("totals computed",
		zap.Int("entries", len(entries)),
		zap.Int("groups", len(totals)),
		zap.Bool("by_category", q.ByCategory),
	)
	return totals, nil
}

// categoryOf classifies leave codes; any other task is worked time.
func (a *Aggregator) categoryOf(ctx context.Context, id generic.TaskID) (catalog.Category, error) {
	code, err := catalog.TaskCode(ctx, a.catalog, id)
	if err != nil {
		return "", err
	}
	if !catalog.IsLeaveCode(code) {
		return catalog.CategoryWork, nil
	}
	return catalog.Classify(code), nil
}

func checkWindow(from, to generic.TimePoint) error {
	if from.IsZero() || to.IsZero() {
		return generic.Validation("from and to are required")
	}
	if from.After(to) {
		return generic.Validation("from %s is after to %s", from, to).WithDates(from, to)
	}
	return nil
}
