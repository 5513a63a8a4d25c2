package catalog

import (
	"context"
	"strconv"

	"github.com/warp/clockd/generic"
	"golang.org/x/sync/singleflight"
)

// Deduped collapses concurrent identical lookups against a slower Catalog
// (the sqlite tables, a remote directory). Results are not cached: once the
// in-flight call returns, the next lookup goes to the inner catalog again.
type Deduped struct {
	inner Catalog
	group singleflight.Group
}

func NewDeduped(inner Catalog) *Deduped {
	return &Deduped{inner: inner}
}

// do runs fn once per key for all concurrent callers. The shared call is
// detached from the first caller's cancellation; each caller still stops
// waiting when its own ctx is done.
func do[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	shared := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (any, error) { return fn(shared) })

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (d *Deduped) IsWorkday(ctx context.Context, date generic.TimePoint) (bool, error) {
	return do(ctx, &d.group, "workday:"+date.String(), func(ctx context.Context) (bool, error) {
		return d.inner.IsWorkday(ctx, date)
	})
}

func (d *Deduped) GetLeaveType(ctx context.Context, id generic.TaskID) (LeaveType, error) {
	return do(ctx, &d.group, "leave:"+string(id), func(ctx context.Context) (LeaveType, error) {
		return d.inner.GetLeaveType(ctx, id)
	})
}

func (d *Deduped) GetPeriod(ctx context.Context, id generic.PeriodID) (generic.Period, error) {
	return do(ctx, &d.group, "period:"+string(id), func(ctx context.Context) (generic.Period, error) {
		return d.inner.GetPeriod(ctx, id)
	})
}

func (d *Deduped) PeriodFor(ctx context.Context, date generic.TimePoint) (generic.Period, error) {
	return do(ctx, &d.group, "period-for:"+date.String(), func(ctx context.Context) (generic.Period, error) {
		return d.inner.PeriodFor(ctx, date)
	})
}

func (d *Deduped) GetTask(ctx context.Context, id generic.TaskID) (Task, error) {
	return do(ctx, &d.group, "task:"+string(id), func(ctx context.Context) (Task, error) {
		return d.inner.GetTask(ctx, id)
	})
}

func (d *Deduped) GetProject(ctx context.Context, id generic.ProjectID) (Project, error) {
	return do(ctx, &d.group, "project:"+string(id), func(ctx context.Context) (Project, error) {
		return d.inner.GetProject(ctx, id)
	})
}

func (d *Deduped) GetEmployee(ctx context.Context, id generic.EmployeeID) (Employee, error) {
	return do(ctx, &d.group, "employee:"+string(id), func(ctx context.Context) (Employee, error) {
		return d.inner.GetEmployee(ctx, id)
	})
}

func (d *Deduped) ListLeaveTypes(ctx context.Context, includeHistorical bool) ([]LeaveType, error) {
	return do(ctx, &d.group, "leave-types:"+strconv.FormatBool(includeHistorical), func(ctx context.Context) ([]LeaveType, error) {
		return d.inner.ListLeaveTypes(ctx, includeHistorical)
	})
}

var _ Catalog = (*Deduped)(nil)
