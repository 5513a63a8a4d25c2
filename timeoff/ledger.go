/*
ledger.go - Leave days per owner, with day uniqueness per leave type

PURPOSE:
  Read view over the entry store restricted to leave entries. The booking
  generator asks it whether a day is already booked before inserting.

INVARIANT:
  At most one booking for (OwnerID, Date, LeaveTypeID), in any status.

  Unlike worked-hours entries (several per day are normal), a leave day
  is a calendar day. Booking Z05 twice on March 10th is a duplicate; Z05
  and Z20 on the same day are not.

QUERYING:
  - IsDayBooked(owner, date, leaveType): any existing entry blocks the day
  - BookedDays(owner, from, to): every leave entry in a window, by date

  An entry is leave when its task code is a leave code. Worked hours may
  be recorded without a project, so the project is not a signal.

SEE ALSO:
  - generic/store.go: FindByOwnerDateTask, List
  - catalog/classify.go: TaskCode, IsLeaveCode
  - booking.go: Uses the ledger inside the booking transaction
*/
package timeoff

import (
	"context"

	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/generic"
)

// Ledger answers leave-day questions against an entry store. Built per
// transaction so reads see uncommitted bookings of the same batch.
type Ledger struct {
	store generic.EntryStore
	tasks catalog.TaskGetter
}

func NewLedger(store generic.EntryStore, tasks catalog.TaskGetter) *Ledger {
	return &Ledger{store: store, tasks: tasks}
}

// IsDayBooked reports whether owner already has an entry for leaveType on date.
func (l *Ledger) IsDayBooked(ctx context.Context, owner generic.EmployeeID, date generic.TimePoint, leaveType generic.TaskID) (bool, error) {
	existing, err := l.store.FindByOwnerDateTask(ctx, owner, date, leaveType)
	if err != nil {
		return false, err
	}
	return len(existing) > 0, nil
}

// BookedDays returns owner's leave bookings in [from, to], ordered by date.
// It resolves task codes through the catalog, so never call it inside a
// store transaction.
func (l *Ledger) BookedDays(ctx context.Context, owner generic.EmployeeID, from, to generic.TimePoint) ([]Booking, error) {
	entries, err := l.store.List(ctx, generic.EntryFilter{
		Owners: []generic.EmployeeID{owner},
		From:   &from,
		To:     &to,
	})
	if err != nil {
		return nil, err
	}

	codes := make(map[generic.TaskID]string)
	var bookings []Booking
	for _, e := range entries {
		code, ok := codes[e.TaskID]
		if !ok {
			if code, err = catalog.TaskCode(ctx, l.tasks, e.TaskID); err != nil {
				return nil, err
			}
			codes[e.TaskID] = code
		}
		if !catalog.IsLeaveCode(code) {
			continue
		}
		bookings = append(bookings, Booking{Entry: e, Code: code, Category: catalog.Classify(code)})
	}
	return bookings, nil
}
