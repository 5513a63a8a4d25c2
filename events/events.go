// Package events carries workflow notifications to downstream consumers
// (notification delivery, reporting). Publishing happens after commit and
// never decides the outcome of an operation.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/warp/clockd/generic"
)

type Type string

const (
	EntriesSubmitted   Type = "entries.submitted"
	EntriesApproved    Type = "entries.approved"
	EntriesRejected    Type = "entries.rejected"
	EntriesResubmitted Type = "entries.resubmitted"
	LeaveBooked        Type = "leave.booked"
)

// Event describes one committed workflow transition over a set of entries.
type Event struct {
	Type     Type                 `json:"type"`
	Actor    generic.EmployeeID   `json:"actor"`
	EntryIDs []generic.EntryID    `json:"entry_ids"`
	Owners   []generic.EmployeeID `json:"owners"`
	Reason   string               `json:"reason,omitempty"`
	At       time.Time            `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OwnersOf lists distinct owners in entry order.
func OwnersOf(entries []generic.Entry) []generic.EmployeeID {
	seen := make(map[generic.EmployeeID]bool)
	var owners []generic.EmployeeID
	for _, e := range entries {
		if !seen[e.OwnerID] {
			seen[e.OwnerID] = true
			owners = append(owners, e.OwnerID)
		}
	}
	return owners
}

// IDsOf lists entry ids in order.
func IDsOf(entries []generic.Entry) []generic.EntryID {
	ids := make([]generic.EntryID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
