// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/clockd/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[generic.EntryID]generic.Entry
	audit   map[generic.EntryID][]generic.AuditEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[generic.EntryID]generic.Entry),
		audit:   make(map[generic.EntryID][]generic.AuditEntry),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, id generic.EntryID) (generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) GetMany(_ context.Context, ids []generic.EntryID) (map[generic.EntryID]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getManyLocked(ids), nil
}

func (m *Memory) Insert(_ context.Context, e generic.Entry) (generic.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *Memory) Update(_ context.Context, e generic.Entry) (generic.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(e)
}

func (m *Memory) Delete(_ context.Context, id generic.EntryID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id, version)
}

func (m *Memory) FindByOwnerDateTask(_ context.Context, owner generic.EmployeeID, date generic.TimePoint, task generic.TaskID) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(owner, date, task), nil
}

// LockOwner is a no-op: TxMemory transactions hold the write lock.
func (m *Memory) LockOwner(context.Context, generic.EmployeeID) error { return nil }

func (m *Memory) List(_ context.Context, filter generic.EntryFilter) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) AppendAudit(_ context.Context, a generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(a)
	return nil
}

func (m *Memory) History(_ context.Context, id generic.EntryID) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.AuditEntry(nil), m.audit[id]...), nil
}

// =============================================================================
// LOCKED HELPERS - Callers hold mu
// =============================================================================

func (m *Memory) getLocked(id generic.EntryID) (generic.Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return generic.Entry{}, generic.NotFound("entry not found").WithIDs(id)
	}
	return e, nil
}

func (m *Memory) getManyLocked(ids []generic.EntryID) map[generic.EntryID]generic.Entry {
	result := make(map[generic.EntryID]generic.Entry, len(ids))
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			result[id] = e
		}
	}
	return result
}

func (m *Memory) insertLocked(e generic.Entry) (generic.Entry, error) {
	if e.ID == "" {
		e.ID = generic.EntryID(uuid.NewString())
	}
	if _, exists := m.entries[e.ID]; exists {
		return generic.Entry{}, fmt.Errorf("insert entry %s: %w", e.ID, generic.ErrConcurrentModification)
	}
	now := m.now().UTC()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	m.entries[e.ID] = e
	return e, nil
}

func (m *Memory) updateLocked(e generic.Entry) (generic.Entry, error) {
	current, ok := m.entries[e.ID]
	if !ok {
		return generic.Entry{}, generic.NotFound("entry not found").WithIDs(e.ID)
	}
	if current.Version != e.Version {
		return generic.Entry{}, fmt.Errorf("update entry %s: %w", e.ID, generic.ErrConcurrentModification)
	}
	e.Version++
	e.CreatedAt = current.CreatedAt
	e.UpdatedAt = m.now().UTC()
	m.entries[e.ID] = e
	return e, nil
}

func (m *Memory) deleteLocked(id generic.EntryID, version int64) error {
	current, ok := m.entries[id]
	if !ok {
		return generic.NotFound("entry not found").WithIDs(id)
	}
	if current.Version != version {
		return fmt.Errorf("delete entry %s: %w", id, generic.ErrConcurrentModification)
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) findLocked(owner generic.EmployeeID, date generic.TimePoint, task generic.TaskID) []generic.Entry {
	var result []generic.Entry
	for _, e := range m.entries {
		if e.OwnerID == owner && e.TaskID == task && e.Date.Equal(date) {
			result = append(result, e)
		}
	}
	sortEntries(result)
	return result
}

func (m *Memory) listLocked(filter generic.EntryFilter) []generic.Entry {
	var result []generic.Entry
	for _, e := range m.entries {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	sortEntries(result)
	return result
}

func (m *Memory) appendAuditLocked(a generic.AuditEntry) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = m.now().UTC()
	}
	m.audit[a.EntryID] = append(m.audit[a.EntryID], a)
}

func sortEntries(entries []generic.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions serialize.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.EntryStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	entries := make(map[generic.EntryID]generic.Entry, len(tm.entries))
	for k, v := range tm.entries {
		entries[k] = v
	}
	audit := make(map[generic.EntryID][]generic.AuditEntry, len(tm.audit))
	for k, v := range tm.audit {
		audit[k] = append([]generic.AuditEntry(nil), v...)
	}
	return memorySnapshot{entries: entries, audit: audit}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.audit = s.audit
}

type memorySnapshot struct {
	entries map[generic.EntryID]generic.Entry
	audit   map[generic.EntryID][]generic.AuditEntry
}

// txMemoryView is the EntryStore handed to WithTx callbacks. The parent's
// lock is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Get(_ context.Context, id generic.EntryID) (generic.Entry, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) GetMany(_ context.Context, ids []generic.EntryID) (map[generic.EntryID]generic.Entry, error) {
	return tv.parent.getManyLocked(ids), nil
}

func (tv *txMemoryView) Insert(_ context.Context, e generic.Entry) (generic.Entry, error) {
	return tv.parent.insertLocked(e)
}

func (tv *txMemoryView) Update(_ context.Context, e generic.Entry) (generic.Entry, error) {
	return tv.parent.updateLocked(e)
}

func (tv *txMemoryView) Delete(_ context.Context, id generic.EntryID, version int64) error {
	return tv.parent.deleteLocked(id, version)
}

func (tv *txMemoryView) FindByOwnerDateTask(_ context.Context, owner generic.EmployeeID, date generic.TimePoint, task generic.TaskID) ([]generic.Entry, error) {
	return tv.parent.findLocked(owner, date, task), nil
}

func (tv *txMemoryView) LockOwner(context.Context, generic.EmployeeID) error { return nil }

func (tv *txMemoryView) List(_ context.Context, filter generic.EntryFilter) ([]generic.Entry, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) AppendAudit(_ context.Context, a generic.AuditEntry) error {
	tv.parent.appendAuditLocked(a)
	return nil
}

func (tv *txMemoryView) History(_ context.Context, id generic.EntryID) ([]generic.AuditEntry, error) {
	return append([]generic.AuditEntry(nil), tv.parent.audit[id]...), nil
}

var (
	_ generic.TxStore    = (*TxMemory)(nil)
	_ generic.EntryStore = (*txMemoryView)(nil)
)
