/*
errors.go - Centralized error kinds for the workflow core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure carries a machine-readable kind plus the offending
  entry ids and/or dates, so callers can highlight exactly what failed.

ERROR KINDS:
  1. validation     - Malformed input (bad dates, non-positive hours, missing reason)
  2. invalid_state  - Entry is not in the state the operation requires
  3. not_found      - Referenced entry/leave type/period does not exist
  4. forbidden      - Caller lacks ownership or reviewer capability

USAGE:
  Services return *Error for single failures and *BatchError when an
  all-or-nothing batch is rejected:

    if errors.Is(err, generic.ErrInvalidState) {
        ...
    }
    var batch *generic.BatchError
    if errors.As(err, &batch) {
        for _, f := range batch.Failures { ... }
    }

SEE ALSO:
  - workflow/engine.go: Raises these errors
  - api/handlers.go: Maps kinds to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState is returned when an entry is not in the required state.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller lacks ownership or capability.
	ErrForbidden = errors.New("forbidden")

	// ErrConcurrentModification is returned by stores when an optimistic
	// version check fails. The engine reports it as invalid_state.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Kind is the machine-readable error category.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindInvalidState Kind = "invalid_state"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindInvalidState:
		return ErrInvalidState
	case KindNotFound:
		return ErrNotFound
	case KindForbidden:
		return ErrForbidden
	}
	return nil
}

// rank orders kinds when a batch mixes several of them.
func (k Kind) rank() int {
	switch k {
	case KindForbidden:
		return 4
	case KindNotFound:
		return 3
	case KindInvalidState:
		return 2
	case KindValidation:
		return 1
	}
	return 0
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Error is a single typed failure.
type Error struct {
	Kind    Kind
	Message string
	IDs     []EntryID
	Dates   []TimePoint
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " (ids: %s)", joinIDs(e.IDs))
	}
	if len(e.Dates) > 0 {
		fmt.Fprintf(&b, " (dates: %s)", joinDates(e.Dates))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind.sentinel() }

// WithIDs attaches offending entry ids.
func (e *Error) WithIDs(ids ...EntryID) *Error {
	e.IDs = append(e.IDs, ids...)
	return e
}

// WithDates attaches offending dates.
func (e *Error) WithDates(dates ...TimePoint) *Error {
	e.Dates = append(e.Dates, dates...)
	return e
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Failure is one rejected item of a batch.
type Failure struct {
	ID     EntryID
	Kind   Kind
	Reason string
}

// BatchError reports every failing item of an all-or-nothing batch.
// No item of the batch was written.
type BatchError struct {
	Op       string
	Failures []Failure
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s (%s)", f.ID, f.Kind, f.Reason)
	}
	return fmt.Sprintf("%s rejected: %s", e.Op, strings.Join(parts, "; "))
}

// Unwrap exposes the sentinel of every failure kind in the batch.
func (e *BatchError) Unwrap() []error {
	seen := make(map[Kind]bool)
	var errs []error
	for _, f := range e.Failures {
		if seen[f.Kind] {
			continue
		}
		seen[f.Kind] = true
		if s := f.Kind.sentinel(); s != nil {
			errs = append(errs, s)
		}
	}
	return errs
}

// Kind returns the dominant kind: forbidden > not_found > invalid_state > validation.
func (e *BatchError) Kind() Kind {
	best := KindValidation
	for _, f := range e.Failures {
		if f.Kind.rank() > best.rank() {
			best = f.Kind
		}
	}
	return best
}

// IDs lists the failing entry ids in batch order.
func (e *BatchError) IDs() []EntryID {
	ids := make([]EntryID, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ID
	}
	return ids
}

// FailureFrom converts err into a batch item failure for id.
func FailureFrom(id EntryID, err error) Failure {
	var e *Error
	if errors.As(err, &e) {
		return Failure{ID: id, Kind: e.Kind, Reason: e.Message}
	}
	if errors.Is(err, ErrConcurrentModification) {
		return Failure{ID: id, Kind: KindInvalidState, Reason: "entry was modified concurrently"}
	}
	return Failure{ID: id, Kind: KindOf(err), Reason: err.Error()}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies any error returned by the core.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var batch *BatchError
	if errors.As(err, &batch) {
		return batch.Kind()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConcurrentModification):
		return KindInvalidState
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or permissions.
func IsClientError(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindInternal
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func joinIDs(ids []EntryID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}

func joinDates(dates []TimePoint) string {
	s := make([]string, len(dates))
	for i, d := range dates {
		s[i] = d.String()
	}
	return strings.Join(s, ", ")
}
