/*
Package catalog is the read-only Reference Catalog Client.

PURPOSE:
  The workflow core treats employees, teams, tasks, projects, periods and
  the holiday calendar as reference data owned elsewhere. This package
  defines the lookups the core needs and ships three implementations.

IMPLEMENTATIONS:
  Static:  In-memory, built from a Snapshot (YAML seed via LoadFile)
  Deduped: Wraps any Catalog, collapsing concurrent identical lookups
  sqlite:  store/sqlite.Store implements Catalog on its reference tables

LEAVE TYPES:
  A leave type is a task whose code starts with "Z". Its category is
  derived from the code by Classify (classify.go).

SEE ALSO:
  - classify.go: Code -> category mapping
  - workflow/engine.go: Validates task/project/period on SaveDraft
  - timeoff/booking.go: Leave type, workday and period lookups
*/
package catalog

import (
	"context"

	"github.com/warp/clockd/generic"
)

// Catalog supplies the reference lookups the workflow core needs.
// Missing records are reported as generic.ErrNotFound.
type Catalog interface {
	// IsWorkday is weekend and holiday aware.
	IsWorkday(ctx context.Context, date generic.TimePoint) (bool, error)
	GetLeaveType(ctx context.Context, id generic.TaskID) (LeaveType, error)
	GetPeriod(ctx context.Context, id generic.PeriodID) (generic.Period, error)
	// PeriodFor returns the period whose bounds contain date.
	PeriodFor(ctx context.Context, date generic.TimePoint) (generic.Period, error)
	GetTask(ctx context.Context, id generic.TaskID) (Task, error)
	GetProject(ctx context.Context, id generic.ProjectID) (Project, error)
	GetEmployee(ctx context.Context, id generic.EmployeeID) (Employee, error)
	ListLeaveTypes(ctx context.Context, includeHistorical bool) ([]LeaveType, error)
}

// =============================================================================
// REFERENCE RECORDS
// =============================================================================

type Employee struct {
	ID     generic.EmployeeID
	Name   string
	TeamID generic.TeamID
	Active bool
}

type Team struct {
	ID        generic.TeamID
	Name      string
	Reviewers []generic.EmployeeID
}

// Task is a work task or a leave-type code.
type Task struct {
	ID          generic.TaskID
	Code        string
	Description string
	Historical  bool
}

// IsLeave reports whether the task is a leave code.
func (t Task) IsLeave() bool { return IsLeaveCode(t.Code) }

type Project struct {
	ID     generic.ProjectID
	Code   string
	Name   string
	Active bool
}

// LeaveType is the leave view of a task.
type LeaveType struct {
	ID           generic.TaskID
	Code         string
	Description  string
	Category     Category
	IsHistorical bool
}

// LeaveTypeOf classifies a task as a leave type.
func LeaveTypeOf(t Task) LeaveType {
	return LeaveType{
		ID:           t.ID,
		Code:         t.Code,
		Description:  t.Description,
		Category:     Classify(t.Code),
		IsHistorical: t.Historical,
	}
}

// IsStandard reports whether the leave type uses a Z code.
func (lt LeaveType) IsStandard() bool { return IsLeaveCode(lt.Code) }
