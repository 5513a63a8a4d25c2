package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/warp/clockd/generic"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// SNAPSHOT - Seed document (YAML)
// =============================================================================

// Snapshot is the serialized form of the reference data.
//
//	monthly_periods: true
//	teams:
//	  - {id: team-a, name: Team A, reviewers: [mgr-1]}
//	employees:
//	  - {id: emp-1, name: Anna, team_id: team-a, active: true}
//	tasks:
//	  - {id: Z05, code: Z05, description: Vakantie}
//	holidays:
//	  - {date: "2024-12-25", name: Kerstmis, recurring: true}
type Snapshot struct {
	// MonthlyPeriods makes PeriodFor/GetPeriod fall back to calendar months
	// (id "YYYY-MM") when no explicit period matches.
	MonthlyPeriods bool             `yaml:"monthly_periods"`
	Periods        []PeriodRecord   `yaml:"periods"`
	Teams          []TeamRecord     `yaml:"teams"`
	Employees      []EmployeeRecord `yaml:"employees"`
	Tasks          []TaskRecord     `yaml:"tasks"`
	Projects       []ProjectRecord  `yaml:"projects"`
	Holidays       []HolidayRecord  `yaml:"holidays"`
}

type PeriodRecord struct {
	ID    string `yaml:"id"`
	Code  string `yaml:"code"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type TeamRecord struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Reviewers []string `yaml:"reviewers"`
}

type EmployeeRecord struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	TeamID string `yaml:"team_id"`
	Active bool   `yaml:"active"`
}

type TaskRecord struct {
	ID          string `yaml:"id"`
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
	Historical  bool   `yaml:"historical"`
}

type ProjectRecord struct {
	ID     string `yaml:"id"`
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Active bool   `yaml:"active"`
}

type HolidayRecord struct {
	Date      string `yaml:"date"`
	Name      string `yaml:"name"`
	Recurring bool   `yaml:"recurring"`
}

// LoadFile reads a YAML snapshot.
func LoadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML snapshot.
func Parse(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode catalog: %w", err)
	}
	return snap, nil
}

// Decoded converts the record form into domain values.
type Decoded struct {
	Periods   []generic.Period
	Teams     []Team
	Employees []Employee
	Tasks     []Task
	Projects  []Project
	Holidays  []generic.Holiday
}

// Decode validates dates and converts records.
func (s Snapshot) Decode() (Decoded, error) {
	var d Decoded
	for _, p := range s.Periods {
		start, err := generic.ParseDate(p.Start)
		if err != nil {
			return Decoded{}, fmt.Errorf("period %s: %w", p.ID, err)
		}
		end, err := generic.ParseDate(p.End)
		if err != nil {
			return Decoded{}, fmt.Errorf("period %s: %w", p.ID, err)
		}
		period := generic.Period{ID: generic.PeriodID(p.ID), Code: p.Code, Start: start, End: end}
		if !period.Valid() {
			return Decoded{}, fmt.Errorf("period %s: end before start", p.ID)
		}
		d.Periods = append(d.Periods, period)
	}
	for _, t := range s.Teams {
		team := Team{ID: generic.TeamID(t.ID), Name: t.Name}
		for _, r := range t.Reviewers {
			team.Reviewers = append(team.Reviewers, generic.EmployeeID(r))
		}
		d.Teams = append(d.Teams, team)
	}
	for _, e := range s.Employees {
		d.Employees = append(d.Employees, Employee{
			ID: generic.EmployeeID(e.ID), Name: e.Name, TeamID: generic.TeamID(e.TeamID), Active: e.Active,
		})
	}
	for _, t := range s.Tasks {
		d.Tasks = append(d.Tasks, Task{
			ID: generic.TaskID(t.ID), Code: t.Code, Description: t.Description, Historical: t.Historical,
		})
	}
	for _, p := range s.Projects {
		d.Projects = append(d.Projects, Project{
			ID: generic.ProjectID(p.ID), Code: p.Code, Name: p.Name, Active: p.Active,
		})
	}
	for _, h := range s.Holidays {
		date, err := generic.ParseDate(h.Date)
		if err != nil {
			return Decoded{}, fmt.Errorf("holiday %s: %w", h.Name, err)
		}
		d.Holidays = append(d.Holidays, generic.Holiday{Date: date, Name: h.Name, Recurring: h.Recurring})
	}
	return d, nil
}

// =============================================================================
// STATIC CATALOG - In-memory implementation
// =============================================================================

// Static is an immutable in-memory Catalog.
type Static struct {
	monthly   bool
	periods   []generic.Period
	teams     map[generic.TeamID]Team
	employees map[generic.EmployeeID]Employee
	tasks     map[generic.TaskID]Task
	projects  map[generic.ProjectID]Project
	holidays  []generic.Holiday
}

// NewStatic builds a catalog from a snapshot.
func NewStatic(snap Snapshot) (*Static, error) {
	d, err := snap.Decode()
	if err != nil {
		return nil, err
	}
	s := &Static{
		monthly:   snap.MonthlyPeriods,
		periods:   d.Periods,
		teams:     make(map[generic.TeamID]Team),
		employees: make(map[generic.EmployeeID]Employee),
		tasks:     make(map[generic.TaskID]Task),
		projects:  make(map[generic.ProjectID]Project),
		holidays:  d.Holidays,
	}
	for _, t := range d.Teams {
		s.teams[t.ID] = t
	}
	for _, e := range d.Employees {
		s.employees[e.ID] = e
	}
	for _, t := range d.Tasks {
		s.tasks[t.ID] = t
	}
	for _, p := range d.Projects {
		s.projects[p.ID] = p
	}
	return s, nil
}

func (s *Static) IsHoliday(date generic.TimePoint) bool {
	for _, h := range s.holidays {
		if h.Matches(date) {
			return true
		}
	}
	return false
}

func (s *Static) IsWorkday(_ context.Context, date generic.TimePoint) (bool, error) {
	return date.IsWorkdayWithHolidays(s), nil
}

func (s *Static) GetLeaveType(ctx context.Context, id generic.TaskID) (LeaveType, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return LeaveType{}, err
	}
	return LeaveTypeOf(t), nil
}

func (s *Static) GetPeriod(_ context.Context, id generic.PeriodID) (generic.Period, error) {
	for _, p := range s.periods {
		if p.ID == id {
			return p, nil
		}
	}
	if s.monthly {
		if date, err := generic.ParseDate(string(id) + "-01"); err == nil {
			return generic.MonthlyPeriod(date), nil
		}
	}
	return generic.Period{}, generic.NotFound("period %s not found", id)
}

func (s *Static) PeriodFor(_ context.Context, date generic.TimePoint) (generic.Period, error) {
	for _, p := range s.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	if s.monthly {
		return generic.MonthlyPeriod(date), nil
	}
	return generic.Period{}, generic.NotFound("no period covers %s", date).WithDates(date)
}

func (s *Static) GetTask(_ context.Context, id generic.TaskID) (Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, generic.NotFound("task %s not found", id)
	}
	return t, nil
}

func (s *Static) GetProject(_ context.Context, id generic.ProjectID) (Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return Project{}, generic.NotFound("project %s not found", id)
	}
	return p, nil
}

func (s *Static) GetEmployee(_ context.Context, id generic.EmployeeID) (Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return Employee{}, generic.NotFound("employee %s not found", id)
	}
	return e, nil
}

func (s *Static) ListLeaveTypes(_ context.Context, includeHistorical bool) ([]LeaveType, error) {
	var types []LeaveType
	for _, t := range s.tasks {
		if !t.IsLeave() || (t.Historical && !includeHistorical) {
			continue
		}
		types = append(types, LeaveTypeOf(t))
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Code < types[j].Code })
	return types, nil
}

// Teams returns every team, ordered by id. Used to seed reviewer grants.
func (s *Static) Teams() []Team {
	teams := make([]Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams
}

var _ Catalog = (*Static)(nil)
var _ generic.HolidayCalendar = (*Static)(nil)
