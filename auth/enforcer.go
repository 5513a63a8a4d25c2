package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/warp/clockd/catalog"
	"github.com/warp/clockd/generic"
)

// ActionReview is the only capability the workflow asks about.
const ActionReview = "review"

// RoleAdmin, carried in a token's roles, may review every team.
const RoleAdmin = "admin"

// Subjects are employee ids, or "role:<name>" for token roles. Domains are
// team ids. Team reviewers are granted through g(employee, reviewer, team).
const reviewModel = `
[request_definition]
r = sub, dom, act

[policy_definition]
p = sub, dom, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = (g(r.sub, p.sub, r.dom) || r.sub == p.sub) && (r.dom == p.dom || p.dom == "*") && r.act == p.act
`

// Enforcer answers "may this principal review entries of that team".
type Enforcer struct {
	mu       sync.Mutex
	enforcer *casbin.Enforcer
}

func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(reviewModel)
	if err != nil {
		return nil, fmt.Errorf("load review model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	if _, err := e.AddPolicy("reviewer", "*", ActionReview); err != nil {
		return nil, err
	}
	if _, err := e.AddPolicy("role:"+RoleAdmin, "*", ActionReview); err != nil {
		return nil, err
	}
	return &Enforcer{enforcer: e}, nil
}

// GrantReviewer lets employee review entries owned by members of team.
func (e *Enforcer) GrantReviewer(employee generic.EmployeeID, team generic.TeamID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.enforcer.AddGroupingPolicy(string(employee), "reviewer", string(team))
	return err
}

// RevokeReviewer removes a previous grant.
func (e *Enforcer) RevokeReviewer(employee generic.EmployeeID, team generic.TeamID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.enforcer.RemoveGroupingPolicy(string(employee), "reviewer", string(team))
	return err
}

// LoadTeams grants every listed reviewer of every team.
func (e *Enforcer) LoadTeams(teams []catalog.Team) error {
	for _, t := range teams {
		for _, r := range t.Reviewers {
			if err := e.GrantReviewer(r, t.ID); err != nil {
				return fmt.Errorf("grant %s on %s: %w", r, t.ID, err)
			}
		}
	}
	return nil
}

// CanReview checks the principal itself and each of its roles.
func (e *Enforcer) CanReview(_ context.Context, p generic.Principal, team generic.TeamID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subjects := make([]string, 0, len(p.Roles)+1)
	subjects = append(subjects, string(p.EmployeeID))
	for _, r := range p.Roles {
		subjects = append(subjects, "role:"+r)
	}
	for _, sub := range subjects {
		ok, err := e.enforcer.Enforce(sub, string(team), ActionReview)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
