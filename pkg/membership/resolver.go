// Package membership expands a user's stored department memberships
// across the department tree.
package membership

import (
	"sort"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

// Membership is a stored department membership held by a user
type Membership struct {
	DepartmentID departments.ID `json:"department_id" yaml:"department_id"`
	Roles        []roles.Name   `json:"roles" yaml:"roles"`
	IsPrimary    bool           `json:"is_primary" yaml:"is_primary"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	IsActive     bool           `json:"is_active" yaml:"is_active"`
}

// Live reports whether the membership counts at now
func (m Membership) Live(now time.Time) bool {
	if !m.IsActive {
		return false
	}
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}

// Effective is a derived department/role association
type Effective struct {
	DepartmentID departments.ID `json:"department_id"`
	Roles        []roles.Name   `json:"roles"`
	// IsDirect is true when a stored membership targets the department
	IsDirect  bool `json:"is_direct"`
	IsPrimary bool `json:"is_primary"`
	// InheritedFrom lists the departments whose memberships cascaded here
	InheritedFrom []departments.ID `json:"inherited_from,omitempty"`
}

// HasRole reports whether the entry carries role
func (e Effective) HasRole(role roles.Name) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now implements Clock
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock
var SystemClock Clock = ClockFunc(time.Now)

// Resolver expands memberships over a hierarchy
type Resolver struct {
	hierarchy *departments.Hierarchy
	clock     Clock
}

// NewResolver creates a resolver. A nil clock uses the wall clock.
func NewResolver(h *departments.Hierarchy, clock Clock) *Resolver {
	if clock == nil {
		clock = SystemClock
	}
	return &Resolver{hierarchy: h, clock: clock}
}

type accumulator struct {
	roles         map[roles.Name]struct{}
	isDirect      bool
	isPrimary     bool
	inheritedFrom map[departments.ID]struct{}
}

// Resolve computes the effective memberships of a user. Inactive and
// expired memberships are dropped before expansion, and memberships in
// departments missing from the hierarchy are ignored. The result is
// ordered by first discovery.
func (r *Resolver) Resolve(memberships []Membership) ([]Effective, error) {
	now := r.clock.Now()

	var order []departments.ID
	acc := make(map[departments.ID]*accumulator)
	entry := func(id departments.ID) *accumulator {
		a, ok := acc[id]
		if !ok {
			a = &accumulator{
				roles:         make(map[roles.Name]struct{}),
				inheritedFrom: make(map[departments.ID]struct{}),
			}
			acc[id] = a
			order = append(order, id)
		}
		return a
	}

	for _, m := range memberships {
		if !m.Live(now) {
			continue
		}
		if _, ok := r.hierarchy.Get(m.DepartmentID); !ok {
			continue
		}

		direct := entry(m.DepartmentID)
		direct.isDirect = true
		if m.IsPrimary {
			direct.isPrimary = true
		}
		addRoles(direct, m.Roles)

		source := m.DepartmentID
		err := r.hierarchy.Walk(source, func(child departments.ID, _ int) bool {
			d, _ := r.hierarchy.Get(child)
			return !d.RequireExplicitMembership
		}, func(child departments.ID, _ int) {
			inherited := entry(child)
			inherited.inheritedFrom[source] = struct{}{}
			addRoles(inherited, m.Roles)
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]Effective, 0, len(order))
	for _, id := range order {
		a := acc[id]
		e := Effective{
			DepartmentID: id,
			IsDirect:     a.isDirect,
			IsPrimary:    a.isPrimary,
			Roles:        make([]roles.Name, 0, len(a.roles)),
		}
		for role := range a.roles {
			e.Roles = append(e.Roles, role)
		}
		sort.Slice(e.Roles, func(i, j int) bool { return e.Roles[i] < e.Roles[j] })
		for from := range a.inheritedFrom {
			e.InheritedFrom = append(e.InheritedFrom, from)
		}
		sort.Slice(e.InheritedFrom, func(i, j int) bool { return e.InheritedFrom[i] < e.InheritedFrom[j] })
		out = append(out, e)
	}
	return out, nil
}

// Departments returns the department ids of an effective membership list
func Departments(effective []Effective) []departments.ID {
	out := make([]departments.ID, 0, len(effective))
	for _, e := range effective {
		out = append(out, e.DepartmentID)
	}
	return out
}

// Contains reports whether id appears in an effective membership list
func Contains(effective []Effective, id departments.ID) bool {
	for _, e := range effective {
		if e.DepartmentID == id {
			return true
		}
	}
	return false
}

func addRoles(a *accumulator, names []roles.Name) {
	for _, n := range names {
		a.roles[n] = struct{}{}
	}
}
