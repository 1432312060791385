package membership

import (
	"testing"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() Clock {
	return ClockFunc(func() time.Time { return fixedNow })
}

// a
// └── b
//     └── c (explicit)
//         └── d
// x
// └── b2
func setupResolver(t *testing.T) *Resolver {
	t.Helper()
	h, err := departments.NewHierarchy([]departments.Department{
		{ID: "a"},
		{ID: "b", ParentID: "a"},
		{ID: "c", ParentID: "b", RequireExplicitMembership: true},
		{ID: "d", ParentID: "c"},
		{ID: "x"},
		{ID: "b2", ParentID: "x"},
	})
	require.NoError(t, err)
	return NewResolver(h, fixedClock())
}

func byDepartment(effective []Effective) map[departments.ID]Effective {
	out := make(map[departments.ID]Effective, len(effective))
	for _, e := range effective {
		out[e.DepartmentID] = e
	}
	return out
}

func TestResolveCascadeStopsAtExplicitBoundary(t *testing.T) {
	r := setupResolver(t)

	got, err := r.Resolve([]Membership{
		{DepartmentID: "a", Roles: []roles.Name{"instructor"}, IsPrimary: true, IsActive: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []departments.ID{"a", "b"}, Departments(got))

	idx := byDepartment(got)
	assert.True(t, idx["a"].IsDirect)
	assert.True(t, idx["a"].IsPrimary)
	assert.False(t, idx["b"].IsDirect)
	assert.False(t, idx["b"].IsPrimary)
	assert.Equal(t, []departments.ID{"a"}, idx["b"].InheritedFrom)
	assert.Equal(t, []roles.Name{"instructor"}, idx["b"].Roles)
	assert.False(t, Contains(got, "c"))
	assert.False(t, Contains(got, "d"))
}

func TestResolveExplicitMembershipInBlockedDepartmentCascades(t *testing.T) {
	r := setupResolver(t)

	got, err := r.Resolve([]Membership{
		{DepartmentID: "a", Roles: []roles.Name{"learner"}, IsActive: true},
		{DepartmentID: "c", Roles: []roles.Name{"instructor"}, IsActive: true},
	})
	require.NoError(t, err)

	idx := byDepartment(got)
	require.Contains(t, idx, departments.ID("c"))
	assert.True(t, idx["c"].IsDirect)
	assert.Equal(t, []roles.Name{"instructor"}, idx["c"].Roles)

	require.Contains(t, idx, departments.ID("d"))
	assert.Equal(t, []roles.Name{"instructor"}, idx["d"].Roles)
	assert.Equal(t, []departments.ID{"c"}, idx["d"].InheritedFrom)
}

func TestResolveUnionsRolesAcrossSources(t *testing.T) {
	r := setupResolver(t)

	got, err := r.Resolve([]Membership{
		{DepartmentID: "a", Roles: []roles.Name{"instructor"}, IsActive: true},
		{DepartmentID: "b", Roles: []roles.Name{"auditor", "learner"}, IsActive: true},
	})
	require.NoError(t, err)

	idx := byDepartment(got)
	assert.True(t, idx["b"].IsDirect)
	assert.Equal(t, []roles.Name{"auditor", "instructor", "learner"}, idx["b"].Roles)
	assert.Equal(t, []departments.ID{"a"}, idx["b"].InheritedFrom)
	assert.True(t, idx["b"].HasRole("instructor"))
}

func TestResolveDropsExpiredAndInactive(t *testing.T) {
	r := setupResolver(t)
	past := fixedNow.Add(-time.Minute)
	future := fixedNow.Add(time.Hour)

	got, err := r.Resolve([]Membership{
		{DepartmentID: "a", Roles: []roles.Name{"instructor"}, IsActive: true, ExpiresAt: &past},
		{DepartmentID: "x", Roles: []roles.Name{"learner"}, IsActive: false},
		{DepartmentID: "b2", Roles: []roles.Name{"auditor"}, IsActive: true, ExpiresAt: &future},
		{DepartmentID: "ghost", Roles: []roles.Name{"auditor"}, IsActive: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []departments.ID{"b2"}, Departments(got))
}

func TestResolveExpiryBoundary(t *testing.T) {
	r := setupResolver(t)
	now := fixedNow

	got, err := r.Resolve([]Membership{
		{DepartmentID: "x", Roles: []roles.Name{"learner"}, IsActive: true, ExpiresAt: &now},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveIsDeterministic(t *testing.T) {
	r := setupResolver(t)
	ms := []Membership{
		{DepartmentID: "a", Roles: []roles.Name{"instructor", "auditor"}, IsActive: true},
		{DepartmentID: "x", Roles: []roles.Name{"learner"}, IsActive: true, IsPrimary: true},
		{DepartmentID: "c", Roles: []roles.Name{"auditor"}, IsActive: true},
	}

	first, err := r.Resolve(ms)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := r.Resolve(ms)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveNeverCascadesIntoExplicitDepartments(t *testing.T) {
	h, err := departments.NewHierarchy([]departments.Department{
		{ID: "root"},
		{ID: "p1", ParentID: "root", RequireExplicitMembership: true},
		{ID: "p2", ParentID: "root"},
		{ID: "q1", ParentID: "p2", RequireExplicitMembership: true},
		{ID: "q2", ParentID: "p2"},
		{ID: "r1", ParentID: "q2", RequireExplicitMembership: true},
	})
	require.NoError(t, err)
	r := NewResolver(h, fixedClock())

	direct := map[departments.ID]bool{"root": true, "q1": true}
	got, err := r.Resolve([]Membership{
		{DepartmentID: "root", Roles: []roles.Name{"learner"}, IsActive: true},
		{DepartmentID: "q1", Roles: []roles.Name{"auditor"}, IsActive: true},
	})
	require.NoError(t, err)

	for _, e := range got {
		d, _ := h.Get(e.DepartmentID)
		if d.RequireExplicitMembership {
			assert.True(t, direct[e.DepartmentID], "%s reached by cascade", e.DepartmentID)
			assert.True(t, e.IsDirect)
		}
	}
	assert.ElementsMatch(t, []departments.ID{"root", "p2", "q2", "q1"}, Departments(got))
}
