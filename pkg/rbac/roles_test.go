package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

func TestCreateRole(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	created, err := f.engine.CreateRole(ctx, roles.Definition{
		Name:          "course-reviewer",
		Level:         30,
		GrantedRights: []rights.Key{"courses:read", "reports:read"},
		ParentRole:    roles.Learner,
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, roles.ScopeCustom, created.ScopeKind)
	assert.Equal(t, "admin", created.CreatedBy)
	assert.True(t, created.IsActive)

	keys, err := f.engine.EffectiveRights("course-reviewer")
	require.NoError(t, err)
	assert.Equal(t, []rights.Key{"content:courses:read", "courses:read", "reports:read"}, keys)

	persisted, err := f.source.LoadRoleDefinitions(ctx)
	require.NoError(t, err)
	assert.Contains(t, roleNames(persisted), roles.Name("course-reviewer"))

	events := f.audit.ofType(audit.EventTypeRoleCreate)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventStatusSuccess, events[0].Status)
	require.NotNil(t, events[0].Changes)
	assert.Equal(t, 30, events[0].Changes.After["level"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoleWritesTotal.WithLabelValues("create", "ok")))
}

func TestCreateRoleRejections(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		def       roles.Definition
		requester string
		kind      error
	}{
		{
			name:      "parent at requester level",
			def:       roles.Definition{Name: "head-instructor", Level: 55, ParentRole: roles.Instructor},
			requester: "inst",
			kind:      accesserr.ErrInsufficientPrivilege,
		},
		{
			name:      "role level at requester level",
			def:       roles.Definition{Name: "co-instructor", Level: 60},
			requester: "inst",
			kind:      accesserr.ErrInsufficientPrivilege,
		},
		{
			name:      "built-in name",
			def:       roles.Definition{Name: roles.Instructor, Level: 20},
			requester: "admin",
			kind:      accesserr.ErrImmutableRole,
		},
		{
			name:      "unknown right",
			def:       roles.Definition{Name: "grader", Level: 20, GrantedRights: []rights.Key{"grades:write"}},
			requester: "admin",
			kind:      accesserr.ErrUnknownAccessRight,
		},
		{
			name:      "level outside custom range",
			def:       roles.Definition{Name: "super-grader", Level: 85},
			requester: "admin",
			kind:      accesserr.ErrInvalidRole,
		},
		{
			name:      "unknown department",
			def:       roles.Definition{Name: "lab-tech", Level: 20, DepartmentID: "zzz"},
			requester: "admin",
			kind:      accesserr.ErrDepartmentNotFound,
		},
		{
			name:      "missing parent",
			def:       roles.Definition{Name: "orphan", Level: 20, ParentRole: "ghost"},
			requester: "admin",
			kind:      accesserr.ErrRoleNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateRole(ctx, tt.def, tt.requester)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	defs, err := f.engine.Roles()
	require.NoError(t, err)
	assert.Len(t, defs, len(roles.BuiltInRoles())+1)
	assert.Len(t, f.audit.ofType(audit.EventTypeRoleCreate), len(tests))
}

func TestDepartmentScopedRole(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	_, err := f.engine.CreateRole(ctx, roles.Definition{
		Name:          "lab-tech",
		Level:         20,
		GrantedRights: []rights.Key{"content:media:upload"},
		DepartmentID:  "b",
	}, "admin")
	require.NoError(t, err)

	def, ok := findRole(t, f.engine, "lab-tech")
	require.True(t, ok)
	assert.Equal(t, "b", def.DepartmentID)
}

func TestUpdateRoleCycle(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	_, err := f.engine.CreateRole(ctx, roles.Definition{Name: "r1", Level: 20}, "admin")
	require.NoError(t, err)
	_, err = f.engine.CreateRole(ctx, roles.Definition{Name: "r2", Level: 20, ParentRole: "r1"}, "admin")
	require.NoError(t, err)

	_, err = f.engine.UpdateRole(ctx, roles.Definition{Name: "r1", Level: 20, ParentRole: "r2"}, "admin")
	assert.ErrorIs(t, err, accesserr.ErrCyclicRoleInheritance)

	keys, err := f.engine.EffectiveRights("r2")
	require.NoError(t, err)
	assert.Empty(t, keys)

	updated, err := f.engine.UpdateRole(ctx, roles.Definition{Name: "r1", Level: 25, GrantedRights: []rights.Key{"reports:read"}}, "admin")
	require.NoError(t, err)
	assert.Equal(t, 25, updated.Level)

	keys, err = f.engine.EffectiveRights("r2")
	require.NoError(t, err)
	assert.Equal(t, []rights.Key{"reports:read"}, keys)

	_, err = f.engine.UpdateRole(ctx, roles.Definition{Name: roles.Learner, Level: 10}, "admin")
	assert.ErrorIs(t, err, accesserr.ErrImmutableRole)

	events := f.audit.ofType(audit.EventTypeRoleUpdate)
	require.Len(t, events, 3)
	require.NotNil(t, events[1].Changes)
	assert.Equal(t, 20, events[1].Changes.Before["level"])
	assert.Equal(t, 25, events[1].Changes.After["level"])
}

func TestDeleteRoleWithHolders(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	err := f.engine.DeleteRole(ctx, "content-admin", "", "admin")
	require.ErrorIs(t, err, accesserr.ErrRoleHasActiveHolders)
	var ae *accesserr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 8, ae.Holders)

	err = f.engine.DeleteRole(ctx, "content-admin", roles.Instructor, "inst")
	assert.ErrorIs(t, err, accesserr.ErrInsufficientPrivilege)

	require.NoError(t, f.engine.DeleteRole(ctx, "content-admin", roles.Learner, "admin"))

	_, ok := findRole(t, f.engine, "content-admin")
	assert.False(t, ok)

	holders, err := f.source.CountHolders(ctx, "content-admin")
	require.NoError(t, err)
	assert.Equal(t, 0, holders)

	ms, err := f.source.LoadMembershipsForUser(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, []roles.Name{roles.Learner}, ms[0].Roles)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoleWritesTotal.WithLabelValues("delete", "role_has_active_holders")))
}

func TestDeleteBuiltInRole(t *testing.T) {
	f := setupEngine(t)
	err := f.engine.DeleteRole(context.Background(), roles.Learner, "", "admin")
	assert.ErrorIs(t, err, accesserr.ErrImmutableRole)
}

// readOnly hides the write methods of a memory source
type readOnly struct {
	storage.Source
}

func TestRoleWritesOnReadOnlySource(t *testing.T) {
	source := readOnly{Source: storage.NewMemorySource(fixtureSnapshot(t))}
	engine := New(source, DefaultConfig())
	require.NoError(t, engine.Load(context.Background()))

	_, err := engine.CreateRole(context.Background(), roles.Definition{Name: "grader", Level: 20}, "admin")
	assert.ErrorIs(t, err, accesserr.ErrStoreUnavailable)

	_, ok := findRole(t, engine, "grader")
	assert.False(t, ok)
}

func findRole(t *testing.T, e *Engine, name roles.Name) (roles.Definition, bool) {
	t.Helper()
	defs, err := e.Roles()
	require.NoError(t, err)
	for _, def := range defs {
		if def.Name == name {
			return def, true
		}
	}
	return roles.Definition{}, false
}

func roleNames(defs []roles.Definition) []roles.Name {
	out := make([]roles.Name, len(defs))
	for i, def := range defs {
		out[i] = def.Name
	}
	return out
}
