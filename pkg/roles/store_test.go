package roles

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu        sync.Mutex
	holders   map[Name]int
	saved     []Definition
	deleted   []Name
	reassigns []Name
	err       error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{holders: make(map[Name]int)}
}

func (r *fakeRepo) SaveRole(_ context.Context, def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, def)
	return nil
}

func (r *fakeRepo) DeleteRole(_ context.Context, name Name, reassignTo Name) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.deleted = append(r.deleted, name)
	r.reassigns = append(r.reassigns, reassignTo)
	return nil
}

func (r *fakeRepo) CountHolders(_ context.Context, name Name) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	return r.holders[name], nil
}

type countingRecorder struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (c *countingRecorder) RecordMemoHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *countingRecorder) RecordMemoMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func testCatalog(t *testing.T) *rights.Catalog {
	t.Helper()
	c, err := rights.NewCatalog([]rights.AccessRight{
		{Key: "courses:read", IsWildcardable: true},
		{Key: "courses:write", IsWildcardable: true},
		{Key: "reports:read", IsWildcardable: true},
		{Key: "reports:write", IsWildcardable: true},
		{Key: "content:courses:read", IsWildcardable: true},
		{Key: "system:settings:write", SensitivityLevel: 3, IsWildcardable: true},
	})
	require.NoError(t, err)
	return c
}

func testDefinitions() []Definition {
	return []Definition{
		{
			Name:          "instructor",
			Level:         60,
			GrantedRights: []rights.Key{"courses:read", "courses:write"},
			ScopeKind:     ScopeBuiltIn,
			IsActive:      true,
		},
		{
			Name:          "platform-admin",
			Level:         90,
			GrantedRights: []rights.Key{"system:*"},
			ScopeKind:     ScopeBuiltIn,
			IsActive:      true,
		},
		{
			Name:          "content-admin",
			Level:         50,
			GrantedRights: []rights.Key{"content:*"},
			ScopeKind:     ScopeCustom,
			IsActive:      true,
		},
		{
			Name:          "auditor",
			Level:         30,
			GrantedRights: []rights.Key{"reports:read"},
			ScopeKind:     ScopeCustom,
			IsActive:      true,
		},
	}
}

func setupStore(t *testing.T, opts ...Option) (*Store, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	opts = append([]Option{WithRepository(repo)}, opts...)
	s, err := NewStore(testCatalog(t), testDefinitions(), 16, opts...)
	require.NoError(t, err)
	return s, repo
}

var manager = Requester{UserID: "u-admin", Level: 90}

func TestParseName(t *testing.T) {
	valid := []string{"instructor", "course-reviewer", "level2-tutor"}
	for _, v := range valid {
		_, err := ParseName(v)
		assert.NoError(t, err, v)
	}

	invalid := []string{"", "Instructor", "course_reviewer", "-lead", "trail-", "a--b", "2fast"}
	for _, v := range invalid {
		_, err := ParseName(v)
		assert.True(t, errors.Is(err, accesserr.ErrInvalidRole), v)
	}
}

func TestEffectiveRightsFollowsParent(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Create(context.Background(), Definition{
		Name:          "course-reviewer",
		Level:         55,
		GrantedRights: []rights.Key{"reports:read"},
		ParentRole:    "instructor",
	}, manager)
	require.NoError(t, err)

	got, err := s.EffectiveRights("course-reviewer")
	require.NoError(t, err)
	assert.Equal(t, []rights.Key{"courses:read", "courses:write", "reports:read"}, got)
}

func TestEffectiveRightsIsSupersetOfChain(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, Definition{Name: "reviewer", Level: 40, GrantedRights: []rights.Key{"reports:read"}, ParentRole: "instructor"}, manager)
	require.NoError(t, err)
	_, err = s.Create(ctx, Definition{Name: "senior-reviewer", Level: 45, GrantedRights: []rights.Key{"reports:write"}, ParentRole: "reviewer"}, manager)
	require.NoError(t, err)

	for _, def := range s.List() {
		effective, err := s.EffectiveRights(def.Name)
		require.NoError(t, err)
		for _, k := range def.GrantedRights {
			assert.Contains(t, effective, k, "role %s", def.Name)
		}
		if def.ParentRole != "" {
			parent, err := s.EffectiveRights(def.ParentRole)
			require.NoError(t, err)
			assert.Subset(t, effective, parent, "role %s", def.Name)
		}
	}
}

func TestNewStoreRejectsCycle(t *testing.T) {
	defs := []Definition{
		{Name: "a", Level: 10, ParentRole: "b", IsActive: true},
		{Name: "b", Level: 10, ParentRole: "c", IsActive: true},
		{Name: "c", Level: 10, ParentRole: "a", IsActive: true},
	}

	_, err := NewStore(testCatalog(t), defs, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, accesserr.ErrCyclicRoleInheritance))
}

func TestNewStoreRejectsUnknownRightsAndParents(t *testing.T) {
	_, err := NewStore(testCatalog(t), []Definition{
		{Name: "a", Level: 10, GrantedRights: []rights.Key{"courses:teleport"}},
	}, 0)
	assert.True(t, errors.Is(err, accesserr.ErrUnknownAccessRight))

	_, err = NewStore(testCatalog(t), []Definition{
		{Name: "a", Level: 10, ParentRole: "ghost"},
	}, 0)
	assert.True(t, errors.Is(err, accesserr.ErrRoleNotFound))
}

func TestUpdateRejectsCycle(t *testing.T) {
	s, repo := setupStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, Definition{Name: "reviewer", Level: 20, ParentRole: "auditor"}, manager)
	require.NoError(t, err)

	before := len(repo.saved)
	_, err = s.Update(ctx, Definition{Name: "auditor", Level: 30, GrantedRights: []rights.Key{"reports:read"}, ParentRole: "reviewer", IsActive: true}, manager)
	require.Error(t, err)
	assert.True(t, errors.Is(err, accesserr.ErrCyclicRoleInheritance))
	assert.Len(t, repo.saved, before)

	def, _ := s.Get("auditor")
	assert.Empty(t, def.ParentRole)

	_, err = s.Update(ctx, Definition{Name: "auditor", Level: 30, ParentRole: "auditor", IsActive: true}, manager)
	assert.True(t, errors.Is(err, accesserr.ErrCyclicRoleInheritance))
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		req  Requester
		kind error
	}{
		{
			name: "level below custom range",
			def:  Definition{Name: "tiny", Level: 0},
			req:  manager,
			kind: accesserr.ErrInvalidRole,
		},
		{
			name: "level above custom range",
			def:  Definition{Name: "huge", Level: 85},
			req:  manager,
			kind: accesserr.ErrInvalidRole,
		},
		{
			name: "collides with loaded built-in",
			def:  Definition{Name: "instructor", Level: 50},
			req:  manager,
			kind: accesserr.ErrImmutableRole,
		},
		{
			name: "collides with reserved built-in name",
			def:  Definition{Name: "learner", Level: 50},
			req:  manager,
			kind: accesserr.ErrImmutableRole,
		},
		{
			name: "already exists",
			def:  Definition{Name: "auditor", Level: 30},
			req:  manager,
			kind: accesserr.ErrInvalidRole,
		},
		{
			name: "unknown right",
			def:  Definition{Name: "reviewer", Level: 30, GrantedRights: []rights.Key{"reports:shred"}},
			req:  manager,
			kind: accesserr.ErrUnknownAccessRight,
		},
		{
			name: "unknown wildcard domain",
			def:  Definition{Name: "reviewer", Level: 30, GrantedRights: []rights.Key{"billing:*"}},
			req:  manager,
			kind: accesserr.ErrUnknownAccessRight,
		},
		{
			name: "missing parent",
			def:  Definition{Name: "reviewer", Level: 30, ParentRole: "ghost"},
			req:  manager,
			kind: accesserr.ErrRoleNotFound,
		},
		{
			name: "level at requester level",
			def:  Definition{Name: "reviewer", Level: 40},
			req:  Requester{UserID: "u-ta", Level: 40},
			kind: accesserr.ErrInsufficientPrivilege,
		},
		{
			name: "level above requester level",
			def:  Definition{Name: "settings-keeper", Level: 79, GrantedRights: []rights.Key{"system:*"}},
			req:  Requester{UserID: "u-ta", Level: 10},
			kind: accesserr.ErrInsufficientPrivilege,
		},
		{
			name: "parent at requester level",
			def:  Definition{Name: "reviewer", Level: 30, ParentRole: "instructor"},
			req:  Requester{UserID: "u-lead", Level: 60},
			kind: accesserr.ErrInsufficientPrivilege,
		},
		{
			name: "parent above requester level",
			def:  Definition{Name: "reviewer", Level: 30, ParentRole: "platform-admin"},
			req:  Requester{UserID: "u-lead", Level: 70},
			kind: accesserr.ErrInsufficientPrivilege,
		},
		{
			name: "invalid name",
			def:  Definition{Name: "Course Reviewer", Level: 30},
			req:  manager,
			kind: accesserr.ErrInvalidRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, repo := setupStore(t)

			_, err := s.Create(context.Background(), tt.def, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			assert.Empty(t, repo.saved)
		})
	}
}

func TestCreatePersistsAndStampsMetadata(t *testing.T) {
	s, repo := setupStore(t)

	def, err := s.Create(context.Background(), Definition{
		Name:          "reviewer",
		Level:         30,
		GrantedRights: []rights.Key{"Reports:Read", "reports:read"},
		ScopeKind:     ScopeBuiltIn,
	}, manager)
	require.NoError(t, err)

	assert.Equal(t, ScopeCustom, def.ScopeKind)
	assert.True(t, def.IsActive)
	assert.Equal(t, "u-admin", def.CreatedBy)
	assert.False(t, def.CreatedAt.IsZero())
	assert.Equal(t, []rights.Key{"reports:read"}, def.GrantedRights)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, Name("reviewer"), repo.saved[0].Name)
}

func TestCreateSurfacesStoreUnavailable(t *testing.T) {
	s, repo := setupStore(t)
	repo.err = errors.New("connection reset")

	_, err := s.Create(context.Background(), Definition{Name: "reviewer", Level: 30}, manager)
	require.Error(t, err)
	assert.True(t, errors.Is(err, accesserr.ErrStoreUnavailable))

	_, ok := s.Get("reviewer")
	assert.False(t, ok)
}

func TestBuiltInRolesAreImmutable(t *testing.T) {
	s, repo := setupStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, Definition{Name: "instructor", Level: 60}, manager)
	assert.True(t, errors.Is(err, accesserr.ErrImmutableRole))

	err = s.Delete(ctx, "instructor", "", manager)
	assert.True(t, errors.Is(err, accesserr.ErrImmutableRole))

	assert.Empty(t, repo.saved)
	assert.Empty(t, repo.deleted)
}

func TestDeleteWithHoldersRequiresReassignment(t *testing.T) {
	s, repo := setupStore(t)
	repo.holders["content-admin"] = 8

	err := s.Delete(context.Background(), "content-admin", "", manager)
	require.Error(t, err)
	assert.True(t, errors.Is(err, accesserr.ErrRoleHasActiveHolders))

	var ae *accesserr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 8, ae.Holders)
	assert.Equal(t, "content-admin", ae.Role)

	assert.Empty(t, repo.deleted)
	_, ok := s.Get("content-admin")
	assert.True(t, ok)
}

func TestDeleteWithReassignment(t *testing.T) {
	s, repo := setupStore(t)
	repo.holders["content-admin"] = 8

	err := s.Delete(context.Background(), "content-admin", "auditor", manager)
	require.NoError(t, err)

	assert.Equal(t, []Name{"content-admin"}, repo.deleted)
	assert.Equal(t, []Name{"auditor"}, repo.reassigns)
	_, ok := s.Get("content-admin")
	assert.False(t, ok)
}

func TestDeleteGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown role", func(t *testing.T) {
		s, _ := setupStore(t)
		assert.True(t, errors.Is(s.Delete(ctx, "ghost", "", manager), accesserr.ErrRoleNotFound))
	})

	t.Run("reassign to itself", func(t *testing.T) {
		s, _ := setupStore(t)
		assert.True(t, errors.Is(s.Delete(ctx, "auditor", "auditor", manager), accesserr.ErrInvalidRole))
	})

	t.Run("reassign above requester", func(t *testing.T) {
		s, _ := setupStore(t)
		err := s.Delete(ctx, "auditor", "instructor", Requester{UserID: "u-lead", Level: 55})
		assert.True(t, errors.Is(err, accesserr.ErrInsufficientPrivilege))
	})

	t.Run("role still inherited", func(t *testing.T) {
		s, _ := setupStore(t)
		_, err := s.Create(ctx, Definition{Name: "junior-auditor", Level: 20, ParentRole: "auditor"}, manager)
		require.NoError(t, err)
		assert.True(t, errors.Is(s.Delete(ctx, "auditor", "", manager), accesserr.ErrRoleInherited))
	})

	t.Run("role at requester level", func(t *testing.T) {
		s, _ := setupStore(t)
		err := s.Delete(ctx, "auditor", "", Requester{UserID: "u-ta", Level: 30})
		assert.True(t, errors.Is(err, accesserr.ErrInsufficientPrivilege))
	})
}

func TestMemoInvalidatedOnWrite(t *testing.T) {
	rec := &countingRecorder{}
	s, _ := setupStore(t, WithMemoRecorder(rec))
	ctx := context.Background()

	_, err := s.Create(ctx, Definition{Name: "reviewer", Level: 40, ParentRole: "auditor"}, manager)
	require.NoError(t, err)

	first, err := s.EffectiveRights("reviewer")
	require.NoError(t, err)
	assert.Equal(t, []rights.Key{"reports:read"}, first)

	_, err = s.EffectiveRights("reviewer")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)

	version := s.Version()
	_, err = s.Update(ctx, Definition{
		Name:          "auditor",
		Level:         30,
		GrantedRights: []rights.Key{"reports:read", "reports:write"},
		IsActive:      true,
	}, manager)
	require.NoError(t, err)
	assert.Greater(t, s.Version(), version)

	second, err := s.EffectiveRights("reviewer")
	require.NoError(t, err)
	assert.Equal(t, []rights.Key{"reports:read", "reports:write"}, second)
	assert.Equal(t, 2, rec.misses)
}

func TestEffectiveRightsReturnsCopy(t *testing.T) {
	s, _ := setupStore(t)

	got, err := s.EffectiveRights("instructor")
	require.NoError(t, err)
	got[0] = "tampered:key"

	again, err := s.EffectiveRights("instructor")
	require.NoError(t, err)
	assert.Equal(t, rights.Key("courses:read"), again[0])
}

func TestIsAdminCapable(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	assert.True(t, s.IsAdminCapable("platform-admin"))
	assert.False(t, s.IsAdminCapable("instructor"))
	assert.False(t, s.IsAdminCapable("ghost"))

	_, err := s.Create(ctx, Definition{Name: "settings-helper", Level: 20, GrantedRights: []rights.Key{"system:settings:write"}}, manager)
	require.NoError(t, err)
	assert.True(t, s.IsAdminCapable("settings-helper"))
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, err := s.EffectiveRights("instructor")
				assert.NoError(t, err)
				assert.Len(t, got, 2)
			}
		}()
	}

	for i := 0; i < 10; i++ {
		_, err := s.Update(ctx, Definition{Name: "auditor", Level: 30, GrantedRights: []rights.Key{"reports:read"}, IsActive: true}, manager)
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestBuiltInRolesLoad(t *testing.T) {
	s, err := NewStore(rights.DefaultCatalog(), BuiltInRoles(), 0)
	require.NoError(t, err)

	assert.Equal(t, 6, s.Len())
	assert.Equal(t, SuperAdmin, s.List()[0].Name)

	effective, err := s.EffectiveRights(SuperAdmin)
	require.NoError(t, err)
	assert.Contains(t, effective, rights.Key("courses:read"))
	assert.True(t, s.IsAdminCapable(DepartmentAdmin))
	assert.False(t, s.IsAdminCapable(Instructor))
}
