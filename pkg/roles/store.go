package roles

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
)

const (
	// DefaultMemoSize is the number of memoized effective right sets
	DefaultMemoSize = 1024

	// MaxInheritanceDepth caps parent chains
	MaxInheritanceDepth = 32
)

// Repository persists role writes. CountHolders is the hook used to guard
// deletions; locating the affected users is the repository's concern.
type Repository interface {
	SaveRole(ctx context.Context, def Definition) error
	DeleteRole(ctx context.Context, name Name, reassignTo Name) error
	CountHolders(ctx context.Context, name Name) (int, error)
}

// MemoRecorder observes memo effectiveness
type MemoRecorder interface {
	RecordMemoHit()
	RecordMemoMiss()
}

type memoKey struct {
	name    Name
	version uint64
}

// Store holds role definitions and resolves their effective rights
type Store struct {
	catalog *rights.Catalog
	policy  Policy
	repo    Repository
	rec     MemoRecorder
	now     func() time.Time

	// writeMu serializes writers so validation and commit see the same state
	writeMu sync.Mutex

	mu      sync.RWMutex
	defs    map[Name]Definition
	version uint64
	memo    *lru.Cache[memoKey, []rights.Key]
}

// Option configures a Store
type Option func(*Store)

// WithPolicy sets the level policy
func WithPolicy(p Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithRepository sets where writes are persisted
func WithRepository(repo Repository) Option {
	return func(s *Store) { s.repo = repo }
}

// WithMemoRecorder reports memo hits and misses
func WithMemoRecorder(rec MemoRecorder) Option {
	return func(s *Store) { s.rec = rec }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore validates defs against the catalog and builds a store. Unknown
// rights, missing parents and inheritance cycles reject the whole load.
func NewStore(catalog *rights.Catalog, defs []Definition, memoSize int, opts ...Option) (*Store, error) {
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := lru.New[memoKey, []rights.Key](memoSize)
	if err != nil {
		return nil, err
	}

	s := &Store{
		catalog: catalog,
		policy:  DefaultPolicy(),
		now:     time.Now,
		defs:    make(map[Name]Definition, len(defs)),
		memo:    memo,
	}
	for _, opt := range opts {
		opt(s)
	}

	const op = "roles.Load"
	for _, def := range defs {
		name, err := ParseName(string(def.Name))
		if err != nil {
			return nil, err
		}
		if _, dup := s.defs[name]; dup {
			return nil, accesserr.New(accesserr.ErrInvalidRole, op).WithRole(name.String()).WithDetail("duplicate role")
		}
		def.Name = name
		if def.ScopeKind == "" {
			def.ScopeKind = ScopeCustom
		}
		if def.GrantedRights, err = s.normalizeRights(op, def); err != nil {
			return nil, err
		}
		s.defs[name] = def
	}

	for name, def := range s.defs {
		if def.ParentRole != "" {
			if _, ok := s.defs[def.ParentRole]; !ok {
				return nil, accesserr.New(accesserr.ErrRoleNotFound, op).
					WithRole(def.ParentRole.String()).
					WithDetail("parent of %s", name)
			}
		}
		if err := checkChain(op, name, s.defs); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Catalog returns the catalog the store validates against
func (s *Store) Catalog() *rights.Catalog {
	return s.catalog
}

// Policy returns the level policy
func (s *Store) Policy() Policy {
	return s.policy
}

// Get returns a role definition
func (s *Store) Get(name Name) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	return def, ok
}

// List returns every definition sorted by descending level, then name
func (s *Store) List() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of roles
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.defs)
}

// Version returns the memo version, bumped on every write
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// EffectiveRights returns the union of the role's granted rights and those
// of every ancestor in its parent chain. Wildcards are returned unexpanded.
func (s *Store) EffectiveRights(name Name) ([]rights.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.defs[name]; !ok {
		return nil, accesserr.New(accesserr.ErrRoleNotFound, "roles.EffectiveRights").WithRole(name.String())
	}

	key := memoKey{name: name, version: s.version}
	if cached, ok := s.memo.Get(key); ok {
		if s.rec != nil {
			s.rec.RecordMemoHit()
		}
		return cloneKeys(cached), nil
	}
	if s.rec != nil {
		s.rec.RecordMemoMiss()
	}

	resolved, err := resolveChain(name, s.defs)
	if err != nil {
		return nil, err
	}
	s.memo.Add(key, resolved)
	return cloneKeys(resolved), nil
}

// IsAdminCapable reports whether holding the role makes a user eligible
// for escalation.
func (s *Store) IsAdminCapable(name Name) bool {
	def, ok := s.Get(name)
	if !ok {
		return false
	}
	if def.Level >= s.policy.AdminThreshold {
		return true
	}

	keys, err := s.EffectiveRights(name)
	if err != nil {
		return false
	}
	for _, k := range keys {
		if s.policy.isAdminDomain(k.Domain()) {
			return true
		}
	}
	return false
}

// Create adds a custom role
func (s *Store) Create(ctx context.Context, def Definition, req Requester) (Definition, error) {
	const op = "roles.Create"

	name, err := ParseName(string(def.Name))
	if err != nil {
		return Definition{}, err
	}
	def.Name = name

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, exists := s.Get(name)
	if IsBuiltInName(name) || (exists && existing.IsBuiltIn()) {
		return Definition{}, accesserr.New(accesserr.ErrImmutableRole, op).
			WithRole(name.String()).
			WithDetail("name is reserved by a built-in role")
	}
	if exists {
		return Definition{}, accesserr.New(accesserr.ErrInvalidRole, op).WithRole(name.String()).WithDetail("role already exists")
	}

	now := s.now()
	def.ScopeKind = ScopeCustom
	def.IsActive = true
	def.CreatedBy = req.UserID
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := s.validateCustom(op, &def, req); err != nil {
		return Definition{}, err
	}

	if s.repo != nil {
		if err := s.repo.SaveRole(ctx, def); err != nil {
			return Definition{}, accesserr.Unavailable(op, err)
		}
	}

	s.commit(func(defs map[Name]Definition) { defs[name] = def })
	return def, nil
}

// Update replaces a custom role. Built-in roles are immutable.
func (s *Store) Update(ctx context.Context, def Definition, req Requester) (Definition, error) {
	const op = "roles.Update"

	name, err := ParseName(string(def.Name))
	if err != nil {
		return Definition{}, err
	}
	def.Name = name

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, ok := s.Get(name)
	if !ok {
		return Definition{}, accesserr.New(accesserr.ErrRoleNotFound, op).WithRole(name.String())
	}
	if existing.IsBuiltIn() {
		return Definition{}, accesserr.New(accesserr.ErrImmutableRole, op).WithRole(name.String())
	}
	if existing.Level >= req.Level {
		return Definition{}, accesserr.New(accesserr.ErrInsufficientPrivilege, op).
			WithRole(name.String()).
			WithUser(req.UserID).
			WithDetail("role level %d is not below requester level %d", existing.Level, req.Level)
	}

	def.ScopeKind = ScopeCustom
	def.CreatedBy = existing.CreatedBy
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = s.now()

	if err := s.validateCustom(op, &def, req); err != nil {
		return Definition{}, err
	}

	if s.repo != nil {
		if err := s.repo.SaveRole(ctx, def); err != nil {
			return Definition{}, accesserr.Unavailable(op, err)
		}
	}

	s.commit(func(defs map[Name]Definition) { defs[name] = def })
	return def, nil
}

// Delete removes a custom role. A role with holders can only be deleted
// when reassignTo names the role its holders move to.
func (s *Store) Delete(ctx context.Context, name Name, reassignTo Name, req Requester) error {
	const op = "roles.Delete"

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, ok := s.Get(name)
	if !ok {
		return accesserr.New(accesserr.ErrRoleNotFound, op).WithRole(name.String())
	}
	if existing.IsBuiltIn() {
		return accesserr.New(accesserr.ErrImmutableRole, op).WithRole(name.String())
	}
	if existing.Level >= req.Level {
		return accesserr.New(accesserr.ErrInsufficientPrivilege, op).
			WithRole(name.String()).
			WithUser(req.UserID)
	}
	if child := s.childOf(name); child != "" {
		return accesserr.New(accesserr.ErrRoleInherited, op).
			WithRole(name.String()).
			WithDetail("inherited by %s", child)
	}

	if reassignTo != "" {
		target, ok := s.Get(reassignTo)
		switch {
		case !ok:
			return accesserr.New(accesserr.ErrRoleNotFound, op).WithRole(reassignTo.String()).WithDetail("reassignment target")
		case reassignTo == name || !target.IsActive:
			return accesserr.New(accesserr.ErrInvalidRole, op).WithRole(reassignTo.String()).WithDetail("invalid reassignment target")
		case target.Level >= req.Level:
			return accesserr.New(accesserr.ErrInsufficientPrivilege, op).
				WithRole(reassignTo.String()).
				WithUser(req.UserID).
				WithDetail("reassignment target level %d is not below requester level %d", target.Level, req.Level)
		}
	}

	if s.repo != nil {
		holders, err := s.repo.CountHolders(ctx, name)
		if err != nil {
			return accesserr.Unavailable(op, err)
		}
		if holders > 0 && reassignTo == "" {
			e := accesserr.New(accesserr.ErrRoleHasActiveHolders, op).WithRole(name.String())
			e.Holders = holders
			return e
		}
		if err := s.repo.DeleteRole(ctx, name, reassignTo); err != nil {
			return accesserr.Unavailable(op, err)
		}
	}

	s.commit(func(defs map[Name]Definition) { delete(defs, name) })
	return nil
}

// validateCustom applies the write-time checks shared by Create and Update
func (s *Store) validateCustom(op string, def *Definition, req Requester) error {
	if def.Level < s.policy.CustomLevelMin || def.Level > s.policy.CustomLevelMax {
		return accesserr.New(accesserr.ErrInvalidRole, op).
			WithRole(def.Name.String()).
			WithDetail("level %d outside custom range %d..%d", def.Level, s.policy.CustomLevelMin, s.policy.CustomLevelMax)
	}
	if def.Level >= req.Level {
		return accesserr.New(accesserr.ErrInsufficientPrivilege, op).
			WithRole(def.Name.String()).
			WithUser(req.UserID).
			WithDetail("role level %d is not below requester level %d", def.Level, req.Level)
	}

	normalized, err := s.normalizeRights(op, *def)
	if err != nil {
		return err
	}
	def.GrantedRights = normalized

	if def.ParentRole != "" {
		parent, ok := s.Get(def.ParentRole)
		if !ok {
			return accesserr.New(accesserr.ErrRoleNotFound, op).
				WithRole(def.ParentRole.String()).
				WithDetail("parent of %s", def.Name)
		}
		if parent.Level >= req.Level {
			return accesserr.New(accesserr.ErrInsufficientPrivilege, op).
				WithRole(def.Name.String()).
				WithUser(req.UserID).
				WithDetail("parent %s level %d is not below requester level %d", parent.Name, parent.Level, req.Level)
		}
	}

	s.mu.RLock()
	candidate := make(map[Name]Definition, len(s.defs)+1)
	for n, d := range s.defs {
		candidate[n] = d
	}
	s.mu.RUnlock()
	candidate[def.Name] = *def

	return checkChain(op, def.Name, candidate)
}

func (s *Store) normalizeRights(op string, def Definition) ([]rights.Key, error) {
	seen := make(map[rights.Key]struct{}, len(def.GrantedRights))
	out := make([]rights.Key, 0, len(def.GrantedRights))
	for _, raw := range def.GrantedRights {
		key, err := rights.ParseKey(string(raw))
		if err != nil {
			return nil, accesserr.New(accesserr.ErrUnknownAccessRight, op).
				WithRole(def.Name.String()).
				WithRight(string(raw)).
				Wrap(err)
		}
		if err := s.catalog.Validate(key); err != nil {
			return nil, accesserr.New(accesserr.ErrUnknownAccessRight, op).
				WithRole(def.Name.String()).
				WithRight(key.String())
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	rights.SortKeys(out)
	return out, nil
}

func (s *Store) childOf(name Name) Name {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for n, d := range s.defs {
		if d.ParentRole == name {
			return n
		}
	}
	return ""
}

// commit applies a mutation and invalidates every memoized right set
func (s *Store) commit(mutate func(map[Name]Definition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(s.defs)
	s.version++
	s.memo.Purge()
}

// checkChain walks parent pointers from name and fails on a revisit
func checkChain(op string, name Name, defs map[Name]Definition) error {
	visited := make(map[Name]struct{})
	for cur := name; cur != ""; {
		if _, seen := visited[cur]; seen {
			return accesserr.New(accesserr.ErrCyclicRoleInheritance, op).
				WithRole(name.String()).
				WithDetail("%s is revisited", cur)
		}
		if len(visited) >= MaxInheritanceDepth {
			return accesserr.New(accesserr.ErrCyclicRoleInheritance, op).
				WithRole(name.String()).
				WithDetail("inheritance deeper than %d", MaxInheritanceDepth)
		}
		visited[cur] = struct{}{}

		def, ok := defs[cur]
		if !ok {
			return accesserr.New(accesserr.ErrRoleNotFound, op).WithRole(cur.String())
		}
		cur = def.ParentRole
	}
	return nil
}

func resolveChain(name Name, defs map[Name]Definition) ([]rights.Key, error) {
	if err := checkChain("roles.EffectiveRights", name, defs); err != nil {
		return nil, err
	}

	seen := make(map[rights.Key]struct{})
	var out []rights.Key
	for cur := name; cur != ""; cur = defs[cur].ParentRole {
		for _, k := range defs[cur].GrantedRights {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	rights.SortKeys(out)
	return out, nil
}

func cloneKeys(in []rights.Key) []rights.Key {
	out := make([]rights.Key, len(in))
	copy(out, in)
	return out
}
