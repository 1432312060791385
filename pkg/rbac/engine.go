package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/evaluator"
	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
	"github.com/platinummonkey/gatekeeper/pkg/session"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// ErrNotLoaded is returned by every read before the first successful Load
var ErrNotLoaded = errors.New("engine snapshot not loaded")

// Config holds engine configuration
type Config struct {
	// MemoSize is the number of memoized effective right sets per snapshot
	MemoSize int

	// MaxDepth caps department nesting
	MaxDepth int

	// Policy bounds custom role levels and defines admin capability
	Policy roles.Policy

	// AdminGating keeps admin-capable roles out of normal sessions
	AdminGating bool

	NormalTTL    time.Duration
	EscalatedTTL time.Duration
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		MemoSize:     roles.DefaultMemoSize,
		MaxDepth:     departments.DefaultMaxDepth,
		Policy:       roles.DefaultPolicy(),
		AdminGating:  true,
		NormalTTL:    session.DefaultNormalTTL,
		EscalatedTTL: session.DefaultEscalatedTTL,
	}
}

// Metrics is what the engine reports to. *observability.Metrics satisfies it.
type Metrics interface {
	evaluator.Recorder
	roles.MemoRecorder
	session.Observer
	RecordReload(duration time.Duration, err error)
	RecordStoreError(operation string)
	RecordRoleWrite(operation string, err error)
}

// SessionStore persists sessions between requests
type SessionStore interface {
	Save(ctx context.Context, s *session.Session) error
	Load(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
}

// snapshot is one immutable view of catalog, roles and hierarchy. Role
// writes mutate the store in place; everything else is replaced on reload.
type snapshot struct {
	catalog   *rights.Catalog
	roles     *roles.Store
	hierarchy *departments.Hierarchy
	eval      *evaluator.Evaluator
	loadedAt  time.Time
}

// Engine answers authorization questions over the current snapshot and
// applies session transitions and role writes.
type Engine struct {
	source   storage.Source
	config   Config
	logger   *observability.Logger
	metrics  Metrics
	auditLog audit.Logger
	sessions SessionStore
	now      func() time.Time

	machine *session.Machine
	loads   singleflight.Group

	mu   sync.RWMutex
	snap *snapshot

	cronMu sync.Mutex
	cron   *cron.Cron
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAuditLogger sets where authorization events are recorded
func WithAuditLogger(l audit.Logger) Option {
	return func(e *Engine) { e.auditLog = l }
}

// WithSessionStore persists sessions after every successful transition
func WithSessionStore(s SessionStore) Option {
	return func(e *Engine) { e.sessions = s }
}

// WithRedisSessions persists sessions in Redis with the engine's
// mode-dependent TTLs
func WithRedisSessions(client *redis.Client, prefix string) Option {
	return func(e *Engine) {
		e.sessions = session.NewRedisStore(client, e.SessionTTL, prefix)
	}
}

// WithClock overrides the time source used for expiry and timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine reading from source. Call Load before use.
func New(source storage.Source, config Config, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		config:   config,
		logger:   observability.NopLogger(),
		metrics:  noopMetrics{},
		auditLog: audit.NoopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.machine = session.NewMachine(source, e,
		session.WithClock(e.now),
		session.WithTTLs(config.NormalTTL, config.EscalatedTTL),
		session.WithObserver(e.metrics),
		session.WithObserver(&auditObserver{engine: e}),
	)
	return e
}

// Load reads catalog, roles and departments in parallel and swaps in a new
// snapshot. On any error the previous snapshot stays in place.
func (e *Engine) Load(ctx context.Context) (err error) {
	const op = "rbac.Load"
	start := time.Now()
	defer func() {
		e.metrics.RecordReload(time.Since(start), err)
		e.recordAudit(ctx, audit.EventTypeSnapshotReload, err, nil)
	}()

	var (
		seed  []rights.AccessRight
		defs  []roles.Definition
		depts []departments.Department
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		seed, err = e.source.LoadAccessRights(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		defs, err = e.source.LoadRoleDefinitions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		depts, err = e.source.LoadDepartmentTree(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		e.metrics.RecordStoreError("load")
		return accesserr.Unavailable(op, err)
	}

	catalog, err := rights.NewCatalog(seed)
	if err != nil {
		return fmt.Errorf("failed to build access right catalog: %w", err)
	}

	store, err := roles.NewStore(catalog, defs, e.config.MemoSize,
		roles.WithPolicy(e.config.Policy),
		roles.WithRepository(e.repository()),
		roles.WithMemoRecorder(e.metrics),
		roles.WithClock(e.now),
	)
	if err != nil {
		return err
	}

	hierarchy, err := departments.NewHierarchy(depts, departments.WithMaxDepth(e.config.MaxDepth))
	if err != nil {
		return err
	}

	next := &snapshot{
		catalog:   catalog,
		roles:     store,
		hierarchy: hierarchy,
		eval: evaluator.New(catalog, store, hierarchy,
			evaluator.WithAdminGating(e.config.AdminGating),
			evaluator.WithRecorder(e.metrics),
			evaluator.WithClock(membership.ClockFunc(e.now)),
		),
		loadedAt: e.now(),
	}

	e.mu.Lock()
	e.snap = next
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"rights":      catalog.Len(),
		"roles":       store.Len(),
		"departments": hierarchy.Len(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("snapshot loaded")
	return nil
}

// Reload re-reads the source. Sources that cache their backing data,
// such as snapshot files, are refreshed first.
func (e *Engine) Reload(ctx context.Context) error {
	if r, ok := e.source.(interface{ Reload() error }); ok {
		if err := r.Reload(); err != nil {
			e.logger.WithError(err).Warn("source reload failed, keeping current data")
		}
	}
	return e.Load(ctx)
}

// LoadedAt returns when the current snapshot was built
func (e *Engine) LoadedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap == nil {
		return time.Time{}
	}
	return e.snap.loadedAt
}

// Catalog returns the current access right catalog
func (e *Engine) Catalog() (*rights.Catalog, error) {
	snap, err := e.current()
	if err != nil {
		return nil, err
	}
	return snap.catalog, nil
}

// Roles returns the current role definitions sorted by name
func (e *Engine) Roles() ([]roles.Definition, error) {
	snap, err := e.current()
	if err != nil {
		return nil, err
	}
	return snap.roles.List(), nil
}

// Hierarchy returns the current department hierarchy
func (e *Engine) Hierarchy() (*departments.Hierarchy, error) {
	snap, err := e.current()
	if err != nil {
		return nil, err
	}
	return snap.hierarchy, nil
}

// StartRefresh reloads the snapshot on a cron schedule until Stop
func (e *Engine) StartRefresh(schedule string) error {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()

	if e.cron != nil {
		return fmt.Errorf("refresh already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, e.refresh); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	c.Start()
	e.cron = c

	e.logger.WithField("schedule", schedule).Info("snapshot refresh scheduled")
	return nil
}

// Stop halts scheduled refreshes and waits for a running one to finish
func (e *Engine) Stop(ctx context.Context) error {
	e.cronMu.Lock()
	c := e.cron
	e.cron = nil
	e.cronMu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) refresh() {
	defer e.logger.RecoverPanic("rbac.refresh")

	if err := e.Reload(context.Background()); err != nil {
		e.logger.WithError(err).Error("scheduled snapshot refresh failed")
	}
}

func (e *Engine) current() (*snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap == nil {
		return nil, ErrNotLoaded
	}
	return e.snap, nil
}

// membershipLoadTimeout bounds a shared membership load, which outlives
// the cancellation of any single caller
const membershipLoadTimeout = 30 * time.Second

// memberships loads a user's stored memberships. Concurrent loads for the
// same user share one call to the source.
func (e *Engine) memberships(ctx context.Context, op, userID string) ([]membership.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, accesserr.Unavailable(op, err)
	}

	ch := e.loads.DoChan(userID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), membershipLoadTimeout)
		defer cancel()
		return e.source.LoadMembershipsForUser(loadCtx, userID)
	})

	select {
	case <-ctx.Done():
		return nil, accesserr.Unavailable(op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			e.metrics.RecordStoreError("load_memberships")
			return nil, accesserr.Unavailable(op, res.Err)
		}
		return res.Val.([]membership.Membership), nil
	}
}

func (e *Engine) repository() roles.Repository {
	if w, ok := e.source.(storage.WritableSource); ok {
		return w
	}
	return readOnlyRepository{source: e.source}
}

// readOnlyRepository rejects writes against sources that cannot persist them
type readOnlyRepository struct {
	source storage.Source
}

var errReadOnlySource = errors.New("source does not accept role writes")

func (r readOnlyRepository) SaveRole(context.Context, roles.Definition) error {
	return errReadOnlySource
}

func (r readOnlyRepository) DeleteRole(context.Context, roles.Name, roles.Name) error {
	return errReadOnlySource
}

func (r readOnlyRepository) CountHolders(ctx context.Context, name roles.Name) (int, error) {
	return r.source.CountHolders(ctx, name)
}

type noopMetrics struct{}

func (noopMetrics) RecordEvaluation(string, bool, time.Duration) {}
func (noopMetrics) RecordMemoHit()                               {}
func (noopMetrics) RecordMemoMiss()                              {}
func (noopMetrics) RecordReload(time.Duration, error)            {}
func (noopMetrics) RecordStoreError(string)                      {}
func (noopMetrics) RecordRoleWrite(string, error)                {}
func (noopMetrics) SessionTransition(context.Context, *session.Session, session.Transition, error) {
}
