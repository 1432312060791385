// Package evaluator answers whether a user holds requested access rights.
//
// An Evaluator is bound to one snapshot of the catalog, role store and
// department hierarchy; given the same memberships and options it always
// returns the same result.
package evaluator

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

const tracerName = "github.com/platinummonkey/gatekeeper/pkg/evaluator"

// Escalation is the session state relevant to evaluation
type Escalation struct {
	Active bool
	Roles  []roles.Name
}

// Options tune a single evaluation
type Options struct {
	// RequireAll switches from OR to AND semantics
	RequireAll bool
	// DepartmentID limits the check to one department's roles
	DepartmentID departments.ID
	Escalation   Escalation
}

// Grant explains why a right was granted
type Grant struct {
	Right        rights.Key     `json:"right"`
	Role         roles.Name     `json:"role"`
	DepartmentID departments.ID `json:"department_id,omitempty"`
	// Pattern is the granted key or wildcard that matched
	Pattern rights.Key `json:"pattern"`
}

// Result is the outcome of an evaluation. Denial is a normal result.
type Result struct {
	Granted       bool     `json:"granted"`
	GrantedRights []string `json:"granted_rights"`
	DeniedRights  []string `json:"denied_rights"`
	Trail         []Grant  `json:"trail,omitempty"`
}

// Recorder observes evaluations
type Recorder interface {
	RecordEvaluation(outcome string, requireAll bool, duration time.Duration)
}

// Evaluator combines the role store, the membership resolver and the catalog
type Evaluator struct {
	catalog   *rights.Catalog
	roles     *roles.Store
	hierarchy *departments.Hierarchy
	resolver  *membership.Resolver
	gateAdmin bool
	tracer    trace.Tracer
	rec       Recorder
	clock     membership.Clock
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithAdminGating controls whether admin-capable roles need an escalated
// session. Enabled by default.
func WithAdminGating(enabled bool) Option {
	return func(e *Evaluator) { e.gateAdmin = enabled }
}

// WithRecorder reports evaluation outcomes
func WithRecorder(rec Recorder) Option {
	return func(e *Evaluator) { e.rec = rec }
}

// WithTracer overrides the tracer
func WithTracer(t trace.Tracer) Option {
	return func(e *Evaluator) { e.tracer = t }
}

// WithClock sets the clock used to expire memberships
func WithClock(c membership.Clock) Option {
	return func(e *Evaluator) { e.clock = c }
}

// New creates an evaluator over one snapshot
func New(catalog *rights.Catalog, store *roles.Store, hierarchy *departments.Hierarchy, opts ...Option) *Evaluator {
	e := &Evaluator{
		catalog:   catalog,
		roles:     store,
		hierarchy: hierarchy,
		gateAdmin: true,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = membership.NewResolver(hierarchy, e.clock)
	return e
}

// Resolver returns the membership resolver bound to the snapshot
func (e *Evaluator) Resolver() *membership.Resolver {
	return e.resolver
}

// HasRight evaluates requested rights for a user. Malformed or unknown
// keys are denied, never reported as errors; only structural problems
// such as a corrupt hierarchy fail the call.
func (e *Evaluator) HasRight(ctx context.Context, userID string, memberships []membership.Membership, requested []string, opts Options) (Result, error) {
	start := time.Now()
	_, span := e.tracer.Start(ctx, "evaluator.HasRight", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("rights.requested", len(requested)),
		attribute.Bool("rights.require_all", opts.RequireAll),
		attribute.String("department.id", opts.DepartmentID.String()),
		attribute.Bool("session.escalated", opts.Escalation.Active),
	))
	defer span.End()

	available, err := e.available(memberships, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.record("error", opts.RequireAll, start)
		return Result{}, err
	}

	res := Result{
		GrantedRights: []string{},
		DeniedRights:  []string{},
	}
	seen := make(map[string]struct{}, len(requested))
	for _, raw := range requested {
		key, perr := rights.ParseKey(raw)
		label := raw
		if perr == nil {
			label = key.String()
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}

		if perr == nil {
			if g, ok := available[key]; ok {
				res.GrantedRights = append(res.GrantedRights, label)
				res.Trail = append(res.Trail, g)
				continue
			}
		}
		res.DeniedRights = append(res.DeniedRights, label)
	}

	if opts.RequireAll {
		res.Granted = len(res.GrantedRights) > 0 && len(res.DeniedRights) == 0
	} else {
		res.Granted = len(res.GrantedRights) > 0
	}

	outcome := "denied"
	if res.Granted {
		outcome = "granted"
	}
	span.SetAttributes(
		attribute.Bool("rights.granted", res.Granted),
		attribute.Int("rights.denied", len(res.DeniedRights)),
	)
	e.record(outcome, opts.RequireAll, start)
	return res, nil
}

// AvailableRights returns every concrete key the user holds under opts
func (e *Evaluator) AvailableRights(memberships []membership.Membership, opts Options) ([]rights.Key, error) {
	available, err := e.available(memberships, opts)
	if err != nil {
		return nil, err
	}
	out := make([]rights.Key, 0, len(available))
	for k := range available {
		out = append(out, k)
	}
	rights.SortKeys(out)
	return out, nil
}

// EffectiveLevel returns the highest level across the user's active roles.
// It is informational; HasRight ignores levels.
func (e *Evaluator) EffectiveLevel(memberships []membership.Membership) (int, error) {
	effective, err := e.resolver.Resolve(memberships)
	if err != nil {
		return 0, err
	}
	level := 0
	for _, eff := range effective {
		for _, name := range eff.Roles {
			if def, ok := e.roles.Get(name); ok && def.IsActive && def.Level > level {
				level = def.Level
			}
		}
	}
	return level, nil
}

// AdminCapableRoles returns the active admin-capable roles a user holds in
// any department, sorted by name.
func (e *Evaluator) AdminCapableRoles(memberships []membership.Membership) ([]roles.Name, error) {
	effective, err := e.resolver.Resolve(memberships)
	if err != nil {
		return nil, err
	}
	set := make(map[roles.Name]struct{})
	for _, eff := range effective {
		for _, name := range eff.Roles {
			def, ok := e.roles.Get(name)
			if !ok || !def.IsActive || !e.roleApplies(def, eff.DepartmentID) {
				continue
			}
			if e.roles.IsAdminCapable(name) {
				set[name] = struct{}{}
			}
		}
	}
	out := make([]roles.Name, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type heldRole struct {
	name roles.Name
	dept departments.ID
}

// available maps every concrete key the user holds to the grant that
// supplied it first.
func (e *Evaluator) available(memberships []membership.Membership, opts Options) (map[rights.Key]Grant, error) {
	effective, err := e.resolver.Resolve(memberships)
	if err != nil {
		return nil, err
	}

	var held []heldRole
	current := make(map[roles.Name]struct{})
	for _, eff := range effective {
		for _, name := range eff.Roles {
			current[name] = struct{}{}
		}
		if opts.DepartmentID != "" && eff.DepartmentID != opts.DepartmentID {
			continue
		}
		for _, name := range eff.Roles {
			held = append(held, heldRole{name: name, dept: eff.DepartmentID})
		}
	}
	// escalated roles count only while the user still holds them
	if opts.DepartmentID == "" && opts.Escalation.Active {
		for _, name := range opts.Escalation.Roles {
			if _, ok := current[name]; ok {
				held = append(held, heldRole{name: name})
			}
		}
	}

	out := make(map[rights.Key]Grant)
	for _, h := range held {
		def, ok := e.roles.Get(h.name)
		if !ok || !def.IsActive || !e.roleApplies(def, h.dept) {
			continue
		}
		if e.gateAdmin && !opts.Escalation.Active && e.roles.IsAdminCapable(h.name) {
			continue
		}

		keys, err := e.roles.EffectiveRights(h.name)
		if err != nil {
			continue
		}
		for _, pattern := range keys {
			for _, k := range e.catalog.ExpandWildcard(pattern) {
				if _, exists := out[k]; exists {
					continue
				}
				out[k] = Grant{Right: k, Role: h.name, DepartmentID: h.dept, Pattern: pattern}
			}
		}
	}
	return out, nil
}

// roleApplies enforces department scoping of custom roles. Roles reached
// without a department (escalated roles) must be unscoped.
func (e *Evaluator) roleApplies(def roles.Definition, dept departments.ID) bool {
	if def.DepartmentID == "" {
		return true
	}
	if dept == "" {
		return false
	}
	return e.hierarchy.IsWithin(dept, departments.ID(def.DepartmentID))
}

func (e *Evaluator) record(outcome string, requireAll bool, start time.Time) {
	if e.rec != nil {
		e.rec.RecordEvaluation(outcome, requireAll, time.Since(start))
	}
}
