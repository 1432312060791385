package rbac

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/evaluator"
	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
	"github.com/platinummonkey/gatekeeper/pkg/session"
)

// EvaluateOptions tune a single Evaluate call
type EvaluateOptions struct {
	// RequireAll grants only when every requested right is held
	RequireAll bool

	// DepartmentID limits the check to one department. Defaults to the
	// session's active department.
	DepartmentID departments.ID

	// Session supplies the escalation state. Ignored when it belongs to
	// another user.
	Session *session.Session
}

// Evaluate checks whether userID holds the requested rights. A denial is
// a normal result; errors mean the question could not be answered.
func (e *Engine) Evaluate(ctx context.Context, userID string, requested []string, opts EvaluateOptions) (evaluator.Result, error) {
	const op = "rbac.Evaluate"

	snap, err := e.current()
	if err != nil {
		return evaluator.Result{}, err
	}
	ms, err := e.memberships(ctx, op, userID)
	if err != nil {
		return evaluator.Result{}, err
	}

	evalOpts := evaluator.Options{RequireAll: opts.RequireAll, DepartmentID: opts.DepartmentID}
	if s := opts.Session; s != nil && s.UserID == userID {
		evalOpts.Escalation = s.Escalation()
		if evalOpts.DepartmentID == "" {
			evalOpts.DepartmentID = s.ActiveDepartmentID
		}
	}

	res, err := snap.eval.HasRight(ctx, userID, ms, requested, evalOpts)
	if err != nil {
		return evaluator.Result{}, err
	}

	e.auditEvaluation(ctx, snap, userID, evalOpts, res)
	return res, nil
}

func (e *Engine) auditEvaluation(ctx context.Context, snap *snapshot, userID string, opts evaluator.Options, res evaluator.Result) {
	if !res.Granted {
		e.recordAudit(ctx, audit.EventTypeAuthzDenied, nil, func(ev *audit.Event) {
			ev.Status = audit.EventStatusDenied
			ev.UserID = userID
			ev.DepartmentID = opts.DepartmentID.String()
			ev.Rights = res.DeniedRights
		})
		return
	}

	var sensitive []string
	for _, g := range res.Trail {
		if snap.catalog.IsSensitive(g.Right) {
			sensitive = append(sensitive, g.Right.String())
		}
	}
	if len(sensitive) == 0 {
		return
	}
	e.recordAudit(ctx, audit.EventTypeAuthzSensitiveGrant, nil, func(ev *audit.Event) {
		ev.UserID = userID
		ev.DepartmentID = opts.DepartmentID.String()
		ev.Rights = sensitive
		ev.Metadata = map[string]interface{}{"escalated": opts.Escalation.Active}
	})
}

// ExpandEffectiveMembership returns the departments a user belongs to,
// directly or by cascade, with the roles held in each.
func (e *Engine) ExpandEffectiveMembership(ctx context.Context, userID string) ([]membership.Effective, error) {
	const op = "rbac.ExpandEffectiveMembership"

	snap, err := e.current()
	if err != nil {
		return nil, err
	}
	ms, err := e.memberships(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	return snap.eval.Resolver().Resolve(ms)
}

// EffectiveMembership implements session.Authority
func (e *Engine) EffectiveMembership(ctx context.Context, userID string) ([]membership.Effective, error) {
	return e.ExpandEffectiveMembership(ctx, userID)
}

// EffectiveLevel returns the highest level across the user's active roles.
// It is for display and role-write guards only.
func (e *Engine) EffectiveLevel(ctx context.Context, userID string) (int, error) {
	const op = "rbac.EffectiveLevel"

	snap, err := e.current()
	if err != nil {
		return 0, err
	}
	ms, err := e.memberships(ctx, op, userID)
	if err != nil {
		return 0, err
	}
	return snap.eval.EffectiveLevel(ms)
}

// EffectiveRights returns the rights a role grants including inherited ones
func (e *Engine) EffectiveRights(name roles.Name) ([]rights.Key, error) {
	snap, err := e.current()
	if err != nil {
		return nil, err
	}
	return snap.roles.EffectiveRights(name)
}

// AdminCapableRoles implements session.Authority
func (e *Engine) AdminCapableRoles(ctx context.Context, userID string) ([]roles.Name, error) {
	const op = "rbac.AdminCapableRoles"

	snap, err := e.current()
	if err != nil {
		return nil, err
	}
	ms, err := e.memberships(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	return snap.eval.AdminCapableRoles(ms)
}

// AvailableRights implements session.Authority
func (e *Engine) AvailableRights(ctx context.Context, userID string, opts evaluator.Options) ([]rights.Key, error) {
	const op = "rbac.AvailableRights"

	snap, err := e.current()
	if err != nil {
		return nil, err
	}
	ms, err := e.memberships(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	return snap.eval.AvailableRights(ms, opts)
}

var _ session.Authority = (*Engine)(nil)
