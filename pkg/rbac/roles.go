package rbac

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

// CreateRole adds a custom role on behalf of requesterID. The requester's
// level is the highest level across the roles they hold.
func (e *Engine) CreateRole(ctx context.Context, def roles.Definition, requesterID string) (created roles.Definition, err error) {
	const op = "rbac.CreateRole"
	defer func() { e.auditRoleWrite(ctx, audit.EventTypeRoleCreate, "create", requesterID, def.Name, nil, &created, err) }()

	snap, req, err := e.requester(ctx, op, requesterID)
	if err != nil {
		return roles.Definition{}, err
	}
	if err := checkDepartment(op, snap, def); err != nil {
		return roles.Definition{}, err
	}
	return snap.roles.Create(ctx, def, req)
}

// UpdateRole replaces a custom role below the requester's level
func (e *Engine) UpdateRole(ctx context.Context, def roles.Definition, requesterID string) (updated roles.Definition, err error) {
	const op = "rbac.UpdateRole"

	var before *roles.Definition
	defer func() { e.auditRoleWrite(ctx, audit.EventTypeRoleUpdate, "update", requesterID, def.Name, before, &updated, err) }()

	snap, req, err := e.requester(ctx, op, requesterID)
	if err != nil {
		return roles.Definition{}, err
	}
	if existing, ok := snap.roles.Get(def.Name); ok {
		before = &existing
	}
	if err := checkDepartment(op, snap, def); err != nil {
		return roles.Definition{}, err
	}
	return snap.roles.Update(ctx, def, req)
}

// DeleteRole removes a custom role. Holders move to reassignTo; with no
// target the delete fails while the role has holders.
func (e *Engine) DeleteRole(ctx context.Context, name, reassignTo roles.Name, requesterID string) (err error) {
	const op = "rbac.DeleteRole"

	var before *roles.Definition
	defer func() { e.auditRoleWrite(ctx, audit.EventTypeRoleDelete, "delete", requesterID, name, before, nil, err) }()

	snap, req, err := e.requester(ctx, op, requesterID)
	if err != nil {
		return err
	}
	if existing, ok := snap.roles.Get(name); ok {
		before = &existing
	}
	return snap.roles.Delete(ctx, name, reassignTo, req)
}

func (e *Engine) requester(ctx context.Context, op, userID string) (*snapshot, roles.Requester, error) {
	snap, err := e.current()
	if err != nil {
		return nil, roles.Requester{}, err
	}
	ms, err := e.memberships(ctx, op, userID)
	if err != nil {
		return nil, roles.Requester{}, err
	}
	level, err := snap.eval.EffectiveLevel(ms)
	if err != nil {
		return nil, roles.Requester{}, err
	}
	return snap, roles.Requester{UserID: userID, Level: level}, nil
}

func checkDepartment(op string, snap *snapshot, def roles.Definition) error {
	if def.DepartmentID == "" {
		return nil
	}
	if _, ok := snap.hierarchy.Get(departments.ID(def.DepartmentID)); !ok {
		return accesserr.New(accesserr.ErrDepartmentNotFound, op).
			WithRole(def.Name.String()).
			WithDepartment(def.DepartmentID)
	}
	return nil
}

func (e *Engine) auditRoleWrite(ctx context.Context, eventType audit.EventType, operation, requesterID string, name roles.Name, before, after *roles.Definition, err error) {
	e.metrics.RecordRoleWrite(operation, err)

	e.recordAudit(ctx, eventType, err, func(ev *audit.Event) {
		ev.UserID = requesterID
		ev.Role = name.String()
		if err != nil {
			return
		}
		changes := &audit.ChangeDetails{}
		if before != nil {
			changes.Before = roleSummary(*before)
		}
		if after != nil {
			changes.After = roleSummary(*after)
		}
		ev.Changes = changes
	})

	logger := e.logger.WithFields(map[string]interface{}{
		"operation":    operation,
		"role":         name.String(),
		"requester_id": requesterID,
	})
	if err != nil {
		logger.WithError(err).Warn("role write rejected")
		return
	}
	logger.Info("role write applied")
}

func roleSummary(def roles.Definition) map[string]interface{} {
	granted := make([]string, len(def.GrantedRights))
	for i, k := range def.GrantedRights {
		granted[i] = k.String()
	}
	out := map[string]interface{}{
		"level":          def.Level,
		"granted_rights": granted,
		"is_active":      def.IsActive,
	}
	if def.ParentRole != "" {
		out["parent_role"] = def.ParentRole.String()
	}
	if def.DepartmentID != "" {
		out["department_id"] = def.DepartmentID
	}
	return out
}
