package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/session"
)

// Login starts a normal session for userID
func (e *Engine) Login(ctx context.Context, userID string) (*session.Session, error) {
	s, err := e.machine.Login(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.persist(ctx, "rbac.Login", s); err != nil {
		return nil, err
	}
	return s, nil
}

// Escalate verifies the escalation credential and switches the session to
// escalated mode
func (e *Engine) Escalate(ctx context.Context, s *session.Session, password string) error {
	return e.transition(ctx, "rbac.Escalate", s, func(next *session.Session) error {
		return e.machine.Escalate(ctx, next, password)
	})
}

// Deescalate returns the session to normal mode
func (e *Engine) Deescalate(ctx context.Context, s *session.Session) error {
	return e.transition(ctx, "rbac.Deescalate", s, func(next *session.Session) error {
		return e.machine.Deescalate(ctx, next)
	})
}

// SwitchDepartment changes the session's active department
func (e *Engine) SwitchDepartment(ctx context.Context, s *session.Session, dept departments.ID) error {
	return e.transition(ctx, "rbac.SwitchDepartment", s, func(next *session.Session) error {
		return e.machine.SwitchDepartment(ctx, next, dept)
	})
}

// ContinueSession recomputes the session's rights and reports the change
func (e *Engine) ContinueSession(ctx context.Context, s *session.Session) (session.Diff, error) {
	var diff session.Diff
	err := e.transition(ctx, "rbac.ContinueSession", s, func(next *session.Session) error {
		var err error
		diff, err = e.machine.Continue(ctx, next)
		return err
	})
	if err != nil {
		return session.Diff{}, err
	}
	return diff, nil
}

// transition applies fn to a copy of s and copies the result back only
// once it has been persisted. s is unchanged on any failure.
func (e *Engine) transition(ctx context.Context, op string, s *session.Session, fn func(*session.Session) error) error {
	next := *s
	if err := fn(&next); err != nil {
		return err
	}
	if err := e.persist(ctx, op, &next); err != nil {
		return err
	}
	*s = next
	return nil
}

// ResumeSession loads a persisted session. Requires a session store.
func (e *Engine) ResumeSession(ctx context.Context, id string) (*session.Session, error) {
	const op = "rbac.ResumeSession"
	if e.sessions == nil {
		return nil, accesserr.New(accesserr.ErrStoreUnavailable, op).WithDetail("no session store configured")
	}
	s, err := e.sessions.Load(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		e.metrics.RecordStoreError("load_session")
		return nil, accesserr.Unavailable(op, err)
	}
	return s, nil
}

// Logout removes a persisted session
func (e *Engine) Logout(ctx context.Context, s *session.Session) error {
	if e.sessions == nil {
		return nil
	}
	if err := e.sessions.Delete(ctx, s.ID); err != nil {
		e.metrics.RecordStoreError("delete_session")
		return accesserr.Unavailable("rbac.Logout", err)
	}
	return nil
}

// SessionTTL returns how long s stays valid from its last update
func (e *Engine) SessionTTL(s *session.Session) time.Duration {
	return e.machine.TTL(s)
}

func (e *Engine) persist(ctx context.Context, op string, s *session.Session) error {
	if e.sessions == nil {
		return nil
	}
	if err := e.sessions.Save(ctx, s); err != nil {
		e.metrics.RecordStoreError("save_session")
		return accesserr.Unavailable(op, err)
	}
	return nil
}

// auditObserver turns session transitions into audit events
type auditObserver struct {
	engine *Engine
}

var transitionEvents = map[session.Transition]audit.EventType{
	session.TransitionLogin:            audit.EventTypeSessionLogin,
	session.TransitionEscalate:         audit.EventTypeSessionEscalate,
	session.TransitionDeescalate:       audit.EventTypeSessionDeescalate,
	session.TransitionSwitchDepartment: audit.EventTypeSessionSwitchDepartment,
	session.TransitionContinue:         audit.EventTypeSessionContinue,
}

func (o *auditObserver) SessionTransition(ctx context.Context, s *session.Session, t session.Transition, err error) {
	eventType, ok := transitionEvents[t]
	if !ok {
		return
	}
	o.engine.recordAudit(ctx, eventType, err, func(ev *audit.Event) {
		if s == nil {
			return
		}
		ev.UserID = s.UserID
		ev.SessionID = s.ID
		ev.DepartmentID = s.ActiveDepartmentID.String()
		ev.Metadata = map[string]interface{}{"mode": string(s.Mode)}
		if len(s.EscalatedRoles) > 0 {
			names := make([]string, len(s.EscalatedRoles))
			for i, r := range s.EscalatedRoles {
				names[i] = r.String()
			}
			ev.Metadata["escalated_roles"] = names
		}
	})
}

// recordAudit writes an audit event. Sink failures are logged and never
// fail the operation being audited.
func (e *Engine) recordAudit(ctx context.Context, eventType audit.EventType, err error, fill func(*audit.Event)) {
	ev := audit.NewEvent(ctx, eventType, err)
	if fill != nil {
		fill(ev)
	}
	if logErr := e.auditLog.Log(ctx, ev); logErr != nil {
		e.logger.WithError(logErr).
			WithField("event_type", string(eventType)).
			Warn("failed to write audit event")
	}
}
