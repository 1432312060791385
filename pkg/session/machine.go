package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/evaluator"
	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

const (
	// DefaultNormalTTL is the validity window of a normal session
	DefaultNormalTTL = 8 * time.Hour
	// DefaultEscalatedTTL is the validity window of an escalated session
	DefaultEscalatedTTL = 15 * time.Minute
)

// CredentialVerifier checks the separately stored escalation credential
type CredentialVerifier interface {
	VerifyEscalationCredential(ctx context.Context, userID, password string) (bool, error)
}

// Authority answers the membership and rights questions a transition needs
type Authority interface {
	AdminCapableRoles(ctx context.Context, userID string) ([]roles.Name, error)
	EffectiveMembership(ctx context.Context, userID string) ([]membership.Effective, error)
	AvailableRights(ctx context.Context, userID string, opts evaluator.Options) ([]rights.Key, error)
}

// Observer is notified after every attempted transition
type Observer interface {
	SessionTransition(ctx context.Context, s *Session, t Transition, err error)
}

// Machine applies transitions to sessions
type Machine struct {
	verifier     CredentialVerifier
	authority    Authority
	observers    []Observer
	now          func() time.Time
	newID        func() string
	normalTTL    time.Duration
	escalatedTTL time.Duration
}

// Option configures a Machine
type Option func(*Machine)

// WithObserver adds a transition observer
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithTTLs sets the validity windows of normal and escalated sessions
func WithTTLs(normal, escalated time.Duration) Option {
	return func(m *Machine) {
		if normal > 0 {
			m.normalTTL = normal
		}
		if escalated > 0 {
			m.escalatedTTL = escalated
		}
	}
}

// NewMachine creates a state machine
func NewMachine(verifier CredentialVerifier, authority Authority, opts ...Option) *Machine {
	m := &Machine{
		verifier:     verifier,
		authority:    authority,
		now:          time.Now,
		newID:        uuid.NewString,
		normalTTL:    DefaultNormalTTL,
		escalatedTTL: DefaultEscalatedTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns how long s stays valid from its last update. Escalated
// sessions get the shorter window.
func (m *Machine) TTL(s *Session) time.Duration {
	if s.Escalated() {
		return m.escalatedTTL
	}
	return m.normalTTL
}

// Login starts a normal session and computes its rights
func (m *Machine) Login(ctx context.Context, userID string) (*Session, error) {
	now := m.now()
	s := &Session{
		ID:        m.newID(),
		UserID:    userID,
		Mode:      ModeNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}

	available, err := m.authority.AvailableRights(ctx, userID, s.EvaluationOptions())
	if err != nil {
		m.notify(ctx, s, TransitionLogin, err)
		return nil, err
	}
	s.Rights = available

	m.notify(ctx, s, TransitionLogin, nil)
	return s, nil
}

// Escalate moves a normal session to escalated after verifying the
// escalation credential and that the user holds an admin-capable role.
// On failure the session is left untouched.
func (m *Machine) Escalate(ctx context.Context, s *Session, password string) (err error) {
	const op = "session.Escalate"
	defer func() { m.notify(ctx, s, TransitionEscalate, err) }()

	next, ok := s.Mode.Next(TransitionEscalate)
	if !ok {
		return illegal(op, s, TransitionEscalate)
	}

	verified, err := m.verifier.VerifyEscalationCredential(ctx, s.UserID, password)
	if err != nil {
		return accesserr.Unavailable(op, err)
	}
	if !verified {
		return accesserr.New(accesserr.ErrInvalidEscalationCredential, op).WithUser(s.UserID)
	}

	admin, err := m.authority.AdminCapableRoles(ctx, s.UserID)
	if err != nil {
		return err
	}
	if len(admin) == 0 {
		return accesserr.New(accesserr.ErrInsufficientPrivilege, op).
			WithUser(s.UserID).
			WithDetail("no admin-capable role held")
	}

	now := m.now()
	s.Mode = next
	s.EscalatedRoles = admin
	s.EscalatedAt = &now
	s.UpdatedAt = now
	return nil
}

// Deescalate returns an escalated session to normal. It always succeeds
// from escalated mode and clears any department chosen while escalated.
func (m *Machine) Deescalate(ctx context.Context, s *Session) (err error) {
	defer func() { m.notify(ctx, s, TransitionDeescalate, err) }()

	next, ok := s.Mode.Next(TransitionDeescalate)
	if !ok {
		return illegal("session.Deescalate", s, TransitionDeescalate)
	}

	s.Mode = next
	s.EscalatedRoles = nil
	s.EscalatedAt = nil
	if s.DepartmentOverride {
		s.ActiveDepartmentID = ""
		s.DepartmentOverride = false
	}
	s.UpdatedAt = m.now()
	return nil
}

// SwitchDepartment sets the active department. The user must have an
// effective membership in it.
func (m *Machine) SwitchDepartment(ctx context.Context, s *Session, dept departments.ID) (err error) {
	const op = "session.SwitchDepartment"
	defer func() { m.notify(ctx, s, TransitionSwitchDepartment, err) }()

	next, ok := s.Mode.Next(TransitionSwitchDepartment)
	if !ok {
		return illegal(op, s, TransitionSwitchDepartment)
	}

	effective, err := m.authority.EffectiveMembership(ctx, s.UserID)
	if err != nil {
		return err
	}
	if !membership.Contains(effective, dept) {
		return accesserr.New(accesserr.ErrNotAMember, op).
			WithUser(s.UserID).
			WithDepartment(dept.String())
	}

	s.Mode = next
	s.ActiveDepartmentID = dept
	s.DepartmentOverride = next == ModeEscalated
	s.UpdatedAt = m.now()
	return nil
}

// Continue recomputes the session's rights from current membership and
// role state and returns what changed since the last computation.
// Escalated roles the user no longer holds are dropped.
func (m *Machine) Continue(ctx context.Context, s *Session) (diff Diff, err error) {
	const op = "session.Continue"
	defer func() { m.notify(ctx, s, TransitionContinue, err) }()

	next, ok := s.Mode.Next(TransitionContinue)
	if !ok {
		return Diff{}, illegal(op, s, TransitionContinue)
	}

	if s.Escalated() {
		held, err := m.authority.AdminCapableRoles(ctx, s.UserID)
		if err != nil {
			return Diff{}, err
		}
		s.EscalatedRoles = intersect(s.EscalatedRoles, held)
	}

	available, err := m.authority.AvailableRights(ctx, s.UserID, s.EvaluationOptions())
	if err != nil {
		return Diff{}, err
	}

	diff = DiffRights(s.Rights, available)
	s.Mode = next
	s.Rights = available
	s.UpdatedAt = m.now()
	return diff, nil
}

func (m *Machine) notify(ctx context.Context, s *Session, t Transition, err error) {
	for _, o := range m.observers {
		o.SessionTransition(ctx, s, t, err)
	}
}

func illegal(op string, s *Session, t Transition) error {
	return accesserr.New(accesserr.ErrIllegalTransition, op).
		WithUser(s.UserID).
		WithDetail("%s is not allowed from %s", t, s.Mode)
}

func intersect(current, held []roles.Name) []roles.Name {
	keep := make(map[roles.Name]struct{}, len(held))
	for _, r := range held {
		keep[r] = struct{}{}
	}
	out := make([]roles.Name, 0, len(current))
	for _, r := range current {
		if _, ok := keep[r]; ok {
			out = append(out, r)
		}
	}
	return out
}
