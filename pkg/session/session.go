// Package session implements the escalation state machine that governs
// whether a user's admin-capable roles take part in evaluation.
package session

import (
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/evaluator"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

// Mode is the escalation state of a session
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeEscalated Mode = "escalated"
)

// Transition names a session state change
type Transition string

const (
	TransitionLogin            Transition = "login"
	TransitionEscalate         Transition = "escalate"
	TransitionDeescalate       Transition = "deescalate"
	TransitionSwitchDepartment Transition = "switch_department"
	TransitionContinue         Transition = "continue"
)

// transitions lists every legal move and the mode it leads to
var transitions = map[Mode]map[Transition]Mode{
	ModeNormal: {
		TransitionEscalate:         ModeEscalated,
		TransitionSwitchDepartment: ModeNormal,
		TransitionContinue:         ModeNormal,
	},
	ModeEscalated: {
		TransitionDeescalate:       ModeNormal,
		TransitionSwitchDepartment: ModeEscalated,
		TransitionContinue:         ModeEscalated,
	},
}

// Next returns the mode reached by t, or false if t is not allowed
func (m Mode) Next(t Transition) (Mode, bool) {
	next, ok := transitions[m][t]
	return next, ok
}

// Allows reports whether t is legal from m
func (m Mode) Allows(t Transition) bool {
	_, ok := m.Next(t)
	return ok
}

// Session is a user's authorization session. A Session is mutated by one
// caller at a time.
type Session struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	Mode               Mode           `json:"mode"`
	EscalatedRoles     []roles.Name   `json:"escalated_roles,omitempty"`
	ActiveDepartmentID departments.ID `json:"active_department_id,omitempty"`
	// DepartmentOverride marks an active department chosen while escalated
	DepartmentOverride bool         `json:"department_override,omitempty"`
	Rights             []rights.Key `json:"rights"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	EscalatedAt        *time.Time   `json:"escalated_at,omitempty"`
}

// Escalated reports whether the session is in escalated mode
func (s *Session) Escalated() bool {
	return s.Mode == ModeEscalated
}

// Escalation returns the evaluation view of the session
func (s *Session) Escalation() evaluator.Escalation {
	if s == nil || !s.Escalated() {
		return evaluator.Escalation{}
	}
	out := make([]roles.Name, len(s.EscalatedRoles))
	copy(out, s.EscalatedRoles)
	return evaluator.Escalation{Active: true, Roles: out}
}

// EvaluationOptions returns evaluator options for the session's context
func (s *Session) EvaluationOptions() evaluator.Options {
	return evaluator.Options{
		DepartmentID: s.ActiveDepartmentID,
		Escalation:   s.Escalation(),
	}
}

// Diff lists rights gained and lost between two computations
type Diff struct {
	Added   []rights.Key `json:"added"`
	Removed []rights.Key `json:"removed"`
}

// Empty reports whether nothing changed
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffRights compares two right sets
func DiffRights(before, after []rights.Key) Diff {
	prev := make(map[rights.Key]struct{}, len(before))
	for _, k := range before {
		prev[k] = struct{}{}
	}
	next := make(map[rights.Key]struct{}, len(after))
	for _, k := range after {
		next[k] = struct{}{}
	}

	d := Diff{Added: []rights.Key{}, Removed: []rights.Key{}}
	for k := range next {
		if _, ok := prev[k]; !ok {
			d.Added = append(d.Added, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	rights.SortKeys(d.Added)
	rights.SortKeys(d.Removed)
	return d
}
