package roles

import (
	"regexp"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
)

// MaxNameLength bounds role names
const MaxNameLength = 64

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// Name is a validated lowercase-hyphenated role name
type Name string

// ParseName validates a role name
func ParseName(s string) (Name, error) {
	raw := strings.TrimSpace(s)
	if len(raw) == 0 || len(raw) > MaxNameLength || !namePattern.MatchString(raw) {
		return "", accesserr.New(accesserr.ErrInvalidRole, "roles.ParseName").
			WithRole(s).
			WithDetail("role names must be lowercase-hyphenated")
	}
	return Name(raw), nil
}

// String returns the role name as a string
func (n Name) String() string {
	return string(n)
}

// ScopeKind distinguishes platform roles from organization-defined ones
type ScopeKind string

const (
	ScopeBuiltIn ScopeKind = "built-in"
	ScopeCustom  ScopeKind = "custom"
)

// Definition is a named bundle of access rights
type Definition struct {
	Name          Name         `json:"name" yaml:"name"`
	DisplayName   string       `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description   string       `json:"description,omitempty" yaml:"description,omitempty"`
	Level         int          `json:"level" yaml:"level"`
	GrantedRights []rights.Key `json:"granted_rights" yaml:"granted_rights"`
	ParentRole    Name         `json:"parent_role,omitempty" yaml:"parent_role,omitempty"`
	ScopeKind     ScopeKind    `json:"scope_kind" yaml:"scope_kind"`
	// DepartmentID restricts a custom role to one department subtree
	DepartmentID string    `json:"department_id,omitempty" yaml:"department_id,omitempty"`
	IsActive     bool      `json:"is_active" yaml:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// IsBuiltIn reports whether the role is a platform role
func (d Definition) IsBuiltIn() bool {
	return d.ScopeKind == ScopeBuiltIn
}

// Requester identifies the user performing a role write
type Requester struct {
	UserID string
	// Level is the highest level across the requester's roles
	Level int
}

// Policy bounds role levels
type Policy struct {
	CustomLevelMin int
	CustomLevelMax int
	// AdminThreshold is the level at which a role becomes admin-capable
	AdminThreshold int
	// AdminDomains are right domains that make a role admin-capable
	AdminDomains []string
}

// DefaultPolicy returns the default level policy
func DefaultPolicy() Policy {
	return Policy{
		CustomLevelMin: 1,
		CustomLevelMax: 79,
		AdminThreshold: 80,
		AdminDomains:   []string{rights.DomainSystem},
	}
}

func (p Policy) isAdminDomain(domain string) bool {
	for _, d := range p.AdminDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// Built-in role names
const (
	SuperAdmin        Name = "super-admin"
	Admin             Name = "admin"
	DepartmentAdmin   Name = "department-admin"
	Instructor        Name = "instructor"
	TeachingAssistant Name = "teaching-assistant"
	Learner           Name = "learner"
)

// BuiltInRoles returns the platform roles every install starts with
func BuiltInRoles() []Definition {
	return []Definition{
		{
			Name:        SuperAdmin,
			DisplayName: "Super Administrator",
			Description: "Full access to the platform",
			Level:       100,
			GrantedRights: []rights.Key{
				"system:*", "users:*", "departments:*", "courses:*",
				"content:*", "enrollments:*", "reports:*",
				"users:impersonate", "system:escalation:bypass",
			},
			ParentRole: Admin,
			ScopeKind:  ScopeBuiltIn,
			IsActive:   true,
		},
		{
			Name:        Admin,
			DisplayName: "Administrator",
			Description: "Manage users, departments and platform settings",
			Level:       90,
			GrantedRights: []rights.Key{
				"system:settings:read", "system:audit:read", "system:roles:manage",
				"users:*", "departments:*", "reports:*",
			},
			ParentRole: DepartmentAdmin,
			ScopeKind:  ScopeBuiltIn,
			IsActive:   true,
		},
		{
			Name:        DepartmentAdmin,
			DisplayName: "Department Administrator",
			Description: "Manage membership and enrollments of a department",
			Level:       80,
			GrantedRights: []rights.Key{
				"departments:read", "departments:members:manage",
				"enrollments:*", "reports:read", "reports:export",
			},
			ParentRole: Instructor,
			ScopeKind:  ScopeBuiltIn,
			IsActive:   true,
		},
		{
			Name:        Instructor,
			DisplayName: "Instructor",
			Description: "Author and deliver courses",
			Level:       60,
			GrantedRights: []rights.Key{
				"courses:read", "courses:write", "courses:publish",
				"content:*", "enrollments:read", "reports:read",
			},
			ParentRole: TeachingAssistant,
			ScopeKind:  ScopeBuiltIn,
			IsActive:   true,
		},
		{
			Name:        TeachingAssistant,
			DisplayName: "Teaching Assistant",
			Description: "Support instructors with content and grading",
			Level:       40,
			GrantedRights: []rights.Key{
				"content:courses:write", "enrollments:read",
			},
			ParentRole: Learner,
			ScopeKind:  ScopeBuiltIn,
			IsActive:   true,
		},
		{
			Name:          Learner,
			DisplayName:   "Learner",
			Description:   "Take courses",
			Level:         10,
			GrantedRights: []rights.Key{"courses:read", "content:courses:read"},
			ScopeKind:     ScopeBuiltIn,
			IsActive:      true,
		},
	}
}

// IsBuiltInName reports whether name is reserved by a platform role
func IsBuiltInName(name Name) bool {
	for _, def := range BuiltInRoles() {
		if def.Name == name {
			return true
		}
	}
	return false
}
