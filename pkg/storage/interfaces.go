package storage

import (
	"context"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

// RightsLoader loads the access right catalog
type RightsLoader interface {
	LoadAccessRights(ctx context.Context) ([]rights.AccessRight, error)
}

// RoleLoader loads role definitions
type RoleLoader interface {
	LoadRoleDefinitions(ctx context.Context) ([]roles.Definition, error)
}

// DepartmentLoader loads the department forest
type DepartmentLoader interface {
	LoadDepartmentTree(ctx context.Context) ([]departments.Department, error)
}

// MembershipLoader loads a user's stored memberships
type MembershipLoader interface {
	LoadMembershipsForUser(ctx context.Context, userID string) ([]membership.Membership, error)
}

// HolderCounter counts users holding a role
type HolderCounter interface {
	CountHolders(ctx context.Context, name roles.Name) (int, error)
}

// CredentialVerifier checks escalation credentials
type CredentialVerifier interface {
	VerifyEscalationCredential(ctx context.Context, userID, password string) (bool, error)
}

// RoleWriter persists role writes
type RoleWriter interface {
	SaveRole(ctx context.Context, def roles.Definition) error
	DeleteRole(ctx context.Context, name roles.Name, reassignTo roles.Name) error
}

// Source is the persistence collaborator the engine reads from
type Source interface {
	RightsLoader
	RoleLoader
	DepartmentLoader
	MembershipLoader
	HolderCounter
	CredentialVerifier
}

// WritableSource is a Source that also accepts role writes
type WritableSource interface {
	Source
	RoleWriter
}

// HealthChecker reports backend health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config for storage backend
type Config struct {
	Type string // "snapshot" or "postgres"

	// Snapshot file config
	SnapshotPath string

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config, used for sessions
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "snapshot",
		SnapshotPath:     "gatekeeper.yaml",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
