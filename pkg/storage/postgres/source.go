// Package postgres implements storage.WritableSource over database/sql.
// Production deployments use PostgreSQL through lib/pq; the queries also
// run against SQLite, which the tests use.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Source implements storage.WritableSource using a SQL database
type Source struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.WritableSource = (*Source)(nil)
var _ storage.HealthChecker = (*Source)(nil)

// Open connects to PostgreSQL and runs pending migrations
func Open(ctx context.Context, config storage.Config) (*Source, error) {
	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(config.PostgresMaxConns)
	db.SetMaxIdleConns(config.PostgresMinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, config.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return New(db), nil
}

// New wraps an open database. The schema must already be migrated.
func New(db *sql.DB) *Source {
	return &Source{db: db, now: time.Now}
}

// DB returns the underlying handle
func (s *Source) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Source) Close() error {
	return s.db.Close()
}

// HealthCheck implements storage.HealthChecker
func (s *Source) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	return nil
}

// LoadAccessRights implements storage.RightsLoader
func (s *Source) LoadAccessRights(ctx context.Context) ([]rights.AccessRight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT right_key, domain, sensitivity_level, is_wildcardable, description
		FROM access_rights
		ORDER BY right_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query access rights: %w", err)
	}
	defer rows.Close()

	var out []rights.AccessRight
	for rows.Next() {
		var right rights.AccessRight
		var key string
		if err := rows.Scan(&key, &right.Domain, &right.SensitivityLevel, &right.IsWildcardable, &right.Description); err != nil {
			return nil, fmt.Errorf("failed to scan access right: %w", err)
		}
		right.Key = rights.Key(key)
		out = append(out, right)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access rights: %w", err)
	}
	return out, nil
}

// LoadRoleDefinitions implements storage.RoleLoader
func (s *Source) LoadRoleDefinitions(ctx context.Context) ([]roles.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, display_name, description, level, granted_rights, parent_role, scope_kind, department_id, is_active, created_by, created_at, updated_at
		FROM roles
		ORDER BY level DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var out []roles.Definition
	for rows.Next() {
		var def roles.Definition
		var name, scope, granted string
		var parent, departmentID sql.NullString
		if err := rows.Scan(
			&name,
			&def.DisplayName,
			&def.Description,
			&def.Level,
			&granted,
			&parent,
			&scope,
			&departmentID,
			&def.IsActive,
			&def.CreatedBy,
			&def.CreatedAt,
			&def.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := json.Unmarshal([]byte(granted), &def.GrantedRights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rights for role %s: %w", name, err)
		}
		def.Name = roles.Name(name)
		def.ScopeKind = roles.ScopeKind(scope)
		def.ParentRole = roles.Name(parent.String)
		def.DepartmentID = departmentID.String
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return out, nil
}

// LoadDepartmentTree implements storage.DepartmentLoader
func (s *Source) LoadDepartmentTree(ctx context.Context) ([]departments.Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, parent_id, require_explicit_membership
		FROM departments
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query departments: %w", err)
	}
	defer rows.Close()

	var out []departments.Department
	for rows.Next() {
		var dept departments.Department
		var id string
		var parent sql.NullString
		if err := rows.Scan(&id, &dept.Name, &parent, &dept.RequireExplicitMembership); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		dept.ID = departments.ID(id)
		dept.ParentID = departments.ID(parent.String)
		out = append(out, dept)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate departments: %w", err)
	}
	return out, nil
}

// LoadMembershipsForUser implements storage.MembershipLoader
func (s *Source) LoadMembershipsForUser(ctx context.Context, userID string) ([]membership.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT department_id, roles, is_primary, is_active, expires_at
		FROM memberships
		WHERE user_id = $1
		ORDER BY department_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var out []membership.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return out, nil
}

// CountHolders implements storage.HolderCounter. Only live memberships
// count and each user is counted once.
func (s *Source) CountHolders(ctx context.Context, name roles.Name) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, department_id, roles, is_primary, is_active, expires_at
		FROM memberships
		WHERE is_active = $1 AND roles LIKE $2
	`, true, rolePattern(name))
	if err != nil {
		return 0, fmt.Errorf("failed to query holders: %w", err)
	}
	defer rows.Close()

	now := s.now()
	users := make(map[string]struct{})
	for rows.Next() {
		var userID string
		var m membership.Membership
		var departmentID, granted string
		var expires sql.NullTime
		if err := rows.Scan(&userID, &departmentID, &granted, &m.IsPrimary, &m.IsActive, &expires); err != nil {
			return 0, fmt.Errorf("failed to scan holder: %w", err)
		}
		if err := json.Unmarshal([]byte(granted), &m.Roles); err != nil {
			return 0, fmt.Errorf("failed to unmarshal membership roles: %w", err)
		}
		if expires.Valid {
			m.ExpiresAt = &expires.Time
		}
		if !m.Live(now) || !hasRole(m.Roles, name) {
			continue
		}
		users[userID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate holders: %w", err)
	}
	return len(users), nil
}

// VerifyEscalationCredential implements storage.CredentialVerifier
func (s *Source) VerifyEscalationCredential(ctx context.Context, userID, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT credential_hash FROM escalation_credentials WHERE user_id = $1", userID,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query escalation credential: %w", err)
	}
	return storage.CompareCredential(hash, password)
}

// SetEscalationCredential stores a bcrypt hash of password for a user
func (s *Source) SetEscalationCredential(ctx context.Context, userID, password string) error {
	hash, err := storage.HashCredential(password)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escalation_credentials (user_id, credential_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET credential_hash = excluded.credential_hash, updated_at = excluded.updated_at
	`, userID, hash, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store escalation credential: %w", err)
	}
	return nil
}

// SaveRole implements storage.RoleWriter
func (s *Source) SaveRole(ctx context.Context, def roles.Definition) error {
	granted, err := json.Marshal(def.GrantedRights)
	if err != nil {
		return fmt.Errorf("failed to marshal rights: %w", err)
	}
	if def.GrantedRights == nil {
		granted = []byte("[]")
	}

	created, updated := def.CreatedAt, def.UpdatedAt
	if created.IsZero() {
		created = s.now().UTC()
	}
	if updated.IsZero() {
		updated = created
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roles (name, display_name, description, level, granted_rights, parent_role, scope_kind, department_id, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (name) DO UPDATE SET
			display_name = excluded.display_name,
			description = excluded.description,
			level = excluded.level,
			granted_rights = excluded.granted_rights,
			parent_role = excluded.parent_role,
			scope_kind = excluded.scope_kind,
			department_id = excluded.department_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`,
		string(def.Name), def.DisplayName, def.Description, def.Level, string(granted),
		nullString(string(def.ParentRole)), string(def.ScopeKind), nullString(def.DepartmentID),
		def.IsActive, def.CreatedBy, created, updated,
	)
	if err != nil {
		return fmt.Errorf("failed to save role %s: %w", def.Name, err)
	}
	return nil
}

// DeleteRole implements storage.RoleWriter. Holders move to reassignTo, or
// lose the role when reassignTo is empty.
func (s *Source) DeleteRole(ctx context.Context, name roles.Name, reassignTo roles.Name) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE name = $1", string(name)); err != nil {
		return fmt.Errorf("failed to delete role %s: %w", name, err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT user_id, department_id, roles FROM memberships WHERE roles LIKE $1", rolePattern(name))
	if err != nil {
		return fmt.Errorf("failed to query memberships: %w", err)
	}

	type update struct {
		userID, departmentID string
		roles                []byte
	}
	var updates []update
	for rows.Next() {
		var userID, departmentID, granted string
		if err := rows.Scan(&userID, &departmentID, &granted); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan membership: %w", err)
		}
		var held []roles.Name
		if err := json.Unmarshal([]byte(granted), &held); err != nil {
			rows.Close()
			return fmt.Errorf("failed to unmarshal membership roles: %w", err)
		}
		if !hasRole(held, name) {
			continue
		}
		next, err := json.Marshal(storage.ReassignRole(held, name, reassignTo))
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to marshal membership roles: %w", err)
		}
		updates = append(updates, update{userID: userID, departmentID: departmentID, roles: next})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate memberships: %w", err)
	}
	rows.Close()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			"UPDATE memberships SET roles = $1 WHERE user_id = $2 AND department_id = $3",
			string(u.roles), u.userID, u.departmentID,
		); err != nil {
			return fmt.Errorf("failed to update membership for %s: %w", u.userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role deletion: %w", err)
	}
	return nil
}

// SaveDepartment upserts a department
func (s *Source) SaveDepartment(ctx context.Context, dept departments.Department) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, name, parent_id, require_explicit_membership)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			require_explicit_membership = excluded.require_explicit_membership
	`, string(dept.ID), dept.Name, nullString(string(dept.ParentID)), dept.RequireExplicitMembership)
	if err != nil {
		return fmt.Errorf("failed to save department %s: %w", dept.ID, err)
	}
	return nil
}

// SaveMembership upserts a user's membership in one department
func (s *Source) SaveMembership(ctx context.Context, userID string, m membership.Membership) error {
	held := m.Roles
	if held == nil {
		held = []roles.Name{}
	}
	granted, err := json.Marshal(held)
	if err != nil {
		return fmt.Errorf("failed to marshal membership roles: %w", err)
	}

	var expires sql.NullTime
	if m.ExpiresAt != nil {
		expires = sql.NullTime{Time: m.ExpiresAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, department_id, roles, is_primary, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, department_id) DO UPDATE SET
			roles = excluded.roles,
			is_primary = excluded.is_primary,
			is_active = excluded.is_active,
			expires_at = excluded.expires_at
	`, userID, string(m.DepartmentID), string(granted), m.IsPrimary, m.IsActive, expires)
	if err != nil {
		return fmt.Errorf("failed to save membership for %s: %w", userID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(row scanner) (membership.Membership, error) {
	var m membership.Membership
	var departmentID, granted string
	var expires sql.NullTime
	if err := row.Scan(&departmentID, &granted, &m.IsPrimary, &m.IsActive, &expires); err != nil {
		return m, fmt.Errorf("failed to scan membership: %w", err)
	}
	if err := json.Unmarshal([]byte(granted), &m.Roles); err != nil {
		return m, fmt.Errorf("failed to unmarshal membership roles: %w", err)
	}
	m.DepartmentID = departments.ID(departmentID)
	if expires.Valid {
		t := expires.Time
		m.ExpiresAt = &t
	}
	return m, nil
}

// rolePattern narrows membership scans to rows whose JSON mentions name
func rolePattern(name roles.Name) string {
	return "%" + `"` + strings.ReplaceAll(string(name), "%", "") + `"` + "%"
}

func hasRole(held []roles.Name, name roles.Name) bool {
	for _, r := range held {
		if r == name {
			return true
		}
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
