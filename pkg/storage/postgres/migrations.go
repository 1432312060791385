package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all gatekeeper migrations. The DDL sticks to the
// subset PostgreSQL and SQLite share.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create access_rights table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_rights (
					right_key VARCHAR(255) PRIMARY KEY,
					domain VARCHAR(64) NOT NULL,
					sensitivity_level INTEGER NOT NULL DEFAULT 0,
					is_wildcardable BOOLEAN NOT NULL DEFAULT TRUE,
					description TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_access_rights_domain ON access_rights(domain);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					name VARCHAR(64) PRIMARY KEY,
					display_name VARCHAR(255) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					level INTEGER NOT NULL,
					granted_rights TEXT NOT NULL DEFAULT '[]',
					parent_role VARCHAR(64),
					scope_kind VARCHAR(16) NOT NULL,
					department_id VARCHAR(255),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_by VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_roles_parent_role ON roles(parent_role);
			`,
		},
		{
			Version:     3,
			Description: "Create departments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS departments (
					id VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL DEFAULT '',
					parent_id VARCHAR(255),
					require_explicit_membership BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE INDEX IF NOT EXISTS idx_departments_parent_id ON departments(parent_id);
			`,
		},
		{
			Version:     4,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					user_id VARCHAR(255) NOT NULL,
					department_id VARCHAR(255) NOT NULL,
					roles TEXT NOT NULL DEFAULT '[]',
					is_primary BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMP,
					PRIMARY KEY (user_id, department_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_department_id ON memberships(department_id);
			`,
		},
		{
			Version:     5,
			Description: "Create escalation_credentials table",
			SQL: `
				CREATE TABLE IF NOT EXISTS escalation_credentials (
					user_id VARCHAR(255) PRIMARY KEY,
					credential_hash TEXT NOT NULL,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// RunMigrations executes all pending migrations and returns the versions
// it applied.
func RunMigrations(ctx context.Context, db *sql.DB) ([]int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gatekeeper_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM gatekeeper_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	var applied []int
	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO gatekeeper_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
		applied = append(applied, migration.Version)
	}

	return applied, nil
}

// SeedDefaults inserts the default access rights and built-in roles.
// Existing rows are left untouched.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, right := range rights.DefaultAccessRights() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO access_rights (right_key, domain, sensitivity_level, is_wildcardable, description)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (right_key) DO NOTHING
		`, right.Key.String(), right.Domain, right.SensitivityLevel, right.IsWildcardable, right.Description); err != nil {
			return fmt.Errorf("failed to seed access right %s: %w", right.Key, err)
		}
	}

	now := time.Now().UTC()
	for _, def := range roles.BuiltInRoles() {
		granted, err := json.Marshal(def.GrantedRights)
		if err != nil {
			return fmt.Errorf("failed to marshal rights for %s: %w", def.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO roles (name, display_name, description, level, granted_rights, parent_role, scope_kind, department_id, is_active, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (name) DO NOTHING
		`,
			string(def.Name), def.DisplayName, def.Description, def.Level, string(granted),
			nullString(string(def.ParentRole)), string(def.ScopeKind), nullString(def.DepartmentID),
			def.IsActive, def.CreatedBy, now, now,
		); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", def.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}
