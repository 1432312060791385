//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// setupPostgresSource starts a PostgreSQL container and opens a migrated source
func setupPostgresSource(t *testing.T) *Source {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("gatekeeper_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := storage.DefaultConfig()
	cfg.PostgresURL = connStr
	src, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	require.NoError(t, SeedDefaults(ctx, src.DB()))
	return src
}

func TestPostgresSourceRoundTrip(t *testing.T) {
	src := setupPostgresSource(t)
	ctx := context.Background()

	require.NoError(t, src.HealthCheck(ctx))

	defs, err := src.LoadRoleDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(roles.BuiltInRoles()))

	require.NoError(t, src.SaveMembership(ctx, "u1", membership.Membership{
		DepartmentID: "science",
		Roles:        []roles.Name{roles.Instructor},
		IsActive:     true,
	}))

	n, err := src.CountHolders(ctx, roles.Instructor)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, src.DeleteRole(ctx, roles.Instructor, roles.Learner))
	ms, err := src.LoadMembershipsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, []roles.Name{roles.Learner}, ms[0].Roles)

	require.NoError(t, src.SetEscalationCredential(ctx, "u1", "secret"))
	ok, err := src.VerifyEscalationCredential(ctx, "u1", "secret")
	require.NoError(t, err)
	assert.True(t, ok)
}
