// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Storage settings:
//
//	GATEKEEPER_STORAGE_TYPE="snapshot"  # snapshot, postgres
//	GATEKEEPER_SNAPSHOT_PATH="/etc/gatekeeper/snapshot.yaml"
//	GATEKEEPER_POSTGRES_URL="postgres://localhost/gatekeeper"
//	GATEKEEPER_POSTGRES_MAX_CONNS="20"
//	GATEKEEPER_REDIS_URL="redis://localhost:6379"
//
// Sessions:
//
//	GATEKEEPER_SESSION_TTL="8h"
//	GATEKEEPER_ESCALATED_SESSION_TTL="15m"
//	GATEKEEPER_SESSION_PREFIX="gatekeeper:session:"
//
// Role policy:
//
//	GATEKEEPER_CUSTOM_LEVEL_MIN="1"
//	GATEKEEPER_CUSTOM_LEVEL_MAX="79"
//	GATEKEEPER_ADMIN_THRESHOLD="80"
//	GATEKEEPER_ADMIN_DOMAINS="system"
//	GATEKEEPER_ADMIN_GATING="true"
//
// Engine:
//
//	GATEKEEPER_MEMO_SIZE="1024"
//	GATEKEEPER_MAX_DEPARTMENT_DEPTH="64"
//	GATEKEEPER_REFRESH_SCHEDULE="@every 5m"
//
// Observability:
//
//	GATEKEEPER_LOG_LEVEL="info"
//	GATEKEEPER_METRICS_ENABLED="true"
//	GATEKEEPER_METRICS_ADDR=":9090"
//	GATEKEEPER_OTEL_ENABLED="false"
//	GATEKEEPER_OTEL_ENDPOINT="localhost:4317"
//
// Audit:
//
//	GATEKEEPER_AUDIT_ENABLED="true"
//	GATEKEEPER_AUDIT_PATH="/var/log/gatekeeper/audit"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine := rbac.New(source, cfg.EngineOptions())
//
// Invalid values fall back to defaults; Validate rejects combinations
// that cannot work, such as a custom level range reaching the admin
// threshold.
package config
