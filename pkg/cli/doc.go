// Package cli provides the gatekeeper command-line interface.
//
// # Overview
//
// The commands load a snapshot through the same engine services use, so
// an operator sees exactly what an application would decide.
//
// # Commands
//
// check: Evaluate access rights for a user
//
//	gatekeeper check \
//		-snapshot ./gatekeeper.yaml \
//		-user u-42 \
//		-dept physics \
//		-all \
//		courses:read courses:write
//
// Pass -password to evaluate in an escalated session. The exit status is
// 2 when access is denied.
//
// memberships: List effective department memberships
//
//	gatekeeper memberships -user u-42 -json
//
// role-rights: Show a role's effective rights, inherited ones included
//
//	gatekeeper role-rights -role instructor
//
// validate: Load a snapshot and report structural errors
//
//	gatekeeper validate -snapshot ./gatekeeper.yaml
//
// watch: Reload the snapshot when its file changes and serve
// /metrics, /health/live and /health/ready
//
//	gatekeeper watch -refresh "@every 5m" -addr :9090
//
// # Configuration
//
// Every command reads the GATEKEEPER_* environment described in package
// config. -snapshot overrides the storage backend with a snapshot file.
package cli
