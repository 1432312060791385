// Package rbac is the entry point of the access-rights engine.
//
// # Overview
//
// An Engine loads the access right catalog, the role definitions and the
// department forest from a storage.Source into an immutable snapshot, and
// answers authorization questions against it:
//
//	source, err := storage.NewFileSystemSource("gatekeeper.yaml")
//	if err != nil {
//		return err
//	}
//	engine := rbac.New(source, rbac.DefaultConfig(),
//		rbac.WithLogger(logger),
//		rbac.WithMetrics(metrics),
//	)
//	if err := engine.Load(ctx); err != nil {
//		return err
//	}
//
//	res, err := engine.Evaluate(ctx, "u-42", []string{"courses:write"}, rbac.EvaluateOptions{
//		DepartmentID: "physics",
//	})
//
// Evaluate never reports a denial as an error. Errors mean the question
// could not be answered: the source was unreachable (accesserr.ErrStoreUnavailable)
// or the snapshot is structurally broken.
//
// # Snapshots
//
// Load reads the three collections in parallel and swaps the snapshot
// pointer only when all of them validate. A broken reload leaves the
// previous snapshot serving. StartRefresh reloads on a cron schedule:
//
//	if err := engine.StartRefresh("@every 5m"); err != nil {
//		return err
//	}
//	defer engine.Stop(ctx)
//
// Memberships are read per request. Concurrent reads for the same user
// share one source call.
//
// # Sessions
//
// Admin-capable roles only count in escalated sessions:
//
//	s, err := engine.Login(ctx, "u-42")
//	err = engine.Escalate(ctx, s, password)
//	res, err := engine.Evaluate(ctx, "u-42", []string{"system:settings:write"}, rbac.EvaluateOptions{Session: s})
//	err = engine.Deescalate(ctx, s)
//
// With WithRedisSessions every successful transition is persisted and
// escalated sessions expire sooner than normal ones.
//
// # Role writes
//
// CreateRole, UpdateRole and DeleteRole take the requester's user id. The
// requester's level is the highest level across their held roles; a role
// can only inherit from, be edited by or be reassigned to levels below it.
// Deleting a role that still has holders requires a reassignment target.
//
// Every transition, role write, denial and grant of a sensitive right is
// recorded through the configured audit.Logger.
package rbac
