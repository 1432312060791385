// Package storage defines the persistence collaborator consumed by the
// gatekeeper engine and ships a file-backed implementation of it.
//
// # Overview
//
// The engine never owns a schema. It reads through narrow interfaces that
// compose into Source:
//
//   - RightsLoader: LoadAccessRights
//   - RoleLoader: LoadRoleDefinitions
//   - DepartmentLoader: LoadDepartmentTree
//   - MembershipLoader: LoadMembershipsForUser
//   - HolderCounter: CountHolders, used to guard role deletion
//   - CredentialVerifier: VerifyEscalationCredential
//
// Sources that accept role writes also implement RoleWriter, forming a
// WritableSource.
//
// # Backends
//
// FileSystemSource reads a YAML snapshot, writes role changes back to it
// and can hot-reload on file changes:
//
//	src, err := storage.NewFileSystemSource("gatekeeper.yaml")
//	if err != nil {
//		return err
//	}
//	go src.Watch(ctx, func(err error) { ... })
//
// The postgres subpackage implements the same interfaces over database/sql.
//
// # Errors
//
// Backends return plain wrapped errors. The engine converts collaborator
// failures into accesserr.ErrStoreUnavailable and does not retry.
//
// # Credentials
//
// Escalation credentials are stored as bcrypt hashes. Backends compare
// with bcrypt.CompareHashAndPassword and never see plaintext at rest.
package storage
