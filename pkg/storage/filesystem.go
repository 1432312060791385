package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/rights"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

// Snapshot is the on-disk layout of a file-backed source
type Snapshot struct {
	AccessRights []rights.AccessRight     `yaml:"access_rights"`
	Roles        []roles.Definition       `yaml:"roles"`
	Departments  []departments.Department `yaml:"departments"`
	Users        map[string]UserRecord    `yaml:"users"`
}

// UserRecord holds what the source knows about a user
type UserRecord struct {
	// EscalationCredential is a bcrypt hash
	EscalationCredential string                  `yaml:"escalation_credential,omitempty"`
	Memberships          []membership.Membership `yaml:"memberships"`
}

// DefaultSnapshot returns the built-in catalog and roles with no
// departments or users.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		AccessRights: rights.DefaultAccessRights(),
		Roles:        roles.BuiltInRoles(),
		Users:        map[string]UserRecord{},
	}
}

// FileSystemSource implements WritableSource over a YAML snapshot file
type FileSystemSource struct {
	path string
	now  func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// NewFileSystemSource loads a snapshot file
func NewFileSystemSource(path string) (*FileSystemSource, error) {
	s := &FileSystemSource{path: path, now: time.Now}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemorySource serves a snapshot without backing file
func NewMemorySource(snap Snapshot) *FileSystemSource {
	if snap.Users == nil {
		snap.Users = map[string]UserRecord{}
	}
	return &FileSystemSource{snap: snap, now: time.Now}
}

// Path returns the backing file, empty for memory sources
func (s *FileSystemSource) Path() string {
	return s.path
}

// Reload re-reads the snapshot file. The previous snapshot is kept when
// the file cannot be read or parsed.
func (s *FileSystemSource) Reload() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("snapshot file %s is empty", s.path)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	if snap.Users == nil {
		snap.Users = map[string]UserRecord{}
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current snapshot
func (s *FileSystemSource) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.snap)
}

// LoadAccessRights implements RightsLoader
func (s *FileSystemSource) LoadAccessRights(_ context.Context) ([]rights.AccessRight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rights.AccessRight(nil), s.snap.AccessRights...), nil
}

// LoadRoleDefinitions implements RoleLoader
func (s *FileSystemSource) LoadRoleDefinitions(_ context.Context) ([]roles.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRoles(s.snap.Roles), nil
}

// LoadDepartmentTree implements DepartmentLoader
func (s *FileSystemSource) LoadDepartmentTree(_ context.Context) ([]departments.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]departments.Department(nil), s.snap.Departments...), nil
}

// LoadMembershipsForUser implements MembershipLoader
func (s *FileSystemSource) LoadMembershipsForUser(_ context.Context, userID string) ([]membership.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMemberships(s.snap.Users[userID].Memberships), nil
}

// CountHolders implements HolderCounter. Only live memberships count.
func (s *FileSystemSource) CountHolders(_ context.Context, name roles.Name) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	count := 0
	for _, user := range s.snap.Users {
		if holds(user.Memberships, name, now) {
			count++
		}
	}
	return count, nil
}

// VerifyEscalationCredential implements CredentialVerifier
func (s *FileSystemSource) VerifyEscalationCredential(_ context.Context, userID, password string) (bool, error) {
	s.mu.RLock()
	hash := s.snap.Users[userID].EscalationCredential
	s.mu.RUnlock()

	return CompareCredential(hash, password)
}

// SaveRole implements RoleWriter
func (s *FileSystemSource) SaveRole(_ context.Context, def roles.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneSnapshot(s.snap)
	replaced := false
	for i, existing := range next.Roles {
		if existing.Name == def.Name {
			next.Roles[i] = def
			replaced = true
			break
		}
	}
	if !replaced {
		next.Roles = append(next.Roles, def)
	}

	return s.commit(next)
}

// DeleteRole implements RoleWriter. Holders of name are moved to
// reassignTo, or lose the role when reassignTo is empty.
func (s *FileSystemSource) DeleteRole(_ context.Context, name roles.Name, reassignTo roles.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneSnapshot(s.snap)
	kept := next.Roles[:0]
	for _, def := range next.Roles {
		if def.Name != name {
			kept = append(kept, def)
		}
	}
	next.Roles = kept

	for id, user := range next.Users {
		for i, m := range user.Memberships {
			user.Memberships[i].Roles = ReassignRole(m.Roles, name, reassignTo)
		}
		next.Users[id] = user
	}

	return s.commit(next)
}

// SetEscalationCredential stores a bcrypt hash of password for a user
func (s *FileSystemSource) SetEscalationCredential(userID, password string) error {
	hash, err := HashCredential(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneSnapshot(s.snap)
	user := next.Users[userID]
	user.EscalationCredential = hash
	next.Users[userID] = user
	return s.commit(next)
}

// commit writes next to disk, then swaps it in. Caller holds s.mu.
func (s *FileSystemSource) commit(next Snapshot) error {
	if s.path != "" {
		data, err := yaml.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		tmp, err := os.CreateTemp(filepath.Dir(s.path), ".gatekeeper-*.yaml")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		if err := os.Rename(tmp.Name(), s.path); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to replace snapshot: %w", err)
		}
	}

	s.snap = next
	return nil
}

// HashCredential hashes an escalation password for storage
func HashCredential(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash credential: %w", err)
	}
	return string(hash), nil
}

// CompareCredential checks password against a stored bcrypt hash. A user
// without a credential can never escalate.
func CompareCredential(hash, password string) (bool, error) {
	if hash == "" || password == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare credential: %w", err)
	}
}

func holds(ms []membership.Membership, name roles.Name, now time.Time) bool {
	for _, m := range ms {
		if !m.Live(now) {
			continue
		}
		for _, r := range m.Roles {
			if r == name {
				return true
			}
		}
	}
	return false
}

// ReassignRole replaces from with to in a held role list, dropping from
// when to is empty and collapsing duplicates.
func ReassignRole(current []roles.Name, from, to roles.Name) []roles.Name {
	out := make([]roles.Name, 0, len(current))
	seen := make(map[roles.Name]struct{}, len(current))
	for _, r := range current {
		if r == from {
			if to == "" {
				continue
			}
			r = to
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func cloneSnapshot(in Snapshot) Snapshot {
	out := Snapshot{
		AccessRights: append([]rights.AccessRight(nil), in.AccessRights...),
		Roles:        cloneRoles(in.Roles),
		Departments:  append([]departments.Department(nil), in.Departments...),
		Users:        make(map[string]UserRecord, len(in.Users)),
	}
	for id, user := range in.Users {
		out.Users[id] = UserRecord{
			EscalationCredential: user.EscalationCredential,
			Memberships:          cloneMemberships(user.Memberships),
		}
	}
	return out
}

func cloneRoles(in []roles.Definition) []roles.Definition {
	out := make([]roles.Definition, len(in))
	for i, def := range in {
		def.GrantedRights = append([]rights.Key(nil), def.GrantedRights...)
		out[i] = def
	}
	return out
}

func cloneMemberships(in []membership.Membership) []membership.Membership {
	if in == nil {
		return nil
	}
	out := make([]membership.Membership, len(in))
	for i, m := range in {
		m.Roles = append([]roles.Name(nil), m.Roles...)
		out[i] = m
	}
	return out
}
