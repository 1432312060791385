package accesserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKind(t *testing.T) {
	err := New(ErrImmutableRole, "roles.Update").WithRole("admin")

	assert.True(t, errors.Is(err, ErrImmutableRole))
	assert.False(t, errors.Is(err, ErrRoleNotFound))
	assert.Equal(t, "roles.Update: immutable role (role=admin)", err.Error())
}

func TestErrorCarriesContext(t *testing.T) {
	err := New(ErrRoleHasActiveHolders, "roles.Delete").WithRole("content-admin")
	err.Holders = 8

	assert.Contains(t, err.Error(), "role=content-admin")
	assert.Contains(t, err.Error(), "holders=8")

	wrapped := fmt.Errorf("delete failed: %w", err)
	var ae *Error
	require.True(t, errors.As(wrapped, &ae))
	assert.Equal(t, "content-admin", ae.Role)
	assert.Equal(t, 8, ae.Holders)
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("source.LoadAccessRights", cause)

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, Unavailable("op", nil))

	classified := New(ErrCorruptHierarchy, "load").WithDepartment("d1")
	assert.Same(t, classified, Unavailable("op", classified))
}

func TestKindOfAndLabel(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  error
		label string
	}{
		{name: "nil", err: nil, kind: nil, label: "ok"},
		{name: "plain", err: errors.New("boom"), kind: nil, label: "internal"},
		{name: "classified", err: New(ErrNotAMember, "switch"), kind: ErrNotAMember, label: "not_a_member_of_department"},
		{name: "wrapped", err: fmt.Errorf("x: %w", New(ErrStoreUnavailable, "load")), kind: ErrStoreUnavailable, label: "store_unavailable"},
		{name: "catalog", err: New(ErrInvalidCatalog, "seed"), kind: ErrInvalidCatalog, label: "invalid_access_right_catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.label, Label(tt.err))
		})
	}
}
