package keyreg

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobsprake/munin-sub000/pkg/audit"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/rbac"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

func newRegistry(t *testing.T) (*Registry, *audit.Ledger, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := audit.New(st, log)
	r := New(st, ledger, log)
	ledger.SetResolver(r)
	return r, ledger, st
}

func newKey(t *testing.T) string {
	t.Helper()
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub
}

func TestRegisterUser(t *testing.T) {
	r, ledger, _ := newRegistry(t)
	ctx := context.Background()

	user, err := r.RegisterUser(ctx, NewUserParams{
		OperatorID: "op-1",
		Role:       rbac.RoleOperator,
		PublicKey:  newKey(t),
		KeyID:      "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.UserActive, user.Status)
	assert.Equal(t, "key-1", user.CurrentKeyID)

	key, err := r.GetKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.KeyActive, key.Status)
	assert.Equal(t, user.ID, key.UserID)

	entries, err := ledger.List(ctx, store.AuditFilter{EventType: contracts.EventUserRegistered})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRegisterUserValidation(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name string
		p    NewUserParams
	}{
		{"missing operator id", NewUserParams{Role: rbac.RoleOperator}},
		{"unknown role", NewUserParams{OperatorID: "op-x", Role: "superuser"}},
		{"key without id", NewUserParams{OperatorID: "op-x", Role: rbac.RoleOperator, PublicKey: newKey(t)}},
		{"id without key", NewUserParams{OperatorID: "op-x", Role: rbac.RoleOperator, KeyID: "key-x"}},
		{"short key", NewUserParams{OperatorID: "op-x", Role: rbac.RoleOperator, PublicKey: "c2hvcnQ=", KeyID: "key-x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.RegisterUser(ctx, tc.p)
			assert.Equal(t, contracts.KindInputInvalid, contracts.KindOf(err))
		})
	}
}

func TestRegisterUserDuplicateOperatorID(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.RegisterUser(ctx, NewUserParams{OperatorID: "op-1", Role: rbac.RoleOperator})
	require.NoError(t, err)
	_, err = r.RegisterUser(ctx, NewUserParams{OperatorID: "op-1", Role: rbac.RoleViewer})
	assert.Equal(t, contracts.KindConflict, contracts.KindOf(err))
}

func TestRotateKey(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	user, err := r.RegisterUser(ctx, NewUserParams{
		OperatorID: "op-1", Role: rbac.RoleOperator,
		PublicKey: newKey(t), KeyID: "key-1",
	})
	require.NoError(t, err)

	require.NoError(t, r.RotateKey(ctx, user.ID, newKey(t), "key-2"))

	old, err := r.GetKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.KeyRotated, old.Status)
	assert.Equal(t, "key-2", old.RotatedToKeyID)

	current, err := r.GetKey(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, contracts.KeyActive, current.Status)

	updated, err := r.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "key-2", updated.CurrentKeyID)

	// Old keys stay resolvable for historical verification, but cannot
	// authorize anything new.
	pk, err := r.ResolvePublicKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, old.PublicKey, pk)
	allowed, err := r.NewAuthorizationAllowed(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRevokeKey(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	user, err := r.RegisterUser(ctx, NewUserParams{
		OperatorID: "op-1", Role: rbac.RoleOperator,
		PublicKey: newKey(t), KeyID: "key-1",
	})
	require.NoError(t, err)

	require.NoError(t, r.RevokeKey(ctx, user.ID, "key-1"))

	key, err := r.GetKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.KeyRevoked, key.Status)
	require.NotNil(t, key.RevokedAt)

	// The user has no current key now.
	updated, err := r.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.CurrentKeyID)

	// Revoking someone else's key is not found, not forbidden: no
	// leaking of key ownership.
	other, err := r.RegisterUser(ctx, NewUserParams{
		OperatorID: "op-2", Role: rbac.RoleOperator,
		PublicKey: newKey(t), KeyID: "key-2",
	})
	require.NoError(t, err)
	err = r.RevokeKey(ctx, user.ID, "key-2")
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
	_ = other
}

func TestRotateRevokedKeyFails(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	user, err := r.RegisterUser(ctx, NewUserParams{
		OperatorID: "op-1", Role: rbac.RoleOperator,
		PublicKey: newKey(t), KeyID: "key-1",
	})
	require.NoError(t, err)
	require.NoError(t, r.RevokeKey(ctx, user.ID, "key-1"))

	// CurrentKeyID is empty after revocation, so rotation starts a new
	// key line rather than touching the revoked record.
	require.NoError(t, r.RotateKey(ctx, user.ID, newKey(t), "key-2"))
	revoked, err := r.GetKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.KeyRevoked, revoked.Status)
}

func TestDisableUser(t *testing.T) {
	r, ledger, _ := newRegistry(t)
	ctx := context.Background()

	user, err := r.RegisterUser(ctx, NewUserParams{OperatorID: "op-1", Role: rbac.RoleOperator})
	require.NoError(t, err)

	require.NoError(t, r.DisableUser(ctx, user.ID))

	updated, err := r.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.UserDisabled, updated.Status)

	entries, err := ledger.List(ctx, store.AuditFilter{EventType: contracts.EventUserDisabled})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUpdateUser(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	user, err := r.RegisterUser(ctx, NewUserParams{OperatorID: "op-1", Role: rbac.RoleOperator})
	require.NoError(t, err)

	updated, err := r.UpdateUser(ctx, user.ID, rbac.RoleViewer, "")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, updated.Role)

	_, err = r.UpdateUser(ctx, user.ID, "no_such_role", "")
	assert.Equal(t, contracts.KindInputInvalid, contracts.KindOf(err))
}
