package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobsprake/munin-sub000/pkg/audit"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/keyreg"
	"github.com/jacobsprake/munin-sub000/pkg/rbac"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

const testPassphrase = "correct horse battery staple"

// cheap argon2 parameters keep the suite fast
var testArgon = crypto.Argon2Params{
	MemoryKiB:   8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

type fixture struct {
	store  *store.Store
	ledger *audit.Ledger
	mgr    *Manager
	user   contracts.User
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ledger := audit.New(st, log)
	keys := keyreg.New(st, ledger, log)
	ledger.SetResolver(keys)

	hash, err := crypto.HashPassword(testPassphrase, testArgon)
	require.NoError(t, err)
	user, err := keys.RegisterUser(ctx, keyreg.NewUserParams{
		OperatorID:     "op-alpha",
		Role:           rbac.RoleOperator,
		PassphraseHash: hash,
	})
	require.NoError(t, err)

	f := &fixture{
		store:  st,
		ledger: ledger,
		user:   user,
		clock:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.mgr = New(st, ledger, Config{
		TTL:          time.Hour,
		Secret:       []byte("0123456789abcdef0123456789abcdef"),
		AttemptLimit: 5,
		Window:       15 * time.Minute,
	}, log)
	f.mgr.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func TestLoginAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, token, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "10.0.0.5")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, f.user.ID, sess.UserID)

	user, got, err := f.mgr.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, user.ID)
	assert.Equal(t, sess.ID, got.ID)

	// last_login_at is set in the same transaction as the session.
	reloaded, err := f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastLoginAt)

	entries, err := f.ledger.List(ctx, store.AuditFilter{EventType: contracts.EventLoginOK})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "op-alpha", entries[0].SignerID)
}

func TestLoginWrongPassphrase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.mgr.Login(ctx, "op-alpha", "nope", "")
	assert.Equal(t, contracts.KindInvalidCredentials, contracts.KindOf(err))

	// Unknown operator is indistinguishable from a wrong passphrase.
	_, _, err = f.mgr.Login(ctx, "op-ghost", "nope", "")
	assert.Equal(t, contracts.KindInvalidCredentials, contracts.KindOf(err))

	entries, err := f.ledger.List(ctx, store.AuditFilter{EventType: contracts.EventLoginFailed})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLoginRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := f.mgr.Login(ctx, "op-alpha", "nope", "")
		assert.Equal(t, contracts.KindInvalidCredentials, contracts.KindOf(err))
	}

	// Even the correct passphrase is refused while locked.
	_, _, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	assert.Equal(t, contracts.KindLocked, contracts.KindOf(err))

	// Other operators are unaffected by the lock.
	_, _, err = f.mgr.Login(ctx, "op-ghost", "nope", "")
	assert.Equal(t, contracts.KindInvalidCredentials, contracts.KindOf(err))

	// The window slides: past it, the account unlocks.
	f.advance(16 * time.Minute)
	_, token, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestSuccessDoesNotResetWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, _ = f.mgr.Login(ctx, "op-alpha", "nope", "")
	}
	_, _, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	require.NoError(t, err)

	// One more failure inside the window trips the limit.
	_, _, err = f.mgr.Login(ctx, "op-alpha", "nope", "")
	assert.Equal(t, contracts.KindInvalidCredentials, contracts.KindOf(err))
	_, _, err = f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	assert.Equal(t, contracts.KindLocked, contracts.KindOf(err))
}

func TestValidateExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, token, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	require.NoError(t, err)

	f.advance(61 * time.Minute)
	_, _, err = f.mgr.Validate(ctx, token)
	assert.Equal(t, contracts.KindSessionInvalid, contracts.KindOf(err))
	assert.Equal(t, ReasonExpired, InvalidReason(err))
}

func TestValidateGarbageToken(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.mgr.Validate(context.Background(), "not-a-token")
	assert.Equal(t, contracts.KindSessionInvalid, contracts.KindOf(err))
	assert.Equal(t, ReasonUnknown, InvalidReason(err))
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, token, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	require.NoError(t, err)

	require.NoError(t, f.mgr.Logout(ctx, token))

	_, _, err = f.mgr.Validate(ctx, token)
	assert.Equal(t, contracts.KindSessionInvalid, contracts.KindOf(err))
	assert.Equal(t, ReasonRevoked, InvalidReason(err))

	entries, err := f.ledger.List(ctx, store.AuditFilter{EventType: contracts.EventLogout})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRevokeAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, t1, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	require.NoError(t, err)
	_, t2, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	require.NoError(t, err)

	require.NoError(t, f.mgr.RevokeAllForUser(ctx, f.user.ID, "admin-1"))

	for _, tok := range []string{t1, t2} {
		_, _, err := f.mgr.Validate(ctx, tok)
		assert.Equal(t, contracts.KindSessionInvalid, contracts.KindOf(err))
	}
}

func TestDisabledAccountCannotLoginOrValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := keyreg.New(f.store, f.ledger, log)

	_, token, err := f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	require.NoError(t, err)

	require.NoError(t, keys.DisableUser(ctx, f.user.ID))

	_, _, err = f.mgr.Validate(ctx, token)
	// DisableUser revokes live sessions; the token is dead either way.
	assert.Error(t, err)

	_, _, err = f.mgr.Login(ctx, "op-alpha", testPassphrase, "")
	assert.Equal(t, contracts.KindDisabled, contracts.KindOf(err))
}
