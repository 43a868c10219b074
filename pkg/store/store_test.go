package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func insertUser(t *testing.T, st *Store, operatorID string) contracts.User {
	t.Helper()
	u := contracts.User{
		ID:         uuid.New().String(),
		OperatorID: operatorID,
		Role:       "operator",
		Status:     contracts.UserActive,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertUser(context.Background(), u, "hash-"+operatorID)
	}))
	return u
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := openStore(t)
	// Open already migrated; a second pass must be a no-op.
	require.NoError(t, st.Migrate(context.Background()))
}

func TestUserRoundTrip(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	u := insertUser(t, st, "op-1")

	got, err := st.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.OperatorID, got.OperatorID)
	assert.Equal(t, u.Role, got.Role)
	assert.True(t, got.CreatedAt.Equal(u.CreatedAt.Truncate(time.Nanosecond)))
	assert.Nil(t, got.LastLoginAt)

	byOp, err := st.GetUserByOperatorID(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byOp.ID)

	_, hash, err := st.GetUserCredentials(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-op-1", hash)

	_, err = st.GetUser(ctx, "no-such-id")
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))

	// Duplicate operator_id is a conflict, not a storage failure.
	dup := u
	dup.ID = uuid.New().String()
	err = st.WithTx(ctx, func(tx *Tx) error { return tx.InsertUser(ctx, dup, "") })
	assert.Equal(t, contracts.KindConflict, contracts.KindOf(err))

	err = st.WithTx(ctx, func(tx *Tx) error {
		return tx.UpdateUserRole(ctx, "no-such-id", "viewer")
	})
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
}

func TestKeyLifecycle(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	u := insertUser(t, st, "op-1")

	key := contracts.KeyRecord{
		KeyID:     "key-1",
		UserID:    u.ID,
		PublicKey: "pk",
		Status:    contracts.KeyActive,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.InsertKey(ctx, key) }))

	err := st.WithTx(ctx, func(tx *Tx) error { return tx.InsertKey(ctx, key) })
	assert.Equal(t, contracts.KindConflict, contracts.KindOf(err))

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		return tx.MarkKeyRotated(ctx, "key-1", "key-2")
	}))
	got, err := st.GetKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.KeyRotated, got.Status)
	assert.Equal(t, "key-2", got.RotatedToKeyID)

	// A rotated key cannot rotate again.
	err = st.WithTx(ctx, func(tx *Tx) error {
		return tx.MarkKeyRotated(ctx, "key-1", "key-3")
	})
	assert.Equal(t, contracts.KindKeyNotActive, contracts.KindOf(err))

	// Revocation terminates any live state, once.
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		return tx.MarkKeyRevoked(ctx, "key-1", time.Now().UTC())
	}))
	err = st.WithTx(ctx, func(tx *Tx) error {
		return tx.MarkKeyRevoked(ctx, "key-1", time.Now().UTC())
	})
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))

	keys, err := st.ListKeysForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestSessionRoundTrip(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	u := insertUser(t, st, "op-1")
	now := time.Now().UTC()

	sess := contracts.Session{
		ID:             uuid.New().String(),
		UserID:         u.ID,
		TokenHash:      "deadbeef",
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastActivityAt: now,
		SourceAddr:     "10.0.0.7",
	}
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.InsertSession(ctx, sess) }))

	got, err := st.GetSessionByTokenHash(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Nil(t, got.RevokedAt)

	require.NoError(t, st.TouchSession(ctx, sess.ID, now.Add(time.Minute)))
	got, err = st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.After(now))

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		return tx.RevokeSession(ctx, sess.ID, now.Add(2*time.Minute))
	}))
	err = st.WithTx(ctx, func(tx *Tx) error {
		return tx.RevokeSession(ctx, sess.ID, now.Add(3*time.Minute))
	})
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
}

func TestDecisionRoundTrip(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	d := contracts.Decision{
		ID:         uuid.New().String(),
		IncidentID: "inc-1",
		PlaybookID: "pb-1",
		ActionType: "ISOLATE_SEGMENT",
		Scope:      map[string]any{"segment": "scada-3"},
		Status:     contracts.DecisionPending,
		Policy: contracts.Policy{
			Threshold: 2,
			Required:  3,
			Signers:   []string{"a", "b", "c"},
		},
		CreatedAt: now,
	}
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertDecision(ctx, d, `{"segment":"scada-3"}`, "digest-1")
	}))

	got, messageHash, err := st.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "digest-1", messageHash)
	assert.Equal(t, d.Policy.Signers, got.Policy.Signers)
	assert.Equal(t, map[string]any{"segment": "scada-3"}, got.Scope)

	err = st.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertDecision(ctx, d, "{}", "digest-1")
	})
	assert.Equal(t, contracts.KindConflict, contracts.KindOf(err))

	sig := contracts.DecisionSignature{
		DecisionID: d.ID, SignerID: "a", KeyID: "key-a",
		Signature: "sig", SignedAt: now,
	}
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error { return tx.InsertSignature(ctx, sig) }))
	err = st.WithTx(ctx, func(tx *Tx) error { return tx.InsertSignature(ctx, sig) })
	assert.Equal(t, contracts.KindConflict, contracts.KindOf(err))

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		n, err := tx.CountSignatures(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	}))

	// Chaining checks only see AUTHORIZED and EXECUTED decisions.
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		ok, err := tx.HasAuthorizedDecisionWithHash(ctx, "inc-1", "digest-1")
		require.NoError(t, err)
		assert.False(t, ok)
		return tx.SetDecisionStatus(ctx, d.ID, contracts.DecisionAuthorized, &now)
	}))
	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		ok, err := tx.HasAuthorizedDecisionWithHash(ctx, "inc-1", "digest-1")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	list, err := st.ListDecisions(ctx, "inc-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, contracts.DecisionAuthorized, list[0].Status)
}

func appendAuditRow(t *testing.T, st *Store, seq int64, eventType, signerID string, ts time.Time, prevHash string) string {
	t.Helper()
	e := contracts.AuditEntry{
		ID:        uuid.New().String(),
		Sequence:  seq,
		Timestamp: ts,
		EventType: eventType,
		Payload:   []byte(`{}`),
		PrevHash:  prevHash,
		EntryHash: "hash-" + itoa(int(seq)),
		SignerID:  signerID,
	}
	require.NoError(t, st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertAuditEntry(context.Background(), e)
	}))
	return e.EntryHash
}

func TestAuditFilterAndCounts(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	prev := ""
	prev = appendAuditRow(t, st, 1, "LOGIN_FAILED", "op-1", base, prev)
	prev = appendAuditRow(t, st, 2, "LOGIN_FAILED", "op-2", base.Add(10*time.Minute), prev)
	prev = appendAuditRow(t, st, 3, "LOGIN_FAILED", "op-1", base.Add(20*time.Minute), prev)
	_ = appendAuditRow(t, st, 4, "DECISION_CREATED", "op-1", base.Add(30*time.Minute), prev)

	byType, err := st.ListAudit(ctx, AuditFilter{EventType: "LOGIN_FAILED"})
	require.NoError(t, err)
	assert.Len(t, byType, 3)

	bySigner, err := st.ListAudit(ctx, AuditFilter{EventType: "LOGIN_FAILED", SignerID: "op-1"})
	require.NoError(t, err)
	assert.Len(t, bySigner, 2)

	ranged, err := st.ListAudit(ctx, AuditFilter{FromSeq: 2, ToSeq: 3})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, int64(2), ranged[0].Sequence)

	since := base.Add(15 * time.Minute)
	recent, err := st.ListAudit(ctx, AuditFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	paged, err := st.ListAudit(ctx, AuditFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, int64(2), paged[0].Sequence)

	n, err := st.CountAuditEvents(ctx, "LOGIN_FAILED", "op-1", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Duplicate sequence numbers are rejected by the schema.
	e := contracts.AuditEntry{
		ID: uuid.New().String(), Sequence: 4, Timestamp: base,
		EventType: "X", Payload: []byte(`{}`), EntryHash: "h",
	}
	err = st.WithTx(ctx, func(tx *Tx) error { return tx.InsertAuditEntry(ctx, e) })
	assert.Equal(t, contracts.KindConflict, contracts.KindOf(err))
}

func TestPacketSequencing(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		hash, seq, err := tx.LastReceipt(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, hash)
		assert.Zero(t, seq)

		next, err := tx.NextPacketSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), next)
		return nil
	}))

	insert := func(decisionID, namespace, receiptHash string, seq int64) error {
		return st.WithTx(ctx, func(tx *Tx) error {
			return tx.InsertPacket(ctx, contracts.Packet{
				ID:          uuid.New().String(),
				DecisionID:  decisionID,
				Namespace:   namespace,
				Body:        []byte(`{}`),
				PacketHash:  "ph-" + receiptHash,
				ReceiptHash: receiptHash,
				Sequence:    seq,
				IssuedAt:    now,
			})
		})
	}
	require.NoError(t, insert("dec-1", "water", "r1", 1))
	require.NoError(t, insert("dec-2", "power", "r2", 2))

	require.NoError(t, st.WithTx(ctx, func(tx *Tx) error {
		// The empty namespace is the global chain tip.
		hash, seq, err := tx.LastReceipt(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "r2", hash)
		assert.Equal(t, int64(2), seq)

		hash, _, err = tx.LastReceipt(ctx, "water")
		require.NoError(t, err)
		assert.Equal(t, "r1", hash)
		return nil
	}))

	// One packet per decision.
	err := insert("dec-1", "water", "r3", 3)
	assert.Equal(t, contracts.KindConflict, contracts.KindOf(err))

	hashes, err := st.ListReceiptHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, hashes)
}

func TestLoadOrCreateSecret(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	_, err := st.GetSecret(ctx, "session_hmac")
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))

	calls := 0
	gen := func() ([]byte, error) {
		calls++
		return []byte("0123456789abcdef0123456789abcdef"), nil
	}
	first, err := st.LoadOrCreateSecret(ctx, "session_hmac", gen)
	require.NoError(t, err)
	second, err := st.LoadOrCreateSecret(ctx, "session_hmac", gen)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	u := contracts.User{
		ID: uuid.New().String(), OperatorID: "op-rollback",
		Role: "operator", Status: contracts.UserActive, CreatedAt: time.Now().UTC(),
	}
	err := st.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertUser(ctx, u, ""); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.GetUser(ctx, u.ID)
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
}

func TestStorageFailuresWrapKind(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	st := NewWithDB(db, DriverPostgres)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .+ FROM users`).WillReturnError(errors.New("connection reset"))
	_, err = st.GetUser(ctx, "u-1")
	assert.Equal(t, contracts.KindStorage, contracts.KindOf(err))

	mock.ExpectBegin().WillReturnError(errors.New("server gone"))
	err = st.WithTx(ctx, func(tx *Tx) error { return nil })
	assert.Equal(t, contracts.KindStorage, contracts.KindOf(err))

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))
	err = st.WithTx(ctx, func(tx *Tx) error { return nil })
	assert.Equal(t, contracts.KindStorage, contracts.KindOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUniqueViolationIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	st := NewWithDB(db, DriverPostgres)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	u := contracts.User{
		ID: "u-1", OperatorID: "op-1", Role: "operator",
		Status: contracts.UserActive, CreatedAt: time.Now().UTC(),
	}
	err = st.WithTx(ctx, func(tx *Tx) error { return tx.InsertUser(ctx, u, "") })
	assert.Equal(t, contracts.KindConflict, contracts.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
