package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

const keyColumns = `key_id, user_id, public_key, status, created_at, rotated_to_key_id, revoked_at`

func scanKey(row interface{ Scan(...any) error }) (contracts.KeyRecord, error) {
	var (
		k         contracts.KeyRecord
		createdAt string
		revokedAt sql.NullString
	)
	err := row.Scan(&k.KeyID, &k.UserID, &k.PublicKey, &k.Status, &createdAt,
		&k.RotatedToKeyID, &revokedAt)
	if err != nil {
		return contracts.KeyRecord{}, err
	}
	k.CreatedAt = parseTime(createdAt)
	k.RevokedAt = parseTimePtr(revokedAt)
	return k, nil
}

// InsertKey writes an immutable key-history row.
func (t *Tx) InsertKey(ctx context.Context, k contracts.KeyRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_key_history (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.KeyID, k.UserID, k.PublicKey, k.Status, fmtTime(k.CreatedAt),
		k.RotatedToKeyID, fmtTimePtr(k.RevokedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.E(contracts.KindConflict, "key %s already registered", k.KeyID)
		}
		return storageErr(err, "insert key")
	}
	return nil
}

func (s *Store) GetKey(ctx context.Context, keyID string) (contracts.KeyRecord, error) {
	return getKey(ctx, s.db, keyID)
}

func (t *Tx) GetKey(ctx context.Context, keyID string) (contracts.KeyRecord, error) {
	return getKey(ctx, t.tx, keyID)
}

func getKey(ctx context.Context, q querier, keyID string) (contracts.KeyRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM user_key_history WHERE key_id = $1`, keyID)
	k, err := scanKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.KeyRecord{}, contracts.E(contracts.KindNotFound, "key %s not found", keyID)
		}
		return contracts.KeyRecord{}, storageErr(err, "get key")
	}
	return k, nil
}

// MarkKeyRotated closes out a key: ACTIVE -> ROTATED with a pointer to
// its successor. History rows never return to ACTIVE.
func (t *Tx) MarkKeyRotated(ctx context.Context, keyID, rotatedToKeyID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_key_history SET status = $1, rotated_to_key_id = $2
		WHERE key_id = $3 AND status = $4`,
		contracts.KeyRotated, rotatedToKeyID, keyID, contracts.KeyActive)
	if err != nil {
		return storageErr(err, "rotate key")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return contracts.E(contracts.KindKeyNotActive, "key %s is not active", keyID)
	}
	return nil
}

// MarkKeyRevoked terminates a key from any live state.
func (t *Tx) MarkKeyRevoked(ctx context.Context, keyID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE user_key_history SET status = $1, revoked_at = $2
		WHERE key_id = $3 AND status != $1`,
		contracts.KeyRevoked, fmtTime(at), keyID)
	if err != nil {
		return storageErr(err, "revoke key")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return contracts.E(contracts.KindNotFound, "key %s not found or already revoked", keyID)
	}
	return nil
}

func (s *Store) ListKeysForUser(ctx context.Context, userID string) ([]contracts.KeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM user_key_history WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, storageErr(err, "list keys")
	}
	defer func() { _ = rows.Close() }()

	keys := make([]contracts.KeyRecord, 0)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, storageErr(err, "scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list keys")
	}
	return keys, nil
}
