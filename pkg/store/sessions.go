package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

const sessionColumns = `id, user_id, token_hash, created_at, expires_at, revoked_at, last_activity_at, source_addr`

func scanSession(row interface{ Scan(...any) error }) (contracts.Session, error) {
	var (
		sess         contracts.Session
		createdAt    string
		expiresAt    string
		revokedAt    sql.NullString
		lastActivity string
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &createdAt,
		&expiresAt, &revokedAt, &lastActivity, &sess.SourceAddr)
	if err != nil {
		return contracts.Session{}, err
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.ExpiresAt = parseTime(expiresAt)
	sess.RevokedAt = parseTimePtr(revokedAt)
	sess.LastActivityAt = parseTime(lastActivity)
	return sess, nil
}

func (t *Tx) InsertSession(ctx context.Context, sess contracts.Session) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.UserID, sess.TokenHash, fmtTime(sess.CreatedAt),
		fmtTime(sess.ExpiresAt), fmtTimePtr(sess.RevokedAt),
		fmtTime(sess.LastActivityAt), sess.SourceAddr)
	if err != nil {
		return storageErr(err, "insert session")
	}
	return nil
}

// GetSessionByTokenHash looks a session up by the HMAC of its raw
// token. Raw tokens never reach the store.
func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (contracts.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Session{}, contracts.E(contracts.KindNotFound, "session not found")
		}
		return contracts.Session{}, storageErr(err, "get session")
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (contracts.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Session{}, contracts.E(contracts.KindNotFound, "session not found")
		}
		return contracts.Session{}, storageErr(err, "get session")
	}
	return sess, nil
}

func (t *Tx) RevokeSession(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return storageErr(err, "revoke session")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return contracts.E(contracts.KindNotFound, "session not found or already revoked")
	}
	return nil
}

// RevokeAllSessionsForUser destroys every live session the user owns.
func (t *Tx) RevokeAllSessionsForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`,
		fmtTime(at), userID)
	if err != nil {
		return storageErr(err, "revoke sessions")
	}
	return nil
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = $1 WHERE id = $2`, fmtTime(at), id)
	if err != nil {
		return storageErr(err, "touch session")
	}
	return nil
}
