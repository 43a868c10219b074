package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

const userColumns = `id, operator_id, role, status, passphrase_hash, current_key_id,
	ministry_id, clearance_level, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (contracts.User, string, error) {
	var (
		u         contracts.User
		passHash  string
		createdAt string
		lastLogin sql.NullString
	)
	err := row.Scan(&u.ID, &u.OperatorID, &u.Role, &u.Status, &passHash,
		&u.CurrentKeyID, &u.MinistryID, &u.ClearanceLevel, &createdAt, &lastLogin)
	if err != nil {
		return contracts.User{}, "", err
	}
	u.CreatedAt = parseTime(createdAt)
	u.LastLoginAt = parseTimePtr(lastLogin)
	return u, passHash, nil
}

// InsertUser persists a new user. A duplicate operator_id is a Conflict.
func (t *Tx) InsertUser(ctx context.Context, u contracts.User, passphraseHash string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.OperatorID, u.Role, u.Status, passphraseHash, u.CurrentKeyID,
		u.MinistryID, u.ClearanceLevel, fmtTime(u.CreatedAt), fmtTimePtr(u.LastLoginAt))
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.E(contracts.KindConflict, "user %s already exists", u.OperatorID)
		}
		return storageErr(err, "insert user")
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (contracts.User, error) {
	return getUser(ctx, s.db, `WHERE id = $1`, id)
}

func (s *Store) GetUserByOperatorID(ctx context.Context, operatorID string) (contracts.User, error) {
	return getUser(ctx, s.db, `WHERE operator_id = $1`, operatorID)
}

func (t *Tx) GetUser(ctx context.Context, id string) (contracts.User, error) {
	return getUser(ctx, t.tx, `WHERE id = $1`, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUser(ctx context.Context, q querier, where string, arg any) (contracts.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, arg)
	u, _, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.User{}, contracts.E(contracts.KindNotFound, "user not found")
		}
		return contracts.User{}, storageErr(err, "get user")
	}
	return u, nil
}

// GetUserCredentials returns the user and its passphrase hash for login.
func (s *Store) GetUserCredentials(ctx context.Context, operatorID string) (contracts.User, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE operator_id = $1`, operatorID)
	u, passHash, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.User{}, "", contracts.E(contracts.KindNotFound, "user not found")
		}
		return contracts.User{}, "", storageErr(err, "get user credentials")
	}
	return u, passHash, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]contracts.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, storageErr(err, "list users")
	}
	defer func() { _ = rows.Close() }()

	users := make([]contracts.User, 0)
	for rows.Next() {
		u, _, err := scanUser(rows)
		if err != nil {
			return nil, storageErr(err, "scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list users")
	}
	return users, nil
}

func (t *Tx) UpdateUserRole(ctx context.Context, id, role string) error {
	return t.mustUpdateUser(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, id)
}

func (t *Tx) UpdateUserPassphrase(ctx context.Context, id, passphraseHash string) error {
	return t.mustUpdateUser(ctx, `UPDATE users SET passphrase_hash = $1 WHERE id = $2`, passphraseHash, id)
}

func (t *Tx) SetUserStatus(ctx context.Context, id string, status contracts.UserStatus) error {
	return t.mustUpdateUser(ctx, `UPDATE users SET status = $1 WHERE id = $2`, status, id)
}

func (t *Tx) SetUserCurrentKey(ctx context.Context, id, keyID string) error {
	return t.mustUpdateUser(ctx, `UPDATE users SET current_key_id = $1 WHERE id = $2`, keyID, id)
}

func (t *Tx) SetUserLastLogin(ctx context.Context, id string, at time.Time) error {
	return t.mustUpdateUser(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, fmtTime(at), id)
}

func (t *Tx) mustUpdateUser(ctx context.Context, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(err, "update user")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err, "update user")
	}
	if n == 0 {
		return contracts.E(contracts.KindNotFound, "user not found")
	}
	return nil
}
