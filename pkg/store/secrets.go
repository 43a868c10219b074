package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

// GetSecret reads a named process secret (session HMAC key, attestation
// seed). Returns KindNotFound when absent.
func (s *Store) GetSecret(ctx context.Context, name string) ([]byte, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_secrets WHERE name = $1`, name).Scan(&encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.E(contracts.KindNotFound, "secret %s not found", name)
		}
		return nil, storageErr(err, "get secret")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, contracts.Wrap(contracts.KindStorage, err, "secret %s corrupt", name)
	}
	return raw, nil
}

// PutSecret stores a secret if absent; an existing row wins the race.
func (s *Store) PutSecret(ctx context.Context, name string, value []byte) error {
	encoded := base64.StdEncoding.EncodeToString(value)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_secrets (name, value, created_at) VALUES ($1, $2, $3)`,
		name, encoded, fmtTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.E(contracts.KindConflict, "secret %s already set", name)
		}
		return storageErr(err, "put secret")
	}
	return nil
}

// LoadOrCreateSecret returns the named secret, generating it with gen
// and persisting when absent at startup.
func (s *Store) LoadOrCreateSecret(ctx context.Context, name string, gen func() ([]byte, error)) ([]byte, error) {
	secret, err := s.GetSecret(ctx, name)
	if err == nil {
		return secret, nil
	}
	if !contracts.IsKind(err, contracts.KindNotFound) {
		return nil, err
	}
	secret, err = gen()
	if err != nil {
		return nil, contracts.Wrap(contracts.KindInternal, err, "generate secret %s", name)
	}
	if err := s.PutSecret(ctx, name, secret); err != nil {
		if contracts.IsKind(err, contracts.KindConflict) {
			return s.GetSecret(ctx, name)
		}
		return nil, err
	}
	return secret, nil
}
