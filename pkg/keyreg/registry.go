// Package keyreg is the identity and key-lifecycle registry: users,
// their active Ed25519 keys, and the immutable key history that keeps
// historical signatures verifiable forever.
package keyreg

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacobsprake/munin-sub000/pkg/audit"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/rbac"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

const publicKeySize = 32

// Registry manages users and keys. All mutations run under the audit
// head lock so the registry change and its audit entry commit together.
type Registry struct {
	store  *store.Store
	ledger *audit.Ledger
	log    *slog.Logger
	now    func() time.Time
}

func New(st *store.Store, ledger *audit.Ledger, log *slog.Logger) *Registry {
	return &Registry{
		store:  st,
		ledger: ledger,
		log:    log.With("component", "keyreg"),
		now:    time.Now,
	}
}

// NewUserParams are the inputs to RegisterUser. PublicKey and KeyID are
// optional together; a user without a key can log in but not sign.
type NewUserParams struct {
	OperatorID     string
	Role           string
	PassphraseHash string
	PublicKey      string
	KeyID          string
	MinistryID     string
	ClearanceLevel string
}

// RegisterUser creates a user, optionally with an ACTIVE key, and emits
// USER_REGISTERED.
func (r *Registry) RegisterUser(ctx context.Context, p NewUserParams) (contracts.User, error) {
	if p.OperatorID == "" || p.Role == "" {
		return contracts.User{}, contracts.E(contracts.KindInputInvalid, "operator_id and role are required")
	}
	if !rbac.KnownRole(p.Role) {
		return contracts.User{}, contracts.E(contracts.KindInputInvalid, "unknown role %q", p.Role)
	}
	if (p.PublicKey == "") != (p.KeyID == "") {
		return contracts.User{}, contracts.E(contracts.KindInputInvalid, "public_key and key_id must be supplied together")
	}
	if p.PublicKey != "" {
		if err := validatePublicKey(p.PublicKey); err != nil {
			return contracts.User{}, err
		}
	}

	now := r.now().UTC()
	user := contracts.User{
		ID:             uuid.New().String(),
		OperatorID:     p.OperatorID,
		Role:           p.Role,
		Status:         contracts.UserActive,
		CurrentKeyID:   p.KeyID,
		MinistryID:     p.MinistryID,
		ClearanceLevel: p.ClearanceLevel,
		CreatedAt:      now,
	}

	err := r.ledger.WithHead(ctx, func(tx *store.Tx) error {
		if err := tx.InsertUser(ctx, user, p.PassphraseHash); err != nil {
			return err
		}
		if p.KeyID != "" {
			key := contracts.KeyRecord{
				KeyID:     p.KeyID,
				UserID:    user.ID,
				PublicKey: p.PublicKey,
				Status:    contracts.KeyActive,
				CreatedAt: now,
			}
			if err := tx.InsertKey(ctx, key); err != nil {
				return err
			}
		}
		_, err := r.ledger.AppendTx(ctx, tx, contracts.EventUserRegistered, map[string]any{
			"user_id":     user.ID,
			"operator_id": user.OperatorID,
			"role":        user.Role,
			"key_id":      p.KeyID,
		})
		return err
	})
	if err != nil {
		return contracts.User{}, err
	}

	r.log.Info("user registered", "operator_id", p.OperatorID, "role", p.Role)
	return user, nil
}

// RotateKey retires the user's current key and activates a new one in a
// single transaction. The old history row becomes ROTATED and points at
// its successor; it never returns to ACTIVE.
func (r *Registry) RotateKey(ctx context.Context, userID, newPublicKey, newKeyID string) error {
	if err := validatePublicKey(newPublicKey); err != nil {
		return err
	}

	return r.ledger.WithHead(ctx, func(tx *store.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		now := r.now().UTC()

		if user.CurrentKeyID != "" {
			if err := tx.MarkKeyRotated(ctx, user.CurrentKeyID, newKeyID); err != nil {
				return err
			}
		}
		newKey := contracts.KeyRecord{
			KeyID:     newKeyID,
			UserID:    userID,
			PublicKey: newPublicKey,
			Status:    contracts.KeyActive,
			CreatedAt: now,
		}
		if err := tx.InsertKey(ctx, newKey); err != nil {
			return err
		}
		if err := tx.SetUserCurrentKey(ctx, userID, newKeyID); err != nil {
			return err
		}
		_, err = r.ledger.AppendTx(ctx, tx, contracts.EventUserKeyRotated, map[string]any{
			"user_id":    userID,
			"old_key_id": user.CurrentKeyID,
			"new_key_id": newKeyID,
		})
		return err
	})
}

// RevokeKey terminates a key. New authorizations with it are refused
// from this point; historical signatures stay verifiable.
func (r *Registry) RevokeKey(ctx context.Context, userID, keyID string) error {
	return r.ledger.WithHead(ctx, func(tx *store.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		key, err := tx.GetKey(ctx, keyID)
		if err != nil {
			return err
		}
		if key.UserID != userID {
			return contracts.E(contracts.KindNotFound, "key %s does not belong to user %s", keyID, userID)
		}
		now := r.now().UTC()
		if err := tx.MarkKeyRevoked(ctx, keyID, now); err != nil {
			return err
		}
		if user.CurrentKeyID == keyID {
			if err := tx.SetUserCurrentKey(ctx, userID, ""); err != nil {
				return err
			}
		}
		_, err = r.ledger.AppendTx(ctx, tx, contracts.EventKeyRevoked, map[string]any{
			"user_id": userID,
			"key_id":  keyID,
		})
		return err
	})
}

// ResolvePublicKey reads the key history, so rotated and revoked keys
// still resolve. Implements audit.KeyResolver.
func (r *Registry) ResolvePublicKey(ctx context.Context, keyID string) (string, error) {
	key, err := r.store.GetKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	return key.PublicKey, nil
}

// NewAuthorizationAllowed reports whether keyID may sign new
// authorizations: only while its history row is ACTIVE.
func (r *Registry) NewAuthorizationAllowed(ctx context.Context, keyID string) (bool, error) {
	key, err := r.store.GetKey(ctx, keyID)
	if err != nil {
		return false, err
	}
	return key.Status == contracts.KeyActive, nil
}

// GetKey returns a key-history record.
func (r *Registry) GetKey(ctx context.Context, keyID string) (contracts.KeyRecord, error) {
	return r.store.GetKey(ctx, keyID)
}

// GetUser returns a user by ID.
func (r *Registry) GetUser(ctx context.Context, userID string) (contracts.User, error) {
	return r.store.GetUser(ctx, userID)
}

// ListUsers returns all users.
func (r *Registry) ListUsers(ctx context.Context) ([]contracts.User, error) {
	return r.store.ListUsers(ctx)
}

// UpdateUser changes role and/or passphrase hash; empty fields are left
// untouched. Emits USER_UPDATED.
func (r *Registry) UpdateUser(ctx context.Context, userID, role, passphraseHash string) (contracts.User, error) {
	if role != "" && !rbac.KnownRole(role) {
		return contracts.User{}, contracts.E(contracts.KindInputInvalid, "unknown role %q", role)
	}
	err := r.ledger.WithHead(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		if role != "" {
			if err := tx.UpdateUserRole(ctx, userID, role); err != nil {
				return err
			}
		}
		if passphraseHash != "" {
			if err := tx.UpdateUserPassphrase(ctx, userID, passphraseHash); err != nil {
				return err
			}
		}
		_, err := r.ledger.AppendTx(ctx, tx, contracts.EventUserUpdated, map[string]any{
			"user_id":      userID,
			"role_changed": role != "",
			"pass_changed": passphraseHash != "",
		})
		return err
	})
	if err != nil {
		return contracts.User{}, err
	}
	return r.store.GetUser(ctx, userID)
}

// DisableUser disables the account and destroys its sessions. Identity
// and key history are never erased; the audit chain references them.
func (r *Registry) DisableUser(ctx context.Context, userID string) error {
	return r.ledger.WithHead(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		now := r.now().UTC()
		if err := tx.SetUserStatus(ctx, userID, contracts.UserDisabled); err != nil {
			return err
		}
		if err := tx.RevokeAllSessionsForUser(ctx, userID, now); err != nil {
			return err
		}
		_, err := r.ledger.AppendTx(ctx, tx, contracts.EventUserDisabled, map[string]any{
			"user_id": userID,
		})
		return err
	})
}

func validatePublicKey(publicKeyB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(raw) != publicKeySize {
		return contracts.E(contracts.KindInputInvalid, "public key must be %d base64-encoded raw bytes", publicKeySize)
	}
	return nil
}
