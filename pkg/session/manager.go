// Package session implements login, bearer-token sessions and the
// audit-backed login rate limiter.
//
// Raw tokens exist only in the login response and in the caller's
// Authorization header; the store sees the hex HMAC-SHA-256 of the
// token under a process-lifetime secret. Restarting with a persisted
// secret keeps sessions valid; losing the secret invalidates them all.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacobsprake/munin-sub000/pkg/audit"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

// Config carries the session policy knobs.
type Config struct {
	TTL          time.Duration
	Secret       []byte
	AttemptLimit int
	Window       time.Duration
}

// Manager owns the session lifecycle.
type Manager struct {
	store  *store.Store
	ledger *audit.Ledger
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

func New(st *store.Store, ledger *audit.Ledger, cfg Config, log *slog.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 8 * time.Hour
	}
	if cfg.AttemptLimit <= 0 {
		cfg.AttemptLimit = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &Manager{
		store:  st,
		ledger: ledger,
		cfg:    cfg,
		log:    log.With("component", "session"),
		now:    time.Now,
	}
}

// Login authenticates an operator by passphrase and opens a session.
// It returns the raw bearer token exactly once; only its HMAC persists.
//
// Rate limiting is derived from the audit log itself: more than
// AttemptLimit LOGIN_FAILED entries for the operator inside the sliding
// window locks the account. A successful login does not reset the
// window, and attempts made while locked are not recorded, so the lock
// lapses Window after the last counted failure.
func (m *Manager) Login(ctx context.Context, operatorID, passphrase, sourceAddr string) (contracts.Session, string, error) {
	now := m.now().UTC()

	failures, err := m.store.CountAuditEvents(ctx, contracts.EventLoginFailed, operatorID, now.Add(-m.cfg.Window))
	if err != nil {
		return contracts.Session{}, "", err
	}
	if failures >= m.cfg.AttemptLimit {
		m.log.Warn("login locked", "operator_id", operatorID, "failures", failures)
		return contracts.Session{}, "", contracts.E(contracts.KindLocked,
			"too many failed attempts, retry after the lockout window")
	}

	user, passphraseHash, err := m.store.GetUserCredentials(ctx, operatorID)
	if err != nil {
		if contracts.IsKind(err, contracts.KindNotFound) {
			// Same failure path as a wrong passphrase: no account
			// enumeration through error shape or audit absence.
			return contracts.Session{}, "", m.loginFailed(ctx, operatorID, "unknown_operator")
		}
		return contracts.Session{}, "", err
	}
	if user.Status != contracts.UserActive {
		if err := m.appendLoginFailed(ctx, operatorID, "disabled"); err != nil {
			return contracts.Session{}, "", err
		}
		return contracts.Session{}, "", contracts.E(contracts.KindDisabled, "account disabled")
	}
	if passphraseHash == "" || !crypto.VerifyPassword(passphraseHash, passphrase) {
		return contracts.Session{}, "", m.loginFailed(ctx, operatorID, "bad_passphrase")
	}

	rawToken, err := crypto.NewSessionToken()
	if err != nil {
		return contracts.Session{}, "", contracts.Wrap(contracts.KindInternal, err, "mint session token")
	}
	sess := contracts.Session{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		TokenHash:      crypto.TokenHash(m.cfg.Secret, rawToken),
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.TTL),
		LastActivityAt: now,
		SourceAddr:     sourceAddr,
	}

	err = m.ledger.WithHead(ctx, func(tx *store.Tx) error {
		if err := tx.InsertSession(ctx, sess); err != nil {
			return err
		}
		if err := tx.SetUserLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		_, err := m.ledger.AppendTx(ctx, tx, contracts.EventLoginOK, map[string]any{
			"operator_id": operatorID,
			"user_id":     user.ID,
			"session_id":  sess.ID,
			"source_addr": sourceAddr,
		}, audit.WithActor(operatorID))
		return err
	})
	if err != nil {
		return contracts.Session{}, "", err
	}

	m.log.Info("login ok", "operator_id", operatorID, "session_id", sess.ID)
	return sess, rawToken, nil
}

func (m *Manager) loginFailed(ctx context.Context, operatorID, reason string) error {
	if err := m.appendLoginFailed(ctx, operatorID, reason); err != nil {
		return err
	}
	return contracts.E(contracts.KindInvalidCredentials, "invalid operator_id or passphrase")
}

// appendLoginFailed records the failure with the operator in the
// signer_id column; the rate limiter windows on exactly that column.
func (m *Manager) appendLoginFailed(ctx context.Context, operatorID, reason string) error {
	_, err := m.ledger.Append(ctx, contracts.EventLoginFailed, map[string]any{
		"operator_id": operatorID,
		"reason":      reason,
	}, audit.WithActor(operatorID))
	return err
}

// Machine-readable reasons carried in the API's 401 body when a
// bearer token fails validation.
const (
	ReasonUnknown = "unknown"
	ReasonRevoked = "revoked"
	ReasonExpired = "expired"
)

var (
	errTokenUnknown   = contracts.E(contracts.KindSessionInvalid, "unknown session token")
	errSessionRevoked = contracts.E(contracts.KindSessionInvalid, "session revoked")
	errSessionExpired = contracts.E(contracts.KindSessionInvalid, "session expired")
)

// InvalidReason maps a Validate error to its reason constant. Errors
// that are not session-invalid fall back to ReasonUnknown.
func InvalidReason(err error) string {
	switch {
	case errors.Is(err, errSessionRevoked):
		return ReasonRevoked
	case errors.Is(err, errSessionExpired):
		return ReasonExpired
	default:
		return ReasonUnknown
	}
}

// Validate resolves a raw bearer token to its user. Unknown, revoked
// and expired tokens all fail with SessionInvalid; a disabled account
// fails even when the session row is otherwise live.
func (m *Manager) Validate(ctx context.Context, rawToken string) (contracts.User, contracts.Session, error) {
	sess, err := m.store.GetSessionByTokenHash(ctx, crypto.TokenHash(m.cfg.Secret, rawToken))
	if err != nil {
		if contracts.IsKind(err, contracts.KindNotFound) {
			return contracts.User{}, contracts.Session{}, errTokenUnknown
		}
		return contracts.User{}, contracts.Session{}, err
	}
	now := m.now().UTC()
	if sess.RevokedAt != nil {
		return contracts.User{}, contracts.Session{}, errSessionRevoked
	}
	if now.After(sess.ExpiresAt) {
		return contracts.User{}, contracts.Session{}, errSessionExpired
	}
	user, err := m.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return contracts.User{}, contracts.Session{}, err
	}
	if user.Status != contracts.UserActive {
		return contracts.User{}, contracts.Session{}, contracts.E(contracts.KindDisabled, "account disabled")
	}
	// Activity tracking is advisory; a failed touch never fails auth.
	if err := m.store.TouchSession(ctx, sess.ID, now); err != nil {
		m.log.Warn("session touch failed", "session_id", sess.ID, "err", err)
	}
	return user, sess, nil
}

// Logout revokes the caller's own session.
func (m *Manager) Logout(ctx context.Context, rawToken string) error {
	sess, err := m.store.GetSessionByTokenHash(ctx, crypto.TokenHash(m.cfg.Secret, rawToken))
	if err != nil {
		if contracts.IsKind(err, contracts.KindNotFound) {
			return contracts.E(contracts.KindSessionInvalid, "unknown session token")
		}
		return err
	}
	now := m.now().UTC()
	return m.ledger.WithHead(ctx, func(tx *store.Tx) error {
		if err := tx.RevokeSession(ctx, sess.ID, now); err != nil {
			return err
		}
		_, err := m.ledger.AppendTx(ctx, tx, contracts.EventLogout, map[string]any{
			"session_id": sess.ID,
			"user_id":    sess.UserID,
		}, audit.WithActor(sess.UserID))
		return err
	})
}

// Revoke administratively terminates one session by ID.
func (m *Manager) Revoke(ctx context.Context, sessionID, actorID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	return m.ledger.WithHead(ctx, func(tx *store.Tx) error {
		if err := tx.RevokeSession(ctx, sess.ID, now); err != nil {
			return err
		}
		_, err := m.ledger.AppendTx(ctx, tx, contracts.EventSessionRevoked, map[string]any{
			"session_id": sess.ID,
			"user_id":    sess.UserID,
			"revoked_by": actorID,
		}, audit.WithActor(actorID))
		return err
	})
}

// RevokeAllForUser terminates every live session the user owns.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID, actorID string) error {
	now := m.now().UTC()
	return m.ledger.WithHead(ctx, func(tx *store.Tx) error {
		if err := tx.RevokeAllSessionsForUser(ctx, userID, now); err != nil {
			return err
		}
		_, err := m.ledger.AppendTx(ctx, tx, contracts.EventSessionRevoked, map[string]any{
			"user_id":    userID,
			"revoked_by": actorID,
			"all":        true,
		}, audit.WithActor(actorID))
		return err
	})
}
