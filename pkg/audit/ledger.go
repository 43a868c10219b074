// Package audit implements the tamper-evident, hash-chained append-only
// log at the heart of Munin.
//
// Entry hash rule, byte-exact: UTF-8 of the canonical payload, then the
// single ASCII byte ':' (0x3A), then the UTF-8 hex of the previous
// entry hash — hashed with SHA-256. The genesis entry hashes the
// canonical payload alone.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jacobsprake/munin-sub000/pkg/canonical"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

// KeyResolver resolves a key ID to its base64 public key from the key
// history, so historical signatures stay verifiable after rotation.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, keyID string) (string, error)
}

// Ledger owns the audit chain. It is the only globally contended
// resource in the system: all writers serialize on the head mutex,
// readers go straight to the store.
type Ledger struct {
	store    *store.Store
	log      *slog.Logger
	mu       sync.Mutex
	resolver KeyResolver
	now      func() time.Time
}

func New(st *store.Store, log *slog.Logger) *Ledger {
	return &Ledger{
		store: st,
		log:   log.With("component", "audit"),
		now:   time.Now,
	}
}

// SetResolver wires the key registry in after construction (the
// registry itself appends to this ledger).
func (l *Ledger) SetResolver(r KeyResolver) { l.resolver = r }

// WithHead serializes the caller on the audit head and runs fn inside
// one storage transaction. Every mutating component path that appends
// audit entries goes through here; the lock is held only across the
// local commit, never across other I/O.
func (l *Ledger) WithHead(ctx context.Context, fn func(tx *store.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.WithTx(ctx, fn)
}

// EntrySigner signs the entry message entry_hash:signer_id:key_id on
// behalf of a principal, producing an independently verifiable entry.
type EntrySigner struct {
	SignerID string
	KeyID    string
	Sign     func(message []byte) (string, error)
}

// Option adjusts a single append.
type Option func(*appendOpts)

type appendOpts struct {
	signerID string
	signer   *EntrySigner
}

// WithActor attributes the entry to a principal without signing it.
// Used for login events so the rate limiter can query by actor.
func WithActor(signerID string) Option {
	return func(o *appendOpts) { o.signerID = signerID }
}

// WithEntrySigner signs the entry during append; the entry hash is not
// known to the caller beforehand.
func WithEntrySigner(es EntrySigner) Option {
	return func(o *appendOpts) { o.signer = &es }
}

// AppendTx appends one entry inside the caller's transaction. Callers
// must hold the head lock (i.e. run inside WithHead).
func (l *Ledger) AppendTx(ctx context.Context, tx *store.Tx, eventType string, payload any, opts ...Option) (contracts.AuditEntry, error) {
	var o appendOpts
	for _, opt := range opts {
		opt(&o)
	}

	canonicalPayload, err := canonical.Marshal(payload)
	if err != nil {
		return contracts.AuditEntry{}, err
	}

	lastSeq, prevHash, err := tx.AuditHead(ctx)
	if err != nil {
		return contracts.AuditEntry{}, err
	}

	var entryHash string
	if lastSeq == 0 {
		entryHash = crypto.ChainHash(string(canonicalPayload))
	} else {
		entryHash = crypto.ChainHash(string(canonicalPayload), prevHash)
	}

	entry := contracts.AuditEntry{
		ID:        uuid.New().String(),
		Sequence:  lastSeq + 1,
		Timestamp: l.now().UTC(),
		EventType: eventType,
		Payload:   canonicalPayload,
		PrevHash:  prevHash,
		EntryHash: entryHash,
		SignerID:  o.signerID,
	}

	if o.signer != nil {
		message := entryMessage(entryHash, o.signer.SignerID, o.signer.KeyID)
		sig, err := o.signer.Sign(message)
		if err != nil {
			return contracts.AuditEntry{}, contracts.Wrap(contracts.KindInternal, err, "sign audit entry")
		}
		entry.SignerID = o.signer.SignerID
		entry.KeyID = o.signer.KeyID
		entry.Signature = sig
	}

	if err := tx.InsertAuditEntry(ctx, entry); err != nil {
		return contracts.AuditEntry{}, err
	}
	return entry, nil
}

// Append commits a single entry in its own transaction.
func (l *Ledger) Append(ctx context.Context, eventType string, payload any, opts ...Option) (contracts.AuditEntry, error) {
	var entry contracts.AuditEntry
	err := l.WithHead(ctx, func(tx *store.Tx) error {
		var err error
		entry, err = l.AppendTx(ctx, tx, eventType, payload, opts...)
		return err
	})
	if err != nil {
		return contracts.AuditEntry{}, err
	}
	l.log.Info("audit entry committed", "seq", entry.Sequence, "event", eventType)
	return entry, nil
}

// List returns entries matching the filter, read at snapshot isolation.
func (l *Ledger) List(ctx context.Context, f store.AuditFilter) ([]contracts.AuditEntry, error) {
	return l.store.ListAudit(ctx, f)
}

// entryMessage is the signed message for audit entries:
// entry_hash ":" signer_id ":" key_id (key_id may be empty).
func entryMessage(entryHash, signerID, keyID string) []byte {
	return []byte(entryHash + crypto.Separator + signerID + crypto.Separator + keyID)
}
