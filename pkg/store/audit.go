package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

const auditColumns = `id, sequence_number, ts, event_type, payload_json, prev_hash,
	entry_hash, signer_id, signature, key_id`

func scanAuditEntry(row interface{ Scan(...any) error }) (contracts.AuditEntry, error) {
	var (
		e        contracts.AuditEntry
		ts       string
		payload  string
		prevHash sql.NullString
	)
	err := row.Scan(&e.ID, &e.Sequence, &ts, &e.EventType, &payload, &prevHash,
		&e.EntryHash, &e.SignerID, &e.Signature, &e.KeyID)
	if err != nil {
		return contracts.AuditEntry{}, err
	}
	e.Timestamp = parseTime(ts)
	// payload_json is the exact canonical byte string that was hashed;
	// it must pass through untouched.
	e.Payload = []byte(payload)
	e.PrevHash = prevHash.String
	return e, nil
}

// AuditHead returns the sequence number and entry hash of the last
// committed entry, read inside the caller's transaction. (0, "") means
// the log is empty.
func (t *Tx) AuditHead(ctx context.Context) (int64, string, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT sequence_number, entry_hash FROM audit_log
		ORDER BY sequence_number DESC LIMIT 1`)
	var (
		seq  int64
		hash string
	)
	if err := row.Scan(&seq, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", nil
		}
		return 0, "", storageErr(err, "read audit head")
	}
	return seq, hash, nil
}

// InsertAuditEntry appends one immutable row. The unique sequence
// constraint is the last line of defence against concurrent writers.
func (t *Tx) InsertAuditEntry(ctx context.Context, e contracts.AuditEntry) error {
	prev := sql.NullString{String: e.PrevHash, Valid: e.PrevHash != ""}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Sequence, fmtTime(e.Timestamp), e.EventType, string(e.Payload),
		prev, e.EntryHash, e.SignerID, e.Signature, e.KeyID)
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.E(contracts.KindConflict, "audit sequence %d already committed", e.Sequence)
		}
		return storageErr(err, "insert audit entry")
	}
	return nil
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	EventType string
	SignerID  string
	FromSeq   int64
	ToSeq     int64
	Since     *time.Time
	Limit     int
	Offset    int
}

// ListAudit returns entries in sequence order matching the filter.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]contracts.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}
	if f.EventType != "" {
		query += ` AND event_type = ` + arg(f.EventType)
	}
	if f.SignerID != "" {
		query += ` AND signer_id = ` + arg(f.SignerID)
	}
	if f.FromSeq > 0 {
		query += ` AND sequence_number >= ` + arg(f.FromSeq)
	}
	if f.ToSeq > 0 {
		query += ` AND sequence_number <= ` + arg(f.ToSeq)
	}
	if f.Since != nil {
		query += ` AND ts >= ` + arg(fmtTime(*f.Since))
	}
	query += ` ORDER BY sequence_number`
	if f.Limit > 0 {
		query += ` LIMIT ` + itoa(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + itoa(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "list audit")
	}
	defer func() { _ = rows.Close() }()

	entries := make([]contracts.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, storageErr(err, "scan audit entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list audit")
	}
	return entries, nil
}

// CountAuditEvents counts entries of one type for one signer since a
// point in time. The login rate limiter is built on this.
func (s *Store) CountAuditEvents(ctx context.Context, eventType, signerID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log
		WHERE event_type = $1 AND signer_id = $2 AND ts >= $3`,
		eventType, signerID, fmtTime(since)).Scan(&n)
	if err != nil {
		return 0, storageErr(err, "count audit events")
	}
	return n, nil
}

func (t *Tx) InsertCheckpoint(ctx context.Context, cp contracts.Checkpoint) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_hash, chain_head_hash, ts, sequence_number)
		VALUES ($1, $2, $3, $4)`,
		cp.CheckpointHash, cp.ChainHeadHash, fmtTime(cp.Timestamp), cp.SequenceNumber)
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.E(contracts.KindConflict, "checkpoint already exported")
		}
		return storageErr(err, "insert checkpoint")
	}
	return nil
}

func (s *Store) ListCheckpoints(ctx context.Context) ([]contracts.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_hash, chain_head_hash, ts, sequence_number
		FROM checkpoints ORDER BY sequence_number`)
	if err != nil {
		return nil, storageErr(err, "list checkpoints")
	}
	defer func() { _ = rows.Close() }()

	cps := make([]contracts.Checkpoint, 0)
	for rows.Next() {
		var (
			cp contracts.Checkpoint
			ts string
		)
		if err := rows.Scan(&cp.CheckpointHash, &cp.ChainHeadHash, &ts, &cp.SequenceNumber); err != nil {
			return nil, storageErr(err, "scan checkpoint")
		}
		cp.Timestamp = parseTime(ts)
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list checkpoints")
	}
	return cps, nil
}
