package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

const decisionColumns = `id, incident_id, playbook_id, step_id, action_type, scope_json,
	status, threshold, required, signers_json, message_hash, previous_decision_hash,
	created_at, authorized_at`

func scanDecision(row interface{ Scan(...any) error }) (contracts.Decision, string, error) {
	var (
		d            contracts.Decision
		scopeJSON    string
		signersJSON  string
		messageHash  string
		createdAt    string
		authorizedAt sql.NullString
	)
	err := row.Scan(&d.ID, &d.IncidentID, &d.PlaybookID, &d.StepID, &d.ActionType,
		&scopeJSON, &d.Status, &d.Policy.Threshold, &d.Policy.Required, &signersJSON,
		&messageHash, &d.PreviousDecisionHash, &createdAt, &authorizedAt)
	if err != nil {
		return contracts.Decision{}, "", err
	}
	if err := json.Unmarshal([]byte(scopeJSON), &d.Scope); err != nil {
		return contracts.Decision{}, "", err
	}
	if err := json.Unmarshal([]byte(signersJSON), &d.Policy.Signers); err != nil {
		return contracts.Decision{}, "", err
	}
	d.CreatedAt = parseTime(createdAt)
	d.AuthorizedAt = parseTimePtr(authorizedAt)
	return d, messageHash, nil
}

// InsertDecision persists a decision. scopeJSON and messageHash are the
// canonical scope bytes and canonical-message digest computed by the
// decision engine.
func (t *Tx) InsertDecision(ctx context.Context, d contracts.Decision, scopeJSON, messageHash string) error {
	signersJSON, err := json.Marshal(d.Policy.Signers)
	if err != nil {
		return storageErr(err, "marshal signers")
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO decisions (`+decisionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.IncidentID, d.PlaybookID, d.StepID, d.ActionType, scopeJSON,
		d.Status, d.Policy.Threshold, d.Policy.Required, string(signersJSON),
		messageHash, d.PreviousDecisionHash, fmtTime(d.CreatedAt),
		fmtTimePtr(d.AuthorizedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.E(contracts.KindConflict, "decision %s already exists", d.ID)
		}
		return storageErr(err, "insert decision")
	}
	return nil
}

func (s *Store) GetDecision(ctx context.Context, id string) (contracts.Decision, string, error) {
	return getDecision(ctx, s.db, id)
}

func (t *Tx) GetDecision(ctx context.Context, id string) (contracts.Decision, string, error) {
	return getDecision(ctx, t.tx, id)
}

func getDecision(ctx context.Context, q querier, id string) (contracts.Decision, string, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	d, messageHash, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Decision{}, "", contracts.E(contracts.KindNotFound, "decision %s not found", id)
		}
		return contracts.Decision{}, "", storageErr(err, "get decision")
	}
	return d, messageHash, nil
}

// HasAuthorizedDecisionWithHash reports whether an AUTHORIZED (or since
// EXECUTED) decision in the incident has the given canonical-message
// digest. Used to validate previous_decision_hash chaining.
func (t *Tx) HasAuthorizedDecisionWithHash(ctx context.Context, incidentID, messageHash string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM decisions
		WHERE incident_id = $1 AND message_hash = $2 AND status IN ($3, $4)`,
		incidentID, messageHash, contracts.DecisionAuthorized, contracts.DecisionExecuted).Scan(&n)
	if err != nil {
		return false, storageErr(err, "check decision chain")
	}
	return n > 0, nil
}

func (t *Tx) SetDecisionStatus(ctx context.Context, id string, status contracts.DecisionStatus, authorizedAt *time.Time) error {
	var err error
	if authorizedAt != nil {
		_, err = t.tx.ExecContext(ctx,
			`UPDATE decisions SET status = $1, authorized_at = $2 WHERE id = $3`,
			status, fmtTime(*authorizedAt), id)
	} else {
		_, err = t.tx.ExecContext(ctx,
			`UPDATE decisions SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		return storageErr(err, "update decision status")
	}
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, incidentID string, limit int) ([]contracts.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions`
	args := []any{}
	if incidentID != "" {
		query += ` WHERE incident_id = $1`
		args = append(args, incidentID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ` + itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "list decisions")
	}
	defer func() { _ = rows.Close() }()

	decisions := make([]contracts.Decision, 0)
	for rows.Next() {
		d, _, err := scanDecision(rows)
		if err != nil {
			return nil, storageErr(err, "scan decision")
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list decisions")
	}
	return decisions, nil
}

// InsertSignature writes one signer's signature. The primary key on
// (decision_id, signer_id) is the authoritative duplicate guard.
func (t *Tx) InsertSignature(ctx context.Context, sig contracts.DecisionSignature) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO decision_signatures (decision_id, signer_id, key_id, signature, signed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sig.DecisionID, sig.SignerID, sig.KeyID, sig.Signature, fmtTime(sig.SignedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.E(contracts.KindConflict, "signer %s already signed decision %s", sig.SignerID, sig.DecisionID)
		}
		return storageErr(err, "insert signature")
	}
	return nil
}

func (t *Tx) CountSignatures(ctx context.Context, decisionID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decision_signatures WHERE decision_id = $1`, decisionID).Scan(&n)
	if err != nil {
		return 0, storageErr(err, "count signatures")
	}
	return n, nil
}

func (s *Store) ListSignatures(ctx context.Context, decisionID string) ([]contracts.DecisionSignature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, signer_id, key_id, signature, signed_at
		FROM decision_signatures WHERE decision_id = $1 ORDER BY signed_at`, decisionID)
	if err != nil {
		return nil, storageErr(err, "list signatures")
	}
	defer func() { _ = rows.Close() }()

	sigs := make([]contracts.DecisionSignature, 0)
	for rows.Next() {
		var (
			sig      contracts.DecisionSignature
			signedAt string
		)
		if err := rows.Scan(&sig.DecisionID, &sig.SignerID, &sig.KeyID, &sig.Signature, &signedAt); err != nil {
			return nil, storageErr(err, "scan signature")
		}
		sig.SignedAt = parseTime(signedAt)
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list signatures")
	}
	return sigs, nil
}
