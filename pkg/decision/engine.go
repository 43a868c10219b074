// Package decision implements the M-of-N multi-party authorization
// state machine over canonical decision messages.
//
// State transitions:
//
//	PENDING    -> AUTHORIZED  threshold reached via valid signatures
//	PENDING    -> REJECTED    explicit reject
//	AUTHORIZED -> EXECUTED    packet issuance
//
// EXECUTED is terminal; AUTHORIZED never returns to PENDING and never
// becomes REJECTED.
package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacobsprake/munin-sub000/pkg/audit"
	"github.com/jacobsprake/munin-sub000/pkg/canonical"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

// Engine drives decisions from creation through authorization.
type Engine struct {
	store  *store.Store
	ledger *audit.Ledger
	log    *slog.Logger
	now    func() time.Time
}

func New(st *store.Store, ledger *audit.Ledger, log *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		ledger: ledger,
		log:    log.With("component", "decision"),
		now:    time.Now,
	}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	IncidentID           string
	PlaybookID           string
	StepID               string
	ActionType           string
	Scope                any
	Policy               contracts.Policy
	PreviousDecisionHash string
}

// Create validates the policy, optionally checks predecessor chaining,
// and commits the PENDING decision together with its DECISION_CREATED
// audit entry.
func (e *Engine) Create(ctx context.Context, p CreateParams) (contracts.Decision, error) {
	if p.IncidentID == "" || p.PlaybookID == "" || p.ActionType == "" {
		return contracts.Decision{}, contracts.E(contracts.KindInputInvalid,
			"incident_id, playbook_id and action_type are required")
	}
	if err := validatePolicy(p.Policy); err != nil {
		return contracts.Decision{}, err
	}

	d := contracts.Decision{
		ID:                   uuid.New().String(),
		IncidentID:           p.IncidentID,
		PlaybookID:           p.PlaybookID,
		StepID:               p.StepID,
		ActionType:           p.ActionType,
		Scope:                p.Scope,
		Status:               contracts.DecisionPending,
		Policy:               p.Policy,
		CreatedAt:            e.now().UTC(),
		PreviousDecisionHash: p.PreviousDecisionHash,
	}

	scopeJSON, err := canonical.Marshal(p.Scope)
	if err != nil {
		return contracts.Decision{}, err
	}
	messageHash, err := MessageHash(d)
	if err != nil {
		return contracts.Decision{}, err
	}

	err = e.ledger.WithHead(ctx, func(tx *store.Tx) error {
		for _, signerID := range p.Policy.Signers {
			if _, err := tx.GetUser(ctx, signerID); err != nil {
				if contracts.IsKind(err, contracts.KindNotFound) {
					return contracts.E(contracts.KindInputInvalid, "policy signer %s is not a registered user", signerID)
				}
				return err
			}
		}
		if d.PreviousDecisionHash != "" {
			ok, err := tx.HasAuthorizedDecisionWithHash(ctx, d.IncidentID, d.PreviousDecisionHash)
			if err != nil {
				return err
			}
			if !ok {
				return contracts.E(contracts.KindChainBroken,
					"previous_decision_hash does not match an authorized decision in incident %s", d.IncidentID)
			}
		}
		if err := tx.InsertDecision(ctx, d, string(scopeJSON), messageHash); err != nil {
			return err
		}
		_, err := e.ledger.AppendTx(ctx, tx, contracts.EventDecisionCreated, map[string]any{
			"decision_id":            d.ID,
			"incident_id":            d.IncidentID,
			"playbook_id":            d.PlaybookID,
			"step_id":                d.StepID,
			"action_type":            d.ActionType,
			"message_hash":           messageHash,
			"threshold":              d.Policy.Threshold,
			"required":               d.Policy.Required,
			"signers":                d.Policy.Signers,
			"previous_decision_hash": d.PreviousDecisionHash,
		})
		return err
	})
	if err != nil {
		return contracts.Decision{}, err
	}

	e.log.Info("decision created", "decision_id", d.ID, "incident_id", d.IncidentID,
		"threshold", d.Policy.Threshold, "required", d.Policy.Required)
	return d, nil
}

// SubmitParams are the inputs to SubmitSignature.
type SubmitParams struct {
	DecisionID string
	SignerID   string
	Signature  string
	KeyID      string
}

// SubmitSignature verifies and records one signer's signature. When the
// distinct-signature count reaches the policy threshold, the decision
// becomes AUTHORIZED in the same transaction.
func (e *Engine) SubmitSignature(ctx context.Context, p SubmitParams) (contracts.Decision, error) {
	var out contracts.Decision
	err := e.ledger.WithHead(ctx, func(tx *store.Tx) error {
		d, _, err := tx.GetDecision(ctx, p.DecisionID)
		if err != nil {
			return err
		}
		if d.Status != contracts.DecisionPending {
			return contracts.E(contracts.KindWrongState, "decision %s is %s", d.ID, d.Status)
		}
		if !contains(d.Policy.Signers, p.SignerID) {
			return contracts.E(contracts.KindUnknownSigner, "signer %s is not in the decision policy", p.SignerID)
		}
		already, err := tx.HasSignature(ctx, p.DecisionID, p.SignerID)
		if err != nil {
			return err
		}
		if already {
			return contracts.E(contracts.KindConflict, "signer %s already signed decision %s", p.SignerID, d.ID)
		}

		key, err := tx.GetKey(ctx, p.KeyID)
		if err != nil {
			return err
		}
		if key.UserID != p.SignerID {
			return contracts.E(contracts.KindKeyNotActive, "key %s does not belong to signer %s", p.KeyID, p.SignerID)
		}
		if key.Status != contracts.KeyActive {
			return contracts.E(contracts.KindKeyNotActive, "key %s is %s", p.KeyID, key.Status)
		}

		message, err := Message(d)
		if err != nil {
			return err
		}
		if !crypto.Verify(key.PublicKey, message, p.Signature) {
			return contracts.E(contracts.KindSignatureInvalid, "signature rejected for decision %s", d.ID)
		}

		now := e.now().UTC()
		sig := contracts.DecisionSignature{
			DecisionID: d.ID,
			SignerID:   p.SignerID,
			KeyID:      p.KeyID,
			Signature:  p.Signature,
			SignedAt:   now,
		}
		if err := tx.InsertSignature(ctx, sig); err != nil {
			return err
		}
		if _, err := e.ledger.AppendTx(ctx, tx, contracts.EventDecisionSigned, map[string]any{
			"decision_id": d.ID,
			"signer_id":   p.SignerID,
			"key_id":      p.KeyID,
			"signature":   p.Signature,
		}, audit.WithActor(p.SignerID)); err != nil {
			return err
		}

		count, err := tx.CountSignatures(ctx, d.ID)
		if err != nil {
			return err
		}
		if count >= d.Policy.Threshold {
			if err := tx.SetDecisionStatus(ctx, d.ID, contracts.DecisionAuthorized, &now); err != nil {
				return err
			}
			digest := canonical.HashBytes(message)
			if _, err := e.ledger.AppendTx(ctx, tx, contracts.EventDecisionAuthorized, map[string]any{
				"decision_id":    d.ID,
				"incident_id":    d.IncidentID,
				"message_digest": digest,
				"signatures":     count,
				"threshold":      d.Policy.Threshold,
			}); err != nil {
				return err
			}
			d.Status = contracts.DecisionAuthorized
			d.AuthorizedAt = &now
		}
		out = d
		return nil
	})
	if err != nil {
		return contracts.Decision{}, err
	}

	e.log.Info("signature accepted", "decision_id", out.ID, "signer_id", p.SignerID, "status", out.Status)
	return out, nil
}

// Reject moves a PENDING decision to REJECTED. Rejecting an AUTHORIZED
// or EXECUTED decision is forbidden.
func (e *Engine) Reject(ctx context.Context, decisionID, actorID, reason string) error {
	return e.ledger.WithHead(ctx, func(tx *store.Tx) error {
		d, _, err := tx.GetDecision(ctx, decisionID)
		if err != nil {
			return err
		}
		if d.Status != contracts.DecisionPending {
			return contracts.E(contracts.KindWrongState, "decision %s is %s", d.ID, d.Status)
		}
		if err := tx.SetDecisionStatus(ctx, decisionID, contracts.DecisionRejected, nil); err != nil {
			return err
		}
		_, err = e.ledger.AppendTx(ctx, tx, contracts.EventDecisionRejected, map[string]any{
			"decision_id": decisionID,
			"rejected_by": actorID,
			"reason":      reason,
		}, audit.WithActor(actorID))
		return err
	})
}

// MarkExecutedTx transitions AUTHORIZED -> EXECUTED inside the packet
// issuer's transaction.
func (e *Engine) MarkExecutedTx(ctx context.Context, tx *store.Tx, decisionID string) error {
	d, _, err := tx.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}
	if d.Status != contracts.DecisionAuthorized {
		return contracts.E(contracts.KindWrongState, "decision %s is %s, not AUTHORIZED", d.ID, d.Status)
	}
	return tx.SetDecisionStatus(ctx, decisionID, contracts.DecisionExecuted, nil)
}

// Get returns a decision with its signatures.
func (e *Engine) Get(ctx context.Context, id string) (contracts.Decision, []contracts.DecisionSignature, error) {
	d, _, err := e.store.GetDecision(ctx, id)
	if err != nil {
		return contracts.Decision{}, nil, err
	}
	sigs, err := e.store.ListSignatures(ctx, id)
	if err != nil {
		return contracts.Decision{}, nil, err
	}
	return d, sigs, nil
}

// List returns decisions, optionally filtered by incident.
func (e *Engine) List(ctx context.Context, incidentID string, limit int) ([]contracts.Decision, error) {
	return e.store.ListDecisions(ctx, incidentID, limit)
}

func validatePolicy(p contracts.Policy) error {
	if p.Threshold < 1 || p.Required != len(p.Signers) || p.Threshold > p.Required {
		return contracts.E(contracts.KindInputInvalid,
			"policy requires 1 <= threshold <= required = |signers|")
	}
	seen := make(map[string]struct{}, len(p.Signers))
	for _, s := range p.Signers {
		if s == "" {
			return contracts.E(contracts.KindInputInvalid, "policy signer must not be empty")
		}
		if _, dup := seen[s]; dup {
			return contracts.E(contracts.KindInputInvalid, "duplicate policy signer %s", s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
