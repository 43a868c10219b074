package store

import (
	"context"
)

// HasSignature reports whether the signer already signed the decision.
// The primary key still guards the race; this exists so the engine can
// report DuplicateSignature ahead of key checks.
func (t *Tx) HasSignature(ctx context.Context, decisionID, signerID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM decision_signatures
		WHERE decision_id = $1 AND signer_id = $2`, decisionID, signerID).Scan(&n)
	if err != nil {
		return false, storageErr(err, "check signature")
	}
	return n > 0, nil
}
