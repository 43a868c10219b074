package decision

import (
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/canonical"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

// Message returns the canonical decision message every signer signs.
// Determinism is load-bearing: two agents independently canonicalizing
// the same logical decision must produce byte-equal messages.
func Message(d contracts.Decision) ([]byte, error) {
	var prev any
	if d.PreviousDecisionHash != "" {
		prev = d.PreviousDecisionHash
	}
	return canonical.Marshal(map[string]any{
		"decision_id":            d.ID,
		"incident_id":            d.IncidentID,
		"action_type":            d.ActionType,
		"scope":                  d.Scope,
		"created_at":             d.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_decision_hash": prev,
	})
}

// MessageHash returns the lowercase-hex SHA-256 of the canonical
// decision message. Decisions chain to predecessors by this digest.
func MessageHash(d contracts.Decision) (string, error) {
	msg, err := Message(d)
	if err != nil {
		return "", err
	}
	return canonical.HashBytes(msg), nil
}
