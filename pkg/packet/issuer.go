// Package packet turns AUTHORIZED decisions into handshake packets and
// maintains the receipt chain those packets form. The Merkle root over
// all receipt hashes is the sovereign hash: one digest that commits to
// every command the system ever released.
package packet

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jacobsprake/munin-sub000/pkg/audit"
	"github.com/jacobsprake/munin-sub000/pkg/canonical"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/decision"
	"github.com/jacobsprake/munin-sub000/pkg/merkle"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

// bodySchema is the wire contract for handshake packet bodies. Field
// execution is out of scope here; the schema only pins the envelope the
// downstream actuation layer expects.
const bodySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["target_system", "command"],
	"properties": {
		"target_system": {"type": "string", "minLength": 1},
		"command":       {"type": "string", "minLength": 1},
		"parameters":    {"type": "object"},
		"deadline":      {"type": "string"}
	},
	"additionalProperties": false
}`

// Issuer produces handshake packets from authorized decisions.
type Issuer struct {
	store     *store.Store
	ledger    *audit.Ledger
	decisions *decision.Engine
	schema    *jsonschema.Schema
	log       *slog.Logger
	now       func() time.Time
}

func NewIssuer(st *store.Store, ledger *audit.Ledger, decisions *decision.Engine, log *slog.Logger) (*Issuer, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("packet-body.json", bytes.NewReader([]byte(bodySchema))); err != nil {
		return nil, contracts.Wrap(contracts.KindInternal, err, "load packet body schema")
	}
	schema, err := compiler.Compile("packet-body.json")
	if err != nil {
		return nil, contracts.Wrap(contracts.KindInternal, err, "compile packet body schema")
	}
	return &Issuer{
		store:     st,
		ledger:    ledger,
		decisions: decisions,
		schema:    schema,
		log:       log.With("component", "packet"),
		now:       time.Now,
	}, nil
}

// Issue validates the body, chains a new receipt onto the previous one
// and marks the decision EXECUTED, all in one transaction. A decision
// yields at most one packet.
//
// receipt_hash = SHA-256(previous_receipt_hash ":" packet_hash), or
// SHA-256(packet_hash) for the first packet in the chain. When
// namespace is non-empty the previous receipt is scoped to that
// namespace; the sequence number is always global.
func (i *Issuer) Issue(ctx context.Context, decisionID, namespace string, body any) (contracts.Packet, error) {
	if err := i.schema.Validate(body); err != nil {
		return contracts.Packet{}, contracts.Wrap(contracts.KindInputInvalid, err, "packet body rejected")
	}
	canonicalBody, err := canonical.Marshal(body)
	if err != nil {
		return contracts.Packet{}, err
	}
	packetHash := canonical.HashBytes(canonicalBody)

	var p contracts.Packet
	err = i.ledger.WithHead(ctx, func(tx *store.Tx) error {
		if err := i.decisions.MarkExecutedTx(ctx, tx, decisionID); err != nil {
			return err
		}
		prevReceipt, _, err := tx.LastReceipt(ctx, namespace)
		if err != nil {
			return err
		}
		seq, err := tx.NextPacketSequence(ctx)
		if err != nil {
			return err
		}

		var receiptHash string
		if prevReceipt == "" {
			receiptHash = crypto.ChainHash(packetHash)
		} else {
			receiptHash = crypto.ChainHash(prevReceipt, packetHash)
		}

		p = contracts.Packet{
			ID:                  uuid.New().String(),
			DecisionID:          decisionID,
			Namespace:           namespace,
			Body:                canonicalBody,
			PacketHash:          packetHash,
			PreviousReceiptHash: prevReceipt,
			ReceiptHash:         receiptHash,
			Sequence:            seq,
			IssuedAt:            i.now().UTC(),
		}
		if err := tx.InsertPacket(ctx, p); err != nil {
			return err
		}
		_, err = i.ledger.AppendTx(ctx, tx, contracts.EventPacketIssued, map[string]any{
			"packet_id":             p.ID,
			"decision_id":           decisionID,
			"namespace":             namespace,
			"packet_hash":           packetHash,
			"receipt_hash":          receiptHash,
			"previous_receipt_hash": prevReceipt,
			"sequence_number":       seq,
		})
		return err
	})
	if err != nil {
		return contracts.Packet{}, err
	}

	i.log.Info("packet issued", "packet_id", p.ID, "decision_id", decisionID, "seq", p.Sequence)
	return p, nil
}

// Get returns one packet by ID.
func (i *Issuer) Get(ctx context.Context, id string) (contracts.Packet, error) {
	return i.store.GetPacket(ctx, id)
}

// List returns packets in issuance order.
func (i *Issuer) List(ctx context.Context, limit int) ([]contracts.Packet, error) {
	return i.store.ListPackets(ctx, limit)
}

// SovereignHash is the Merkle root over every receipt hash in sequence
// order. Empty string when no packet has been issued yet.
func (i *Issuer) SovereignHash(ctx context.Context) (string, int, error) {
	hashes, err := i.store.ListReceiptHashes(ctx)
	if err != nil {
		return "", 0, err
	}
	root, err := merkle.Root(hashes)
	if err != nil {
		return "", 0, err
	}
	return root, len(hashes), nil
}

// VerifyReceipts recomputes the whole receipt chain from packet bodies.
// Any recomputation mismatch or linkage break is reported by sequence.
func (i *Issuer) VerifyReceipts(ctx context.Context) ([]string, error) {
	packets, err := i.store.ListPackets(ctx, 0)
	if err != nil {
		return nil, err
	}
	var problems []string
	var lastGlobal string
	lastByNamespace := map[string]string{}
	for _, p := range packets {
		if got := canonical.HashBytes(p.Body); got != p.PacketHash {
			problems = append(problems, "packet "+p.ID+": body does not match packet_hash")
		}
		// Un-namespaced packets chain onto the global tip; namespaced
		// ones onto their namespace tip. Mirrors LastReceipt.
		prev := lastGlobal
		if p.Namespace != "" {
			prev = lastByNamespace[p.Namespace]
		}
		if p.PreviousReceiptHash != prev {
			problems = append(problems, "packet "+p.ID+": previous_receipt_hash does not match chain")
		}
		var want string
		if p.PreviousReceiptHash == "" {
			want = crypto.ChainHash(p.PacketHash)
		} else {
			want = crypto.ChainHash(p.PreviousReceiptHash, p.PacketHash)
		}
		if want != p.ReceiptHash {
			problems = append(problems, "packet "+p.ID+": receipt_hash does not recompute")
		}
		lastGlobal = p.ReceiptHash
		if p.Namespace != "" {
			lastByNamespace[p.Namespace] = p.ReceiptHash
		}
	}
	return problems, nil
}
