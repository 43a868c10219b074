package audit

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jacobsprake/munin-sub000/pkg/canonical"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

// ExportCheckpoint snapshots the current audit head into an append-only
// checkpoint row. It snapshots the recorded head even when chain
// verification currently fails; checkpoints prove what the log said,
// not that the log is sound.
func (l *Ledger) ExportCheckpoint(ctx context.Context) (contracts.Checkpoint, error) {
	var cp contracts.Checkpoint
	err := l.WithHead(ctx, func(tx *store.Tx) error {
		seq, head, err := tx.AuditHead(ctx)
		if err != nil {
			return err
		}
		ts := l.now().UTC()
		cp = contracts.Checkpoint{
			ChainHeadHash:  head,
			Timestamp:      ts,
			SequenceNumber: seq,
		}
		hash, err := canonical.Hash(map[string]any{
			"chain_head_hash": cp.ChainHeadHash,
			"timestamp":       cp.Timestamp.Format(time.RFC3339Nano),
			"sequence_number": cp.SequenceNumber,
		})
		if err != nil {
			return err
		}
		cp.CheckpointHash = hash
		return tx.InsertCheckpoint(ctx, cp)
	})
	if err != nil {
		return contracts.Checkpoint{}, err
	}
	l.log.Info("checkpoint exported", "seq", cp.SequenceNumber, "head", cp.ChainHeadHash)
	return cp, nil
}

// Checkpoints lists all exported checkpoints.
func (l *Ledger) Checkpoints(ctx context.Context) ([]contracts.Checkpoint, error) {
	return l.store.ListCheckpoints(ctx)
}

const attestationIssuer = "munin/audit"

// Attestor issues EdDSA-signed checkpoint attestation tokens. A mirror
// holding only the service public key can verify that its copy of the
// log reaches the same head at the same sequence.
type Attestor struct {
	priv  ed25519.PrivateKey
	keyID string
}

// NewAttestor derives the attestation key pair from a 32-byte seed
// (persisted as a system secret so attestations survive restarts).
func NewAttestor(seed []byte, keyID string) (*Attestor, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("attestation seed must be %d bytes", ed25519.SeedSize)
	}
	return &Attestor{priv: ed25519.NewKeyFromSeed(seed), keyID: keyID}, nil
}

// PublicKey returns the base64 attestation verification key.
func (a *Attestor) PublicKey() string {
	return base64.StdEncoding.EncodeToString(a.priv.Public().(ed25519.PublicKey))
}

// Attest signs a checkpoint into a compact JWS.
func (a *Attestor) Attest(cp contracts.Checkpoint) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss":             attestationIssuer,
		"iat":             cp.Timestamp.Unix(),
		"chain_head_hash": cp.ChainHeadHash,
		"sequence_number": cp.SequenceNumber,
		"checkpoint_hash": cp.CheckpointHash,
		"timestamp":       cp.Timestamp.Format(time.RFC3339Nano),
	})
	token.Header["kid"] = a.keyID
	signed, err := token.SignedString(a.priv)
	if err != nil {
		return "", contracts.Wrap(contracts.KindInternal, err, "sign attestation")
	}
	return signed, nil
}

// VerifyAttestation validates an attestation token against the service
// public key and returns the embedded checkpoint.
func VerifyAttestation(tokenString, publicKeyB64 string) (contracts.Checkpoint, error) {
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return contracts.Checkpoint{}, contracts.E(contracts.KindInputInvalid, "malformed attestation key")
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return ed25519.PublicKey(pub), nil
	}, jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithIssuer(attestationIssuer))
	if err != nil {
		return contracts.Checkpoint{}, contracts.Wrap(contracts.KindSignatureInvalid, err, "attestation invalid")
	}

	cp := contracts.Checkpoint{}
	if v, ok := claims["chain_head_hash"].(string); ok {
		cp.ChainHeadHash = v
	}
	if v, ok := claims["checkpoint_hash"].(string); ok {
		cp.CheckpointHash = v
	}
	if v, ok := claims["sequence_number"].(float64); ok {
		cp.SequenceNumber = int64(v)
	}
	if v, ok := claims["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			cp.Timestamp = ts
		}
	}
	return cp, nil
}
