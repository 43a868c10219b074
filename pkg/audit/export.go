package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/store"
)

// Exporter builds offline evidence bundles: a zip of audit entries, a
// fresh checkpoint and its attestation. Bundles are how the log crosses
// the air gap for independent verification.
type Exporter struct {
	ledger   *Ledger
	attestor *Attestor
	now      func() time.Time
}

// NewExporter wires an exporter. attestor may be nil; the bundle then
// carries the checkpoint without an attestation token.
func NewExporter(l *Ledger, attestor *Attestor) *Exporter {
	return &Exporter{ledger: l, attestor: attestor, now: time.Now}
}

// Bundle is one exported evidence pack.
type Bundle struct {
	Data       []byte               `json:"-"`
	Checksum   string               `json:"checksum"` // hex SHA-256 of Data
	EntryCount int                  `json:"entry_count"`
	Checkpoint contracts.Checkpoint `json:"checkpoint"`
}

// Export verifies the requested range, snapshots a checkpoint and packs
// everything into a zip. A log that fails verification is never
// exported; evidence must be sound before it leaves the site.
func (e *Exporter) Export(ctx context.Context, fromSeq, toSeq int64) (*Bundle, error) {
	if fromSeq < 0 || toSeq < 0 || (toSeq > 0 && fromSeq > toSeq) {
		return nil, contracts.E(contracts.KindInputInvalid, "invalid sequence range [%d, %d]", fromSeq, toSeq)
	}

	report, err := e.ledger.VerifyChain(ctx, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	if !report.Valid {
		return nil, contracts.E(contracts.KindChainBroken,
			"refusing to export: %d verification errors in range", len(report.Errors))
	}

	entries, err := e.ledger.List(ctx, store.AuditFilter{FromSeq: fromSeq, ToSeq: toSeq})
	if err != nil {
		return nil, err
	}
	cp, err := e.ledger.ExportCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, contracts.Wrap(contracts.KindEncoding, err, "marshal entries")
	}
	checkpointJSON, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, contracts.Wrap(contracts.KindEncoding, err, "marshal checkpoint")
	}

	files := map[string][]byte{
		"entries.json":    entriesJSON,
		"checkpoint.json": checkpointJSON,
	}
	if e.attestor != nil {
		token, err := e.attestor.Attest(cp)
		if err != nil {
			return nil, err
		}
		files["attestation.jws"] = []byte(token)
		files["attestation_key.txt"] = []byte(e.attestor.PublicKey())
	}

	manifest := map[string]any{
		"generated_at": e.now().UTC().Format(time.RFC3339Nano),
		"entry_count":  len(entries),
		"from_seq":     fromSeq,
		"to_seq":       toSeq,
		"files":        fileDigests(files),
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, contracts.Wrap(contracts.KindEncoding, err, "marshal manifest")
	}
	files["manifest.json"] = manifestJSON

	data, err := packZip(files)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)

	return &Bundle{
		Data:       data,
		Checksum:   hex.EncodeToString(sum[:]),
		EntryCount: len(entries),
		Checkpoint: cp,
	}, nil
}

func fileDigests(files map[string][]byte) map[string]string {
	digests := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha256.Sum256(data)
		digests[name] = hex.EncodeToString(sum[:])
	}
	return digests
}

// packZip writes files in a fixed order so equal content yields equal
// archives.
func packZip(files map[string][]byte) ([]byte, error) {
	order := []string{"manifest.json", "entries.json", "checkpoint.json", "attestation.jws", "attestation_key.txt"}
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, name := range order {
		data, ok := files[name]
		if !ok {
			continue
		}
		f, err := w.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := f.Write(data); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close bundle: %w", err)
	}
	return buf.Bytes(), nil
}
