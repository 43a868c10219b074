package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

const packetColumns = `packet_id, decision_id, namespace, body_json, packet_hash,
	previous_receipt_hash, receipt_hash, sequence_number, issued_at`

func scanPacket(row interface{ Scan(...any) error }) (contracts.Packet, error) {
	var (
		p        contracts.Packet
		body     string
		issuedAt string
	)
	err := row.Scan(&p.ID, &p.DecisionID, &p.Namespace, &body, &p.PacketHash,
		&p.PreviousReceiptHash, &p.ReceiptHash, &p.Sequence, &issuedAt)
	if err != nil {
		return contracts.Packet{}, err
	}
	p.Body = []byte(body)
	p.IssuedAt = parseTime(issuedAt)
	return p, nil
}

// LastReceipt returns the receipt hash and sequence of the most recent
// packet, globally when namespace is empty or within the namespace
// chain otherwise. ("", 0) means no prior packet.
func (t *Tx) LastReceipt(ctx context.Context, namespace string) (string, int64, error) {
	query := `SELECT receipt_hash, sequence_number FROM handshake_packets`
	args := []any{}
	if namespace != "" {
		query += ` WHERE namespace = $1`
		args = append(args, namespace)
	}
	query += ` ORDER BY sequence_number DESC LIMIT 1`

	var (
		hash string
		seq  int64
	)
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&hash, &seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, storageErr(err, "read last receipt")
	}
	return hash, seq, nil
}

// NextPacketSequence returns the next global packet sequence number.
func (t *Tx) NextPacketSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := t.tx.QueryRowContext(ctx,
		`SELECT MAX(sequence_number) FROM handshake_packets`).Scan(&seq)
	if err != nil {
		return 0, storageErr(err, "read packet sequence")
	}
	return seq.Int64 + 1, nil
}

func (t *Tx) InsertPacket(ctx context.Context, p contracts.Packet) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO handshake_packets (`+packetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.DecisionID, p.Namespace, string(p.Body), p.PacketHash,
		p.PreviousReceiptHash, p.ReceiptHash, p.Sequence, fmtTime(p.IssuedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return contracts.E(contracts.KindConflict, "decision %s already has a packet", p.DecisionID)
		}
		return storageErr(err, "insert packet")
	}
	return nil
}

func (s *Store) GetPacket(ctx context.Context, id string) (contracts.Packet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+packetColumns+` FROM handshake_packets WHERE packet_id = $1`, id)
	p, err := scanPacket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Packet{}, contracts.E(contracts.KindNotFound, "packet %s not found", id)
		}
		return contracts.Packet{}, storageErr(err, "get packet")
	}
	return p, nil
}

func (s *Store) ListPackets(ctx context.Context, limit int) ([]contracts.Packet, error) {
	query := `SELECT ` + packetColumns + ` FROM handshake_packets ORDER BY sequence_number`
	if limit > 0 {
		query += ` LIMIT ` + itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr(err, "list packets")
	}
	defer func() { _ = rows.Close() }()

	packets := make([]contracts.Packet, 0)
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, storageErr(err, "scan packet")
		}
		packets = append(packets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list packets")
	}
	return packets, nil
}

// ListReceiptHashes returns all receipt hashes in sequence order, the
// leaves of the sovereign-hash Merkle tree.
func (s *Store) ListReceiptHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT receipt_hash FROM handshake_packets ORDER BY sequence_number`)
	if err != nil {
		return nil, storageErr(err, "list receipt hashes")
	}
	defer func() { _ = rows.Close() }()

	hashes := make([]string, 0)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, storageErr(err, "scan receipt hash")
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list receipt hashes")
	}
	return hashes, nil
}
