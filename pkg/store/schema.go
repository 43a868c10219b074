package store

import "context"

// The schema is shared verbatim between SQLite and Postgres: TEXT
// primary keys, RFC 3339 TEXT timestamps, and canonical JSON stored as
// TEXT so reads return the exact hashed bytes.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		operator_id TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		passphrase_hash TEXT NOT NULL DEFAULT '',
		current_key_id TEXT NOT NULL DEFAULT '',
		ministry_id TEXT NOT NULL DEFAULT '',
		clearance_level TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_login_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS user_key_history (
		key_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		rotated_to_key_id TEXT NOT NULL DEFAULT '',
		revoked_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		revoked_at TEXT,
		last_activity_at TEXT NOT NULL,
		source_addr TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		playbook_id TEXT NOT NULL,
		step_id TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL,
		scope_json TEXT NOT NULL,
		status TEXT NOT NULL,
		threshold INTEGER NOT NULL,
		required INTEGER NOT NULL,
		signers_json TEXT NOT NULL,
		message_hash TEXT NOT NULL,
		previous_decision_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		authorized_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS decision_signatures (
		decision_id TEXT NOT NULL,
		signer_id TEXT NOT NULL,
		key_id TEXT NOT NULL,
		signature TEXT NOT NULL,
		signed_at TEXT NOT NULL,
		PRIMARY KEY (decision_id, signer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT NOT NULL,
		sequence_number INTEGER PRIMARY KEY,
		ts TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		prev_hash TEXT,
		entry_hash TEXT NOT NULL,
		signer_id TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT '',
		key_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_event_signer
		ON audit_log (event_type, signer_id)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		checkpoint_hash TEXT PRIMARY KEY,
		chain_head_hash TEXT NOT NULL,
		ts TEXT NOT NULL,
		sequence_number INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS handshake_packets (
		packet_id TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL UNIQUE,
		namespace TEXT NOT NULL DEFAULT '',
		body_json TEXT NOT NULL,
		packet_hash TEXT NOT NULL,
		previous_receipt_hash TEXT NOT NULL DEFAULT '',
		receipt_hash TEXT NOT NULL,
		sequence_number INTEGER NOT NULL UNIQUE,
		issued_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS system_secrets (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}

// Migrate creates the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr(err, "migrate")
		}
	}
	return nil
}
