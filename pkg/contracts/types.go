// Package contracts holds the shared entity types and the error taxonomy
// for the Munin authorization and audit core.
//
// Hashes are lowercase hex (SHA-256, 64 chars). Public keys and signatures
// travel as standard base64. Timestamps are RFC 3339 UTC.
package contracts

import (
	"encoding/json"
	"time"
)

// UserStatus is the account lifecycle state.
type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserDisabled UserStatus = "DISABLED"
)

// User is an operator identity. Every active user has exactly one
// ACTIVE key at a time; the full key history lives in KeyRecord rows.
type User struct {
	ID             string     `json:"id"`
	OperatorID     string     `json:"operator_id"`
	Role           string     `json:"role"`
	Status         UserStatus `json:"status"`
	CurrentKeyID   string     `json:"current_key_id,omitempty"`
	MinistryID     string     `json:"ministry_id,omitempty"`
	ClearanceLevel string     `json:"clearance_level,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

// KeyStatus is the lifecycle state of a signing key. Keys move only in
// the direction ACTIVE -> {ROTATED, REVOKED}.
type KeyStatus string

const (
	KeyActive  KeyStatus = "ACTIVE"
	KeyRotated KeyStatus = "ROTATED"
	KeyRevoked KeyStatus = "REVOKED"
)

// KeyRecord is one immutable row of a user's key history. Historical
// records stay resolvable forever so old signatures remain verifiable.
type KeyRecord struct {
	KeyID          string     `json:"key_id"`
	UserID         string     `json:"user_id"`
	PublicKey      string     `json:"public_key"` // base64, 32 raw bytes
	Status         KeyStatus  `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	RotatedToKeyID string     `json:"rotated_to_key_id,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// Session is a bearer-token login session. The raw token is never
// stored; TokenHash is the hex HMAC-SHA-256 of the raw token.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	TokenHash      string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	SourceAddr     string     `json:"source_addr,omitempty"`
}

// DecisionStatus is the authorization state machine state.
type DecisionStatus string

const (
	DecisionPending    DecisionStatus = "PENDING"
	DecisionAuthorized DecisionStatus = "AUTHORIZED"
	DecisionRejected   DecisionStatus = "REJECTED"
	DecisionExecuted   DecisionStatus = "EXECUTED"
)

// Policy is the M-of-N signing policy of a decision.
// Invariant: 1 <= Threshold <= Required == len(Signers), no duplicates.
type Policy struct {
	Threshold int      `json:"threshold"`
	Required  int      `json:"required"`
	Signers   []string `json:"signers"`
}

// Decision is the unit of M-of-N authorization.
type Decision struct {
	ID                   string         `json:"decision_id"`
	IncidentID           string         `json:"incident_id"`
	PlaybookID           string         `json:"playbook_id"`
	StepID               string         `json:"step_id,omitempty"`
	ActionType           string         `json:"action_type"`
	Scope                any            `json:"scope"`
	Status               DecisionStatus `json:"status"`
	Policy               Policy         `json:"policy"`
	CreatedAt            time.Time      `json:"created_at"`
	AuthorizedAt         *time.Time     `json:"authorized_at,omitempty"`
	PreviousDecisionHash string         `json:"previous_decision_hash,omitempty"`
}

// DecisionSignature is one signer's Ed25519 signature over the canonical
// decision message. (DecisionID, SignerID) is unique.
type DecisionSignature struct {
	DecisionID string    `json:"decision_id"`
	SignerID   string    `json:"signer_id"`
	KeyID      string    `json:"key_id"`
	Signature  string    `json:"signature"` // base64, 64 raw bytes
	SignedAt   time.Time `json:"signed_at"`
}

// AuditEntry is one immutable, hash-chained record of a state change.
//
// EntryHash = SHA-256(canonical(payload) ":" prev_hash) for sequence > 1,
// else SHA-256(canonical(payload)). Payload holds the exact canonical
// byte string used to compute the hash; it must never be re-serialized.
type AuditEntry struct {
	ID        string          `json:"id"`
	Sequence  int64           `json:"sequence_number"`
	Timestamp time.Time       `json:"ts"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash,omitempty"` // empty only for sequence 1
	EntryHash string          `json:"entry_hash"`
	SignerID  string          `json:"signer_id,omitempty"`
	Signature string          `json:"signature,omitempty"`
	KeyID     string          `json:"key_id,omitempty"`
}

// Checkpoint is a published snapshot of the audit head. Comparing a
// checkpoint against a mirror copy of the log proves equivalence up to
// its sequence number.
type Checkpoint struct {
	ChainHeadHash  string    `json:"chain_head_hash"`
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber int64     `json:"sequence_number"`
	CheckpointHash string    `json:"checkpoint_hash"`
}

// Packet is a handshake-packet receipt produced from an AUTHORIZED
// decision. Receipts form a second hash chain parallel to the audit log.
type Packet struct {
	ID                  string          `json:"packet_id"`
	DecisionID          string          `json:"decision_id"`
	Namespace           string          `json:"namespace,omitempty"`
	Body                json.RawMessage `json:"body"`
	PacketHash          string          `json:"packet_hash"`
	PreviousReceiptHash string          `json:"previous_receipt_hash,omitempty"`
	ReceiptHash         string          `json:"receipt_hash"`
	Sequence            int64           `json:"sequence_number"`
	IssuedAt            time.Time       `json:"issued_at"`
}

// Audit event types emitted by the core.
const (
	EventUserRegistered     = "USER_REGISTERED"
	EventUserUpdated        = "USER_UPDATED"
	EventUserDisabled       = "USER_DISABLED"
	EventUserKeyRotated     = "USER_KEY_ROTATED"
	EventKeyRevoked         = "KEY_REVOKED"
	EventDecisionCreated    = "DECISION_CREATED"
	EventDecisionSigned     = "DECISION_SIGNED"
	EventDecisionAuthorized = "DECISION_AUTHORIZED"
	EventDecisionRejected   = "DECISION_REJECTED"
	EventLoginOK            = "LOGIN_OK"
	EventLoginFailed        = "LOGIN_FAILED"
	EventLogout             = "LOGOUT"
	EventSessionRevoked     = "SESSION_REVOKED"
	EventPacketIssued       = "PACKET_ISSUED"
)
