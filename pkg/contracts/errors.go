package contracts

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the HTTP layer.
// Components return *Error; the API layer is the only place that
// translates kinds into wire responses.
type Kind string

const (
	KindInputInvalid       Kind = "INPUT_INVALID"
	KindAuthRequired       Kind = "AUTH_REQUIRED"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindLocked             Kind = "LOCKED"
	KindDisabled           Kind = "DISABLED"
	KindSessionInvalid     Kind = "SESSION_INVALID"
	KindPermissionDenied   Kind = "PERMISSION_DENIED"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindWrongState         Kind = "WRONG_STATE"
	KindKeyNotActive       Kind = "KEY_NOT_ACTIVE"
	KindUnknownSigner      Kind = "UNKNOWN_SIGNER"
	KindSignatureInvalid   Kind = "SIGNATURE_INVALID"
	KindChainBroken        Kind = "CHAIN_BROKEN"
	KindHashMismatch       Kind = "HASH_MISMATCH"
	KindGenesisPrevHash    Kind = "GENESIS_PREV_HASH"
	KindStorage            Kind = "STORAGE_FAILURE"
	KindEncoding           Kind = "ENCODING"
	KindInternal           Kind = "INTERNAL"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
