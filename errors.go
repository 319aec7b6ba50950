package notary

import (
	"errors"
	"fmt"
)

// Authorization failures.
var (
	// ErrUnauthorizedNotary is returned when the signer is not the configured authority.
	ErrUnauthorizedNotary = errors.New("unauthorized notary")
	// ErrInvalidSignature is returned when a request signature does not verify against its signer.
	ErrInvalidSignature = errors.New("invalid request signature")
	// ErrStaleRequest is returned when IssuedAt falls outside the accepted window.
	ErrStaleRequest = errors.New("request outside accepted time window")
	// ErrReplayedRequest is returned when IssuedAt is not later than the last
	// request applied to the same record.
	ErrReplayedRequest = errors.New("request not newer than last applied")
)

// Derivation failures.
var (
	// ErrMalformedIdentity indicates an identity of the wrong length or encoding.
	ErrMalformedIdentity = errors.New("malformed identity")
	// ErrInvalidNamespace indicates an empty or oversized namespace label.
	ErrInvalidNamespace = errors.New("invalid namespace")
	// ErrNoViableBump is returned when every bump seed lands on the curve.
	ErrNoViableBump = errors.New("no off-curve address for seeds")
	// ErrSubjectMismatch indicates the record at an address belongs to another subject.
	ErrSubjectMismatch = errors.New("record subject does not match derived address")
)

// Storage failures.
var (
	// ErrRecordNotFound is returned by Store.Load and Store.Update for an absent address.
	ErrRecordNotFound = errors.New("record not found")
	// ErrRecordExists is returned by Store.Create when the address is already allocated.
	ErrRecordExists = errors.New("record already exists")
	// ErrInsufficientFunds is returned when the payer cannot cover the allocation.
	ErrInsufficientFunds = errors.New("payer cannot cover allocation")
	// ErrSizeMismatch is returned when data does not match the fixed record size.
	ErrSizeMismatch = errors.New("record size mismatch")
	// ErrCorruptRecord is returned when persisted bytes are not an integrity record.
	ErrCorruptRecord = errors.New("corrupt record")
)

// Error kinds reported by ErrorKind.
const (
	KindAuthorization = "authorization"
	KindDerivation    = "derivation"
	KindStorage       = "storage"
)

// AuthorizationError rejects a request before any state is written.
type AuthorizationError struct {
	Signer Identity
	Err    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization: signer %s: %v", e.Signer, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// DerivationError reports a malformed identity or namespace, or an address/subject mismatch.
type DerivationError struct {
	Namespace string
	Err       error
}

func (e *DerivationError) Error() string {
	if e.Namespace == "" {
		return fmt.Sprintf("derivation: %v", e.Err)
	}
	return fmt.Sprintf("derivation (namespace %q): %v", e.Namespace, e.Err)
}

func (e *DerivationError) Unwrap() error { return e.Err }

// StorageError reports an allocation or persistence failure. No partial write is observable.
type StorageError struct {
	Op      string
	Address Address
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorKind classifies err by the taxonomy above. It returns "" for unclassified errors.
func ErrorKind(err error) string {
	var authErr *AuthorizationError
	var derivErr *DerivationError
	var storeErr *StorageError
	switch {
	case errors.As(err, &authErr):
		return KindAuthorization
	case errors.As(err, &derivErr):
		return KindDerivation
	case errors.As(err, &storeErr):
		return KindStorage
	}
	return ""
}

// wrapStorage wraps a backend error unless it already carries the storage kind.
func wrapStorage(op string, addr Address, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *StorageError
	if errors.As(err, &storeErr) {
		return err
	}
	return &StorageError{Op: op, Address: addr, Err: err}
}

// errorCodes names each sentinel on the wire.
var errorCodes = []struct {
	code string
	err  error
}{
	{"unauthorized_notary", ErrUnauthorizedNotary},
	{"invalid_signature", ErrInvalidSignature},
	{"stale_request", ErrStaleRequest},
	{"replayed_request", ErrReplayedRequest},
	{"malformed_identity", ErrMalformedIdentity},
	{"invalid_namespace", ErrInvalidNamespace},
	{"no_viable_bump", ErrNoViableBump},
	{"subject_mismatch", ErrSubjectMismatch},
	{"record_not_found", ErrRecordNotFound},
	{"record_exists", ErrRecordExists},
	{"insufficient_funds", ErrInsufficientFunds},
	{"size_mismatch", ErrSizeMismatch},
	{"corrupt_record", ErrCorruptRecord},
}

// ErrorCode returns the wire code of the first sentinel found in err's chain.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

func sentinelFor(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// WireError is the transport form of a rejected request.
type WireError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"error"`
}

// NewWireError captures err for transmission.
func NewWireError(err error) WireError {
	return WireError{Kind: ErrorKind(err), Code: ErrorCode(err), Message: err.Error()}
}

// Err rebuilds a typed error so callers can use errors.Is / errors.As across the wire.
func (w WireError) Err() error {
	base := sentinelFor(w.Code)
	if base == nil {
		base = errors.New(w.Message)
	} else {
		base = fmt.Errorf("%w (remote: %s)", base, w.Message)
	}
	switch w.Kind {
	case KindAuthorization:
		return &AuthorizationError{Err: base}
	case KindDerivation:
		return &DerivationError{Err: base}
	case KindStorage:
		return &StorageError{Op: "remote", Err: base}
	}
	return base
}
