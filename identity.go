package notary

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// IdentitySize is the length in bytes of a subject, signer, payer or program identity.
const IdentitySize = 32

// Identity is a 32-byte public key. Its text form is base58.
type Identity [IdentitySize]byte

// Address is a derived storage location. It has the same shape as an Identity
// but never corresponds to a signing key.
type Address [IdentitySize]byte

// ParseIdentity decodes a base58 identity. Malformed input yields a *DerivationError.
func ParseIdentity(s string) (Identity, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Identity{}, &DerivationError{Err: fmt.Errorf("%w: %v", ErrMalformedIdentity, err)}
	}
	return IdentityFromBytes(raw)
}

// IdentityFromBytes copies b into an Identity after checking its length.
func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentitySize {
		return id, &DerivationError{
			Err: fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedIdentity, IdentitySize, len(b)),
		}
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58 form.
func (id Identity) String() string { return base58.Encode(id[:]) }

// IsZero reports whether every byte is zero.
func (id Identity) IsZero() bool { return id == Identity{} }

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	id, err := ParseIdentity(s)
	return Address(id), err
}

func (a Address) String() string { return base58.Encode(a[:]) }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
