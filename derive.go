package notary

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// RecordNamespace labels integrity records among the kinds of records a program derives.
	RecordNamespace = "notary"

	// MaxSeedLength bounds the namespace label.
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

// DefaultProgramID is used when a deployment does not configure its own program identity.
var DefaultProgramID = Identity(sha256.Sum256([]byte("integrity-notary/program/v1")))

// Deriver computes record addresses from a namespace label and a subject identity.
// It holds no state beyond the program identity and is safe for concurrent use.
type Deriver struct {
	programID Identity
}

// NewDeriver returns a Deriver bound to programID.
func NewDeriver(programID Identity) Deriver {
	return Deriver{programID: programID}
}

// ProgramID returns the program identity that scopes every derived address.
func (d Deriver) ProgramID() Identity { return d.programID }

// Derive returns the address and bump seed for (namespace, subject).
//
// Bumps are tried from 255 down; the first hash that is not a valid Ed25519 point wins,
// so no private key exists for the address. Anyone holding the program identity can
// recompute the result without touching storage.
func (d Deriver) Derive(namespace string, subject Identity) (Address, uint8, error) {
	if namespace == "" || len(namespace) > MaxSeedLength {
		return Address{}, 0, &DerivationError{
			Namespace: namespace,
			Err:       fmt.Errorf("%w: length %d not in [1,%d]", ErrInvalidNamespace, len(namespace), MaxSeedLength),
		}
	}
	if subject.IsZero() {
		return Address{}, 0, &DerivationError{
			Namespace: namespace,
			Err:       fmt.Errorf("%w: zero identity", ErrMalformedIdentity),
		}
	}

	for bump := 255; bump >= 0; bump-- {
		addr := d.hashSeeds([]byte(namespace), subject[:], []byte{byte(bump)})
		if !onCurve(addr[:]) {
			return addr, uint8(bump), nil
		}
	}
	return Address{}, 0, &DerivationError{Namespace: namespace, Err: ErrNoViableBump}
}

// VerifyAddress reports whether addr is the address derived for (namespace, subject).
func (d Deriver) VerifyAddress(namespace string, subject Identity, addr Address) error {
	want, _, err := d.Derive(namespace, subject)
	if err != nil {
		return err
	}
	if want != addr {
		return &DerivationError{
			Namespace: namespace,
			Err:       fmt.Errorf("%w: %s derives %s, not %s", ErrSubjectMismatch, subject, want, addr),
		}
	}
	return nil
}

func (d Deriver) hashSeeds(seeds ...[]byte) Address {
	h := sha256.New()
	for _, s := range seeds {
		_, _ = h.Write(s)
	}
	_, _ = h.Write(d.programID[:])
	_, _ = h.Write([]byte(pdaMarker))
	var out Address
	copy(out[:], h.Sum(nil))
	return out
}

// onCurve reports whether b decodes to a point on the Ed25519 curve.
func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
