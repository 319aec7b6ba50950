package notary

import (
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
)

// Gate admits exactly one signer: the authority fixed at construction.
type Gate struct {
	authority Identity
}

// NewGate returns a Gate for authority. The zero identity is rejected.
func NewGate(authority Identity) (*Gate, error) {
	if authority.IsZero() {
		return nil, errors.New("notary authority not configured")
	}
	return &Gate{authority: authority}, nil
}

// Authority returns the configured notary identity.
func (g *Gate) Authority() Identity { return g.authority }

// Authorize fails with ErrUnauthorizedNotary unless signer is the authority.
func (g *Gate) Authorize(signer Identity) error {
	if subtle.ConstantTimeCompare(signer[:], g.authority[:]) != 1 {
		return &AuthorizationError{Signer: signer, Err: ErrUnauthorizedNotary}
	}
	return nil
}

// SignatureVerifier proves that signer produced sig over message.
type SignatureVerifier interface {
	Verify(signer Identity, message, sig []byte) bool
}

// Ed25519Verifier verifies plain Ed25519 signatures.
type Ed25519Verifier struct{}

// Verify implements SignatureVerifier.
func (Ed25519Verifier) Verify(signer Identity, message, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(signer[:]), message, sig)
}
