package notary

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Keypair is an Ed25519 signing key together with its public identity.
type Keypair struct {
	priv ed25519.PrivateKey
}

// GenerateKeypair creates a random keypair.
func GenerateKeypair() (Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{priv: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return Keypair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// keypairFromSecret accepts a 64-byte secret key (seed || public) or a 32-byte seed.
func keypairFromSecret(b []byte) (Keypair, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return KeypairFromSeed(b)
	case ed25519.PrivateKeySize:
		kp, err := KeypairFromSeed(b[:ed25519.SeedSize])
		if err != nil {
			return Keypair{}, err
		}
		if !kp.priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(b[ed25519.SeedSize:])) {
			return Keypair{}, errors.New("secret key public half does not match seed")
		}
		return kp, nil
	}
	return Keypair{}, fmt.Errorf("secret key must be %d or %d bytes, got %d",
		ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
}

// ParseSecretKey reads a secret key written as a JSON byte array, hex (optionally
// 0x-prefixed) or base58.
func ParseSecretKey(s string) (Keypair, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Keypair{}, errors.New("empty secret key")
	}
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return Keypair{}, fmt.Errorf("parse secret key array: %w", err)
		}
		b := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return Keypair{}, fmt.Errorf("secret key byte %d out of range: %d", i, v)
			}
			b[i] = byte(v)
		}
		return keypairFromSecret(b)
	}
	if h := strings.TrimPrefix(s, "0x"); isHex(h) && (len(h) == 2*ed25519.SeedSize || len(h) == 2*ed25519.PrivateKeySize) {
		b, err := hex.DecodeString(h)
		if err != nil {
			return Keypair{}, fmt.Errorf("parse secret key hex: %w", err)
		}
		return keypairFromSecret(b)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return Keypair{}, fmt.Errorf("parse secret key base58: %w", err)
	}
	return keypairFromSecret(b)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Public returns the identity of the keypair.
func (k Keypair) Public() Identity {
	var id Identity
	copy(id[:], k.priv.Public().(ed25519.PublicKey))
	return id
}

// Sign signs message.
func (k Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// SecretBytes returns the 64-byte secret key.
func (k Keypair) SecretBytes() []byte {
	return append([]byte(nil), k.priv...)
}
