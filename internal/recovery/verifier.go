package recovery

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// Verifier checks a biometric-derived signature over a challenge nonce
// against the recovery public key registered on chain.
type Verifier interface {
	Verify(publicKey, message, signature []byte) error
}

// Ed25519Verifier verifies ed25519 signatures. Recovery keys registered on
// V2 contracts are 32-byte slots holding the raw key; V3 stores the key as
// variable-length bytes with the same layout.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(publicKey, message, signature []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("recovery key is %d bytes, want %d", len(publicKey), ed25519.PublicKeySize)
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature is %d bytes, want %d", len(signature), ed25519.SignatureSize)
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}

// DecodeSignature decodes the base58 signature submitted over the API.
func DecodeSignature(encoded string) ([]byte, error) {
	sig, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed signature encoding: %w", err)
	}
	return sig, nil
}

// DecodeKey decodes a base58-encoded public key submitted over the API.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed key encoding: %w", err)
	}
	return key, nil
}
