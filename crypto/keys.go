package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

var x25519Curve = ecdh.X25519()

// GenerateEd25519Seed returns a fresh 32-byte Ed25519 seed suitable for
// long-term credential storage.
func GenerateEd25519Seed() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate Ed25519 seed: %w", err)
	}
	return seed, nil
}

// GenerateX25519KeyPair creates an ephemeral X25519 keypair and returns the
// private key together with the raw 32-byte public key.
func GenerateX25519KeyPair() (*ecdh.PrivateKey, []byte, error) {
	privateKey, err := x25519Curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate X25519 keypair: %w", err)
	}
	return privateKey, privateKey.PublicKey().Bytes(), nil
}

// ParseX25519PublicKey validates and parses a raw 32-byte X25519 public key.
func ParseX25519PublicKey(raw []byte) (*ecdh.PublicKey, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("parse X25519 public key: invalid size %d", len(raw))
	}
	publicKey, err := x25519Curve.NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse X25519 public key: %w", err)
	}
	return publicKey, nil
}

// ComputeX25519SharedSecret performs the ECDH computation between a local
// private key and a peer public key.
func ComputeX25519SharedSecret(privateKey *ecdh.PrivateKey, publicKey *ecdh.PublicKey) ([]byte, error) {
	sharedSecret, err := privateKey.ECDH(publicKey)
	if err != nil {
		return nil, fmt.Errorf("compute X25519 shared secret: %w", err)
	}
	return sharedSecret, nil
}
