package models

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCredentials indicates a malformed serialized credential string.
	ErrInvalidCredentials = errors.New("models: invalid credentials")
	// ErrInvalidKeySize indicates a key with the wrong length.
	ErrInvalidKeySize = errors.New("models: invalid key size")
)

// Credentials hold the long-term pairing state for one device. They are
// produced once by a successful pair-setup exchange and reused by every
// later pair-verify exchange.
type Credentials struct {
	// PairingID is the stable client identity (a UUID string).
	PairingID string
	// LocalPrivateKey is the 32-byte Ed25519 seed generated during pairing.
	LocalPrivateKey []byte
	// RemotePeerID is the device's pairing identifier.
	RemotePeerID string
	// RemotePublicKey is the device's long-term Ed25519 public key (32 bytes).
	RemotePublicKey []byte
}

// Validate checks key material lengths and required identifiers.
func (c Credentials) Validate() error {
	if c.PairingID == "" || c.RemotePeerID == "" {
		return ErrInvalidCredentials
	}
	if len(c.LocalPrivateKey) != ed25519.SeedSize {
		return fmt.Errorf("%w: local private key is %d bytes", ErrInvalidKeySize, len(c.LocalPrivateKey))
	}
	if len(c.RemotePublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: remote public key is %d bytes", ErrInvalidKeySize, len(c.RemotePublicKey))
	}
	return nil
}

// SigningKey expands the stored seed into a usable Ed25519 private key.
func (c Credentials) SigningKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(c.LocalPrivateKey)
}

// String serializes credentials as id1:privkey:id2:pubkey with each part
// lowercase hex encoded.
func (c Credentials) String() string {
	parts := []string{
		hex.EncodeToString([]byte(c.PairingID)),
		hex.EncodeToString(c.LocalPrivateKey),
		hex.EncodeToString([]byte(c.RemotePeerID)),
		hex.EncodeToString(c.RemotePublicKey),
	}
	return strings.Join(parts, ":")
}

// ParseCredentials parses the serialized form produced by String. Hex digits
// are accepted in either case.
func ParseCredentials(s string) (Credentials, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 4 {
		return Credentials{}, fmt.Errorf("%w: expected 4 parts, got %d", ErrInvalidCredentials, len(parts))
	}

	decoded := make([][]byte, 4)
	for i, part := range parts {
		raw, err := hex.DecodeString(strings.ToLower(part))
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: part %d is not hex", ErrInvalidCredentials, i)
		}
		decoded[i] = raw
	}

	creds := Credentials{
		PairingID:       string(decoded[0]),
		LocalPrivateKey: decoded[1],
		RemotePeerID:    string(decoded[2]),
		RemotePublicKey: decoded[3],
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}
