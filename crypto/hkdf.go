package crypto

import (
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Session key derivation labels. The client encrypts outbound frames with
// the ClientEncrypt key and decrypts inbound frames with the ServerEncrypt
// key, matching the device's orientation.
const (
	sessionSalt       = "MRP-Salt"
	clientEncryptInfo = "ClientEncrypt-main"
	serverEncryptInfo = "ServerEncrypt-main"
)

// DeriveKey derives a 32-byte key from input keying material using
// HKDF-SHA512 with the given salt and info strings.
func DeriveKey(ikm []byte, salt, info string) ([]byte, error) {
	reader := hkdf.New(sha512.New, ikm, []byte(salt), []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key %q/%q: %w", salt, info, err)
	}
	return key, nil
}

// DeriveSessionCipher derives the per-session read and write keys from the
// pair-verify shared secret and returns a ready frame cipher.
func DeriveSessionCipher(sharedSecret []byte) (*SessionCipher, error) {
	writeKey, err := DeriveKey(sharedSecret, sessionSalt, clientEncryptInfo)
	if err != nil {
		return nil, err
	}
	readKey, err := DeriveKey(sharedSecret, sessionSalt, serverEncryptInfo)
	if err != nil {
		return nil, err
	}
	return NewSessionCipher(writeKey, readKey)
}
