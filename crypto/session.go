package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the ChaCha20-Poly1305 key length.
const KeySize = chacha20poly1305.KeySize

// SessionCipher encrypts and decrypts session frames with per-direction
// ChaCha20-Poly1305 keys. Each direction uses a 96-bit nonce made of 32
// zero bits followed by a 64-bit little-endian counter that increments by
// one per frame. The two counters are independent.
//
// A SessionCipher is not safe for concurrent use; the transport serializes
// access from its write path and single reader goroutine.
type SessionCipher struct {
	write cipher.AEAD
	read  cipher.AEAD

	writeCounter uint64
	readCounter  uint64
}

// NewSessionCipher builds a frame cipher from 32-byte write and read keys.
func NewSessionCipher(writeKey, readKey []byte) (*SessionCipher, error) {
	write, err := chacha20poly1305.New(writeKey)
	if err != nil {
		return nil, fmt.Errorf("create write AEAD: %w", err)
	}
	read, err := chacha20poly1305.New(readKey)
	if err != nil {
		return nil, fmt.Errorf("create read AEAD: %w", err)
	}
	return &SessionCipher{write: write, read: read}, nil
}

// Encrypt seals one outbound frame payload and advances the write counter.
func (s *SessionCipher) Encrypt(plaintext []byte) []byte {
	ciphertext := s.write.Seal(nil, counterNonce(s.writeCounter), plaintext, nil)
	s.writeCounter++
	return ciphertext
}

// Decrypt opens one inbound frame payload and advances the read counter.
// A tag mismatch is fatal to the session; the caller must close it.
func (s *SessionCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := s.read.Open(nil, counterNonce(s.readCounter), ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt frame %d: %w", s.readCounter, err)
	}
	s.readCounter++
	return plaintext, nil
}

// WriteCounter returns the number of frames sealed so far.
func (s *SessionCipher) WriteCounter() uint64 { return s.writeCounter }

// ReadCounter returns the number of frames opened so far.
func (s *SessionCipher) ReadCounter() uint64 { return s.readCounter }

func counterNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// SealWithNonce encrypts a pairing sub-message with a fixed ASCII nonce
// label ("PS-Msg05", "PV-Msg02", ...) left-padded with zeros to 96 bits.
func SealWithNonce(key []byte, label string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead.Seal(nil, labelNonce(label), plaintext, nil), nil
}

// OpenWithNonce decrypts a pairing sub-message sealed by SealWithNonce.
func OpenWithNonce(key []byte, label string, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	plaintext, err := aead.Open(nil, labelNonce(label), ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", label, err)
	}
	return plaintext, nil
}

func labelNonce(label string) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[chacha20poly1305.NonceSize-len(label):], label)
	return nonce
}
