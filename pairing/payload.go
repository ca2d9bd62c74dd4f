// Package pairing implements the client side of the pair-setup (SRP-6a) and
// pair-verify (X25519/Ed25519) sub-protocols carried in crypto-pairing
// messages.
package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/brutella/hap/tlv8"
)

var (
	// ErrAuth indicates a proof, signature, or AEAD verification failure.
	ErrAuth = errors.New("pairing: authentication failed")
	// ErrProtocol indicates an unexpected sequence number or missing field.
	ErrProtocol = errors.New("pairing: protocol violation")
)

// Conn is the transport subset the pairing exchanges need.
type Conn interface {
	SendPairingData(data []byte) error
	NextPairingData(ctx context.Context) ([]byte, error)
}

// TLV sequence states shared by pair-setup and pair-verify.
const (
	stateM1 byte = 1
	stateM2 byte = 2
	stateM3 byte = 3
	stateM4 byte = 4
	stateM5 byte = 5
	stateM6 byte = 6
)

// pairingData is the outer TLV dictionary of an inbound pairingData blob.
// Outbound messages use the per-message request structs below; tlv8 emits
// every fixed-width field it is given, so a shared struct would put Method
// and Error tags on the wire where the protocol never sends them.
type pairingData struct {
	Method        byte   `tlv8:"0"`
	Identifier    string `tlv8:"1"`
	Salt          []byte `tlv8:"2"`
	PublicKey     []byte `tlv8:"3"`
	Proof         []byte `tlv8:"4"`
	EncryptedData []byte `tlv8:"5"`
	State         byte   `tlv8:"6"`
	Error         byte   `tlv8:"7"`
	Signature     []byte `tlv8:"10"`
}

// setupStartRequest is pair-setup M1.
type setupStartRequest struct {
	Method byte `tlv8:"0"`
	State  byte `tlv8:"6"`
}

// srpProofRequest is pair-setup M3.
type srpProofRequest struct {
	PublicKey []byte `tlv8:"3"`
	Proof     []byte `tlv8:"4"`
	State     byte   `tlv8:"6"`
}

// exchangeRequest carries an encrypted sub-TLV: pair-setup M5 and
// pair-verify M3.
type exchangeRequest struct {
	EncryptedData []byte `tlv8:"5"`
	State         byte   `tlv8:"6"`
}

// verifyStartRequest is pair-verify M1.
type verifyStartRequest struct {
	PublicKey []byte `tlv8:"3"`
	State     byte   `tlv8:"6"`
}

// pairInfo is the sub-TLV exchanged inside the encrypted M5/M6 and
// PV-Msg02/PV-Msg03 payloads.
type pairInfo struct {
	Identifier string `tlv8:"1"`
	PublicKey  []byte `tlv8:"3"`
	Signature  []byte `tlv8:"10"`
}

func sendData(conn Conn, req any) error {
	raw, err := tlv8.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal pairing data: %w", err)
	}
	return conn.SendPairingData(raw)
}

// nextData waits for the next pairingData blob and validates its sequence
// state against the expected one.
func nextData(ctx context.Context, conn Conn, wantState byte) (pairingData, error) {
	raw, err := conn.NextPairingData(ctx)
	if err != nil {
		return pairingData{}, err
	}

	var pd pairingData
	if err := tlv8.Unmarshal(raw, &pd); err != nil {
		return pairingData{}, fmt.Errorf("%w: unmarshal pairing data: %v", ErrProtocol, err)
	}
	if pd.Error != 0 {
		return pairingData{}, fmt.Errorf("%w: device reported pairing error %d", ErrAuth, pd.Error)
	}
	if pd.State != wantState {
		return pairingData{}, fmt.Errorf("%w: expected state M%d, got M%d", ErrProtocol, wantState, pd.State)
	}
	return pd, nil
}
