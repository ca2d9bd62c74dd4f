package network

import (
	"context"
	"errors"

	"mediaremote/protocol"
)

// ErrNoPairingData indicates a crypto-pairing message without a payload.
var ErrNoPairingData = errors.New("network: crypto pairing message without pairing data")

// SendPairingData wraps one pairingData TLV blob in a crypto-pairing
// envelope and sends it. Pairing exchanges are correlated by TLV sequence
// number, not by identifier.
func (c *Connection) SendPairingData(data []byte) error {
	return c.Send(protocol.NewMessage(&protocol.CryptoPairingMessage{PairingData: data}))
}

// NextPairingData waits for the next inbound crypto-pairing message and
// returns its pairingData blob.
func (c *Connection) NextPairingData(ctx context.Context) ([]byte, error) {
	msg, err := c.MessageOfType(ctx, protocol.TypeCryptoPairing, 0)
	if err != nil {
		return nil, err
	}
	payload, ok := msg.Payload.(*protocol.CryptoPairingMessage)
	if !ok || len(payload.PairingData) == 0 {
		return nil, ErrNoPairingData
	}
	return payload.PairingData, nil
}
