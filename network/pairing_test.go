package network

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"mediaremote/protocol"
)

func TestPairingDataRoundTrip(t *testing.T) {
	c, d := newTestConn(t, Options{})

	go func() {
		req := d.read()
		if req == nil {
			return
		}
		pairing, ok := req.Payload.(*protocol.CryptoPairingMessage)
		if !ok {
			d.t.Errorf("request type = %v", req.Type)
			return
		}
		if !bytes.Equal(pairing.PairingData, []byte{0x06, 0x01, 0x01}) {
			d.t.Errorf("pairing data = %x", pairing.PairingData)
			return
		}
		d.write(protocol.NewMessage(&protocol.CryptoPairingMessage{PairingData: []byte{0x06, 0x01, 0x02}}))
	}()

	if err := c.SendPairingData([]byte{0x06, 0x01, 0x01}); err != nil {
		t.Fatalf("SendPairingData failed: %v", err)
	}
	data, err := c.NextPairingData(context.Background())
	if err != nil {
		t.Fatalf("NextPairingData failed: %v", err)
	}
	if !bytes.Equal(data, []byte{0x06, 0x01, 0x02}) {
		t.Fatalf("pairing data = %x", data)
	}
}

func TestNextPairingDataRejectsEmptyPayload(t *testing.T) {
	c, d := newTestConn(t, Options{})

	go d.write(protocol.NewMessage(&protocol.CryptoPairingMessage{}))

	if _, err := c.NextPairingData(context.Background()); !errors.Is(err, ErrNoPairingData) {
		t.Fatalf("err = %v, want ErrNoPairingData", err)
	}
}
