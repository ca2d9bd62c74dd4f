package pairing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/brutella/hap/tlv8"

	"mediaremote/crypto"
	"mediaremote/models"
)

// Pair-verify HKDF labels.
const (
	verifyEncryptSalt = "Pair-Verify-Encrypt-Salt"
	verifyEncryptInfo = "Pair-Verify-Encrypt-Info"
)

// Verify runs the two-round pair-verify exchange with stored credentials and
// returns the session cipher for the encrypted transport phase. Any
// signature, identifier, or decryption failure aborts with ErrAuth.
func Verify(ctx context.Context, conn Conn, creds models.Credentials) (*crypto.SessionCipher, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	privateKey, publicKey, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}

	err = sendData(conn, verifyStartRequest{
		PublicKey: publicKey,
		State:     stateM1,
	})
	if err != nil {
		return nil, err
	}

	pd, err := nextData(ctx, conn, stateM2)
	if err != nil {
		return nil, err
	}
	devicePublic, err := crypto.ParseX25519PublicKey(pd.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	sharedSecret, err := crypto.ComputeX25519SharedSecret(privateKey, devicePublic)
	if err != nil {
		return nil, err
	}
	encryptKey, err := crypto.DeriveKey(sharedSecret, verifyEncryptSalt, verifyEncryptInfo)
	if err != nil {
		return nil, err
	}

	decrypted, err := crypto.OpenWithNonce(encryptKey, "PV-Msg02", pd.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	var device pairInfo
	if err := tlv8.Unmarshal(decrypted, &device); err != nil {
		return nil, fmt.Errorf("%w: unmarshal PV-Msg02 sub-TLV: %v", ErrProtocol, err)
	}
	if device.Identifier != creds.RemotePeerID {
		return nil, fmt.Errorf("%w: unknown peer %q", ErrAuth, device.Identifier)
	}

	signed := bytes.Join([][]byte{
		pd.PublicKey,
		[]byte(device.Identifier),
		publicKey,
	}, nil)
	if !ed25519.Verify(ed25519.PublicKey(creds.RemotePublicKey), signed, device.Signature) {
		return nil, fmt.Errorf("%w: device signature invalid", ErrAuth)
	}

	signature := ed25519.Sign(creds.SigningKey(), bytes.Join([][]byte{
		publicKey,
		[]byte(creds.PairingID),
		pd.PublicKey,
	}, nil))
	sub, err := tlv8.Marshal(pairInfo{
		Identifier: creds.PairingID,
		Signature:  signature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal PV-Msg03 sub-TLV: %w", err)
	}
	encrypted, err := crypto.SealWithNonce(encryptKey, "PV-Msg03", sub)
	if err != nil {
		return nil, err
	}

	err = sendData(conn, exchangeRequest{
		EncryptedData: encrypted,
		State:         stateM3,
	})
	if err != nil {
		return nil, err
	}

	return crypto.DeriveSessionCipher(sharedSecret)
}
