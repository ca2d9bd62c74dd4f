package pairing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"github.com/brutella/hap/tlv8"
	"github.com/tadglines/go-pkgs/crypto/srp"

	"mediaremote/crypto"
	"mediaremote/models"
)

const (
	srpGroup    = "rfc5054.3072"
	srpUsername = "Pair-Setup"

	methodPairSetup byte = 0
)

// Pair-setup HKDF label pairs.
const (
	setupEncryptSalt = "Pair-Setup-Encrypt-Salt"
	setupEncryptInfo = "Pair-Setup-Encrypt-Info"

	controllerSignSalt = "Pair-Setup-Controller-Sign-Salt"
	controllerSignInfo = "Pair-Setup-Controller-Sign-Info"

	accessorySignSalt = "Pair-Setup-Accessory-Sign-Salt"
	accessorySignInfo = "Pair-Setup-Accessory-Sign-Info"
)

// Setup is a pair-setup exchange suspended after M2, waiting for the PIN
// the device displays on screen. EnterPIN resumes and completes it.
type Setup struct {
	conn      Conn
	pairingID string

	salt         []byte
	devicePublic []byte
	done         bool
}

// StartSetup sends M1 and waits for the device's M2 reply carrying the SRP
// salt and public key.
func StartSetup(ctx context.Context, conn Conn, pairingID string) (*Setup, error) {
	err := sendData(conn, setupStartRequest{
		Method: methodPairSetup,
		State:  stateM1,
	})
	if err != nil {
		return nil, err
	}

	pd, err := nextData(ctx, conn, stateM2)
	if err != nil {
		return nil, err
	}
	if len(pd.Salt) == 0 || len(pd.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: M2 missing salt or public key", ErrProtocol)
	}

	return &Setup{
		conn:         conn,
		pairingID:    pairingID,
		salt:         pd.Salt,
		devicePublic: pd.PublicKey,
	}, nil
}

// EnterPIN runs M3 through M6 with the on-screen PIN and returns the
// long-term credentials on success. A Setup completes at most once.
func (s *Setup) EnterPIN(ctx context.Context, pin string) (models.Credentials, error) {
	if s.done {
		return models.Credentials{}, fmt.Errorf("%w: pair-setup already completed", ErrProtocol)
	}
	s.done = true

	params, err := srp.NewSRP(srpGroup, sha512.New, nil)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("init SRP: %w", err)
	}
	client := params.NewClientSession([]byte(srpUsername), []byte(pin))

	sessionKey, err := client.ComputeKey(s.salt, s.devicePublic)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("%w: compute SRP key: %v", ErrAuth, err)
	}

	err = sendData(s.conn, srpProofRequest{
		PublicKey: client.GetA(),
		Proof:     client.ComputeAuthenticator(),
		State:     stateM3,
	})
	if err != nil {
		return models.Credentials{}, err
	}

	pd, err := nextData(ctx, s.conn, stateM4)
	if err != nil {
		return models.Credentials{}, err
	}
	if !client.VerifyServerAuthenticator(pd.Proof) {
		return models.Credentials{}, fmt.Errorf("%w: SRP server proof mismatch", ErrAuth)
	}

	encryptKey, err := crypto.DeriveKey(sessionKey, setupEncryptSalt, setupEncryptInfo)
	if err != nil {
		return models.Credentials{}, err
	}

	seed, err := crypto.GenerateEd25519Seed()
	if err != nil {
		return models.Credentials{}, err
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	signKey, err := crypto.DeriveKey(sessionKey, controllerSignSalt, controllerSignInfo)
	if err != nil {
		return models.Credentials{}, err
	}
	signature := ed25519.Sign(privateKey, bytes.Join([][]byte{
		signKey,
		[]byte(s.pairingID),
		publicKey,
	}, nil))

	sub, err := tlv8.Marshal(pairInfo{
		Identifier: s.pairingID,
		PublicKey:  publicKey,
		Signature:  signature,
	})
	if err != nil {
		return models.Credentials{}, fmt.Errorf("marshal M5 sub-TLV: %w", err)
	}
	encrypted, err := crypto.SealWithNonce(encryptKey, "PS-Msg05", sub)
	if err != nil {
		return models.Credentials{}, err
	}

	err = sendData(s.conn, exchangeRequest{
		EncryptedData: encrypted,
		State:         stateM5,
	})
	if err != nil {
		return models.Credentials{}, err
	}

	pd, err = nextData(ctx, s.conn, stateM6)
	if err != nil {
		return models.Credentials{}, err
	}
	decrypted, err := crypto.OpenWithNonce(encryptKey, "PS-Msg06", pd.EncryptedData)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	var accessory pairInfo
	if err := tlv8.Unmarshal(decrypted, &accessory); err != nil {
		return models.Credentials{}, fmt.Errorf("%w: unmarshal M6 sub-TLV: %v", ErrProtocol, err)
	}
	if accessory.Identifier == "" || len(accessory.PublicKey) != ed25519.PublicKeySize {
		return models.Credentials{}, fmt.Errorf("%w: M6 missing accessory identity", ErrProtocol)
	}

	accessorySignKey, err := crypto.DeriveKey(sessionKey, accessorySignSalt, accessorySignInfo)
	if err != nil {
		return models.Credentials{}, err
	}
	signed := bytes.Join([][]byte{
		accessorySignKey,
		[]byte(accessory.Identifier),
		accessory.PublicKey,
	}, nil)
	if !ed25519.Verify(ed25519.PublicKey(accessory.PublicKey), signed, accessory.Signature) {
		return models.Credentials{}, fmt.Errorf("%w: accessory signature invalid", ErrAuth)
	}

	creds := models.Credentials{
		PairingID:       s.pairingID,
		LocalPrivateKey: seed,
		RemotePeerID:    accessory.Identifier,
		RemotePublicKey: accessory.PublicKey,
	}
	if err := creds.Validate(); err != nil {
		return models.Credentials{}, err
	}
	return creds, nil
}
