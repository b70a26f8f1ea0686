package oracle

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// Signer signs reveal callbacks as COSE_Sign1 messages with an ES256 key.
type Signer struct {
	key    *ecdsa.PrivateKey // Keep private - sensitive!
	signer cose.Signer
	keyID  []byte
}

// NewSigner generates a fresh P-256 signing key.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewSignerFromKey(key)
}

// NewSignerFromKey wraps an existing P-256 key.
func NewSignerFromKey(key *ecdsa.PrivateKey) (*Signer, error) {
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key must be P-256, got %s", key.Curve.Params().Name)
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)

	return &Signer{key: key, signer: signer, keyID: sum[:8]}, nil
}

func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// KeyID is the hex prefix of the public key's SHA-256, carried in every message header.
func (s *Signer) KeyID() string {
	return hex.EncodeToString(s.keyID)
}

func (s *Signer) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Sign encodes cb and wraps it in a tagged COSE_Sign1 message.
func (s *Signer) Sign(cb *auctionapi.RevealCallback) ([]byte, error) {
	payload, err := cbor.Marshal(cb)
	if err != nil {
		return nil, fmt.Errorf("encode reveal callback: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Protected[cose.HeaderLabelKeyID] = s.keyID
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("sign reveal callback: %w", err)
	}

	signed, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("encode COSE_Sign1: %w", err)
	}
	return signed, nil
}
