package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// ErrInvalidSignature is returned when a callback is not signed by the oracle key.
var ErrInvalidSignature = errors.New("invalid oracle signature")

// RevealVerifier authenticates reveal callbacks against the oracle's ES256 public key.
type RevealVerifier struct {
	verifier cose.Verifier
}

// NewRevealVerifier creates a verifier for the oracle's P-256 key.
func NewRevealVerifier(publicKey *ecdsa.PublicKey) (*RevealVerifier, error) {
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, publicKey)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	return &RevealVerifier{verifier: verifier}, nil
}

// NewRevealVerifierFromPEM parses a PKIX PEM public key and creates a verifier for it.
func NewRevealVerifierFromPEM(publicKeyPEM string) (*RevealVerifier, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("no PUBLIC KEY block found")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("oracle public key is %T, not ECDSA", key)
	}
	return NewRevealVerifier(ecdsaKey)
}

// Verify checks the COSE_Sign1 signature and returns the decoded callback.
func (v *RevealVerifier) Verify(signed []byte) (*auctionapi.RevealCallback, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		return nil, fmt.Errorf("%w: parse COSE_Sign1: %v", ErrInvalidSignature, err)
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if alg != cose.AlgorithmES256 {
		return nil, fmt.Errorf("%w: unexpected algorithm %v", ErrInvalidSignature, alg)
	}

	if err := msg.Verify(nil, v.verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var cb auctionapi.RevealCallback
	if err := cbor.Unmarshal(msg.Payload, &cb); err != nil {
		return nil, fmt.Errorf("decode reveal callback: %w", err)
	}
	if len(cb.HandleIDs) != len(cb.Values) {
		return nil, fmt.Errorf("reveal callback has %d handles but %d values", len(cb.HandleIDs), len(cb.Values))
	}
	return &cb, nil
}
