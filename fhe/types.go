// Package fhe provides encrypted integers that support arithmetic and comparison without
// exposing plaintext to the code that combines them.
//
// Callers only ever hold Handles. An Evaluator combines handles into new handles; a
// Decryptor, held by the decryption oracle, opens a handle for a principal that was
// granted access with Allow.
package fhe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kind is the plaintext type behind a handle.
type Kind uint8

const (
	KindUint Kind = 1
	KindBool Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Handle is an opaque encrypted value. Its bytes are a CBOR envelope and can be stored
// and transmitted freely.
type Handle []byte

// ID returns a stable identifier for the ciphertext, used for access control.
func (h Handle) ID() string {
	sum := sha256.Sum256(h)
	return hex.EncodeToString(sum[:])
}

// Kind reports the plaintext type recorded in the envelope.
func (h Handle) Kind() (Kind, error) {
	env, err := decodeEnvelope(h)
	if err != nil {
		return 0, err
	}
	return env.Kind, nil
}

// envelope is the CBOR wire form of a Handle.
type envelope struct {
	Version uint8  `cbor:"1,keyasint"`
	Kind    Kind   `cbor:"2,keyasint"`
	Salt    []byte `cbor:"3,keyasint"`
	Nonce   []byte `cbor:"4,keyasint"`
	Sealed  []byte `cbor:"5,keyasint"`
}

const envelopeVersion uint8 = 1

func decodeEnvelope(h Handle) (*envelope, error) {
	if len(h) == 0 {
		return nil, fmt.Errorf("empty handle")
	}
	var env envelope
	if err := cbor.Unmarshal(h, &env); err != nil {
		return nil, fmt.Errorf("decode handle envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported handle version %d", env.Version)
	}
	return &env, nil
}

// Binding ties an input to the auction and principal that submitted it.
// It is authenticated as GCM associated data, so an input cannot be replayed by another
// bidder or in another auction.
type Binding struct {
	AuctionID string
	Principal string
}

// AdditionalData returns the associated data bytes for the binding.
func (b Binding) AdditionalData() []byte {
	return []byte("sealedauction/input|" + b.AuctionID + "|" + b.Principal)
}

// InputProof is a bidder's hybrid RSA-OAEP/AES-256-GCM envelope carrying one or more
// plaintext values. Decrypting it under the right Binding proves the submitter produced it.
type InputProof struct {
	AESKeyEncrypted  string `json:"aes_key_encrypted" cbor:"aes_key_encrypted"`               // base64-encoded RSA-OAEP encrypted AES key
	EncryptedPayload string `json:"encrypted_payload" cbor:"encrypted_payload"`               // base64-encoded AES-GCM encrypted {"values": [...]}
	Nonce            string `json:"nonce" cbor:"nonce"`                                       // base64-encoded GCM nonce (12 bytes)
	HashAlgorithm    string `json:"hash_algorithm,omitempty" cbor:"hash_algorithm,omitempty"` // Optional: "SHA-256" (default) or "SHA-1"
}

// ExternalValue selects one value from an InputProof by position.
type ExternalValue uint8

// inputPayload is the plaintext inside an InputProof.
type inputPayload struct {
	Values []uint64 `json:"values"`
}

// Evaluator computes on encrypted values. No method reveals plaintext.
type Evaluator interface {
	// Ingest verifies an input proof under binding and returns the selected value as a handle
	Ingest(value ExternalValue, proof *InputProof, binding Binding) (Handle, error)
	// Encrypt produces a handle for a public constant
	Encrypt(v uint64) (Handle, error)
	Add(a, b Handle) (Handle, error)
	Mul(a, b Handle) (Handle, error)
	// DivPlain divides by a public, nonzero divisor, rounding down
	DivPlain(a Handle, divisor uint64) (Handle, error)
	Ge(a, b Handle) (Handle, error)
	Eq(a, b Handle) (Handle, error)
	And(a, b Handle) (Handle, error)
	// Select returns a when cond is true and b otherwise
	Select(cond, a, b Handle) (Handle, error)
	// Allow grants principal the right to have h decrypted
	Allow(h Handle, principal string) error
}

// Decryptor opens handles for principals holding access rights.
type Decryptor interface {
	Decrypt(h Handle, principal string) (uint64, error)
	IsAllowed(h Handle, principal string) bool
}
