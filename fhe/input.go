package fhe

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
)

// EncryptInput seals values to the backend's input key for the given binding.
// The returned proof is what a bidder submits; value i is selected with ExternalValue(i).
func EncryptInput(values []uint64, publicKey *rsa.PublicKey, binding Binding, hashAlg HashAlgorithm) (*InputProof, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("no values to encrypt")
	}
	if len(values) > 255 {
		return nil, fmt.Errorf("too many values: %d", len(values))
	}
	if hashAlg == "" {
		hashAlg = HashAlgorithmSHA256
	}

	plaintext, err := json.Marshal(inputPayload{Values: values})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input payload: %w", err)
	}

	result, err := EncryptHybrid(plaintext, binding.AdditionalData(), publicKey, hashAlg)
	if err != nil {
		return nil, err
	}

	return &InputProof{
		AESKeyEncrypted:  result.EncryptedAESKey,
		EncryptedPayload: result.EncryptedPayload,
		Nonce:            result.Nonce,
		HashAlgorithm:    string(hashAlg),
	}, nil
}
