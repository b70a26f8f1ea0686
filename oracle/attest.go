package oracle

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// Attester interface for dependency injection and testing
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// NitroAttester returns the NSM handle, or an error outside an enclave.
func NitroAttester() (Attester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// AttestKeys produces an attestation document whose user data commits to the callback signing
// key and the input encryption key, so a verifier can pin both to a measured enclave image.
func AttestKeys(attester Attester, signingKeyPEM, inputKeyPEM string) (auctionapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userData, err := json.Marshal(&auctionapi.OracleKeyUserData{
		KeyAlgorithm:   "ES256",
		PublicKey:      signingKeyPEM,
		InputPublicKey: inputKeyPEM,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userData,
		Nonce:    []byte(hex.EncodeToString(nonce)),
	})
	if err != nil {
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}

	return auctionapi.AttestationCOSE(attestationCBOR), nil
}
