package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// ValidateOracleKeyAttestation validates the oracle's key attestation
//
// Parameters:
//   - attestationCOSEBase64: Base64-encoded COSE_Sign1 bytes from OracleKeyResponse
//   - expectedSigningKey: PEM-encoded callback signing key the auction will trust
//   - expectedInputKey: PEM-encoded input key bidders encrypt to; empty skips the check
//   - knownPCRs: measurements of approved oracle images
//
// Returns:
//   - KeyValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input)
func ValidateOracleKeyAttestation(attestationCOSEBase64 auctionapi.AttestationCOSEBase64, expectedSigningKey, expectedInputKey string, knownPCRs []PCRSet) (*KeyValidationResult, error) {
	coseBytes, err := attestationCOSEBase64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	baseResult, err := validateCommonAttestation(coseBytes, knownPCRs)
	if err != nil {
		return nil, err
	}

	keyAttestation, err := parseOracleKeyAttestation(coseBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation from attestation_cose_base64: %w", err)
	}

	result := &KeyValidationResult{
		BaseValidationResult: *baseResult,
	}

	if keyAttestation.UserData == nil || keyAttestation.UserData.PublicKey == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Public key missing from attestation")
		return result, nil
	}

	// Trim whitespace from both keys (handles trailing newlines from PEM encoding)
	signingMatch := strings.TrimSpace(expectedSigningKey) == strings.TrimSpace(keyAttestation.UserData.PublicKey)
	if signingMatch {
		result.ValidationDetails = append(result.ValidationDetails, "Signing key matches attestation")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Signing key mismatch: provided key does not match attested key")
	}

	inputMatch := true
	if expectedInputKey != "" {
		inputMatch = strings.TrimSpace(expectedInputKey) == strings.TrimSpace(keyAttestation.UserData.InputPublicKey)
		if inputMatch {
			result.ValidationDetails = append(result.ValidationDetails, "Input key matches attestation")
		} else {
			result.ValidationDetails = append(result.ValidationDetails, "Input key mismatch: provided key does not match attested key")
		}
	}

	result.PublicKeyMatch = signingMatch && inputMatch
	return result, nil
}

func parseOracleKeyAttestation(coseBytes auctionapi.AttestationCOSE) (*auctionapi.OracleKeyAttestationDoc, error) {
	attestationDoc, userDataBytes, err := coseBytes.ParseAttestationDoc()
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	var keyUserData auctionapi.OracleKeyUserData
	if len(userDataBytes) > 0 {
		if err := json.Unmarshal(userDataBytes, &keyUserData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	return &auctionapi.OracleKeyAttestationDoc{
		AttestationDoc: attestationDoc,
		UserData:       &keyUserData,
	}, nil
}
