package validation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

const (
	signingKeyPEM = "-----BEGIN PUBLIC KEY-----\nsigning\n-----END PUBLIC KEY-----\n"
	inputKeyPEM   = "-----BEGIN PUBLIC KEY-----\ninput\n-----END PUBLIC KEY-----\n"
)

func TestValidateOracleKeyAttestation_KeysAndMeasurements(t *testing.T) {
	attestation := selfSignedAttestation(t, auctionapi.OracleKeyUserData{
		KeyAlgorithm:   "ES256",
		PublicKey:      signingKeyPEM,
		InputPublicKey: inputKeyPEM,
	}, testPCRs)

	result, err := ValidateOracleKeyAttestation(attestation, signingKeyPEM, inputKeyPEM, []PCRSet{testPCRs})
	assert.NoError(t, err)
	check.True(t, result.PCRsValid)
	check.True(t, result.SignatureValid)
	check.True(t, result.PublicKeyMatch)
	// Self-signed leaf does not chain to the Nitro root
	check.False(t, result.CertificateValid)
	check.False(t, result.IsValid())
}

func TestValidateOracleKeyAttestation_Mismatches(t *testing.T) {
	attestation := selfSignedAttestation(t, auctionapi.OracleKeyUserData{
		KeyAlgorithm:   "ES256",
		PublicKey:      signingKeyPEM,
		InputPublicKey: inputKeyPEM,
	}, testPCRs)

	result, err := ValidateOracleKeyAttestation(attestation, "other", "", []PCRSet{testPCRs})
	assert.NoError(t, err)
	check.False(t, result.PublicKeyMatch)

	result, err = ValidateOracleKeyAttestation(attestation, signingKeyPEM, "other", []PCRSet{testPCRs})
	assert.NoError(t, err)
	check.False(t, result.PublicKeyMatch)

	// Input key check is skipped when not provided
	result, err = ValidateOracleKeyAttestation(attestation, signingKeyPEM, "", []PCRSet{testPCRs})
	assert.NoError(t, err)
	check.True(t, result.PublicKeyMatch)

	other := testPCRs
	other.PCR2 = testPCRs.PCR0
	result, err = ValidateOracleKeyAttestation(attestation, signingKeyPEM, "", []PCRSet{other})
	assert.NoError(t, err)
	check.False(t, result.PCRsValid)
}

func TestValidateOracleKeyAttestation_Malformed(t *testing.T) {
	_, err := ValidateOracleKeyAttestation("!!!", signingKeyPEM, "", nil)
	check.Error(t, err)

	_, err = ValidateOracleKeyAttestation(auctionapi.AttestationCOSE("not cbor").EncodeBase64(), signingKeyPEM, "", nil)
	check.Error(t, err)
}

func TestLoadPCRsFromFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "pcrs.json")
	data, err := json.Marshal(PCRConfig{PCRSets: []PCRSet{testPCRs}})
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(path, data, 0o600))
	sets, err := LoadPCRsFromFile(path)
	assert.NoError(t, err)
	check.Equal(t, []PCRSet{testPCRs}, sets)

	short := filepath.Join(dir, "short.json")
	assert.NoError(t, os.WriteFile(short, []byte(`{"pcr_sets": [{"pcr0": "a", "pcr1": "b", "pcr2": "c"}]}`), 0o600))
	_, err = LoadPCRsFromFile(short)
	check.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	assert.NoError(t, os.WriteFile(empty, []byte(`{"pcr_sets": []}`), 0o600))
	_, err = LoadPCRsFromFile(empty)
	check.Error(t, err)

	_, err = LoadPCRsFromFile(filepath.Join(dir, "missing.json"))
	check.Error(t, err)
}

func TestValidatePCRs(t *testing.T) {
	pcrs := auctionapi.PCRs{ImageFileHash: "a", KernelHash: "b", ApplicationHash: "c"}

	ok, idx := ValidatePCRs(pcrs, []PCRSet{{PCR0: "x", PCR1: "b", PCR2: "c"}, {PCR0: "a", PCR1: "b", PCR2: "c"}})
	check.True(t, ok)
	check.Equal(t, 1, idx)

	ok, idx = ValidatePCRs(pcrs, nil)
	check.False(t, ok)
	check.Equal(t, -1, idx)

	// A pinned PCR8 must match too
	pinned := PCRSet{PCR0: "a", PCR1: "b", PCR2: "c", PCR8: "d"}
	check.False(t, pinned.Matches(pcrs))
	pcrs.SigningCertHash = "d"
	check.True(t, pinned.Matches(pcrs))
}
