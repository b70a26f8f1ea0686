package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

var attestedAt = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

var testPCRs = PCRSet{
	PCR0:       "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57",
	PCR1:       "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493",
	PCR2:       "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11",
	CommitHash: "abc1234",
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	assert.NoError(t, err)
	return b
}

// selfSignedAttestation builds an untagged COSE_Sign1 attestation signed with ES384 by a
// self-signed leaf. The signature verifies; the chain does not lead to the Nitro root.
func selfSignedAttestation(t *testing.T, userData any, pcrs PCRSet) auctionapi.AttestationCOSEBase64 {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "oracle-enclave-test"},
		NotBefore:    attestedAt.Add(-time.Hour),
		NotAfter:     attestedAt.Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	assert.NoError(t, err)

	userDataBytes, err := json.Marshal(userData)
	assert.NoError(t, err)

	payload, err := cbor.Marshal(map[string]any{
		"module_id": "oracle-enclave-test",
		"digest":    "SHA384",
		"timestamp": uint64(attestedAt.UnixMilli()),
		"pcrs": map[uint64][]byte{
			0: mustHex(t, pcrs.PCR0),
			1: mustHex(t, pcrs.PCR1),
			2: mustHex(t, pcrs.PCR2),
		},
		"certificate": certDER,
		"cabundle":    [][]byte{certDER},
		"user_data":   userDataBytes,
		"nonce":       []byte("nonce"),
	})
	assert.NoError(t, err)

	protected, err := cbor.Marshal(map[int]int{1: -35})
	assert.NoError(t, err)
	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	assert.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, key)
	assert.NoError(t, err)
	signature, err := signer.Sign(rand.Reader, sigStructure)
	assert.NoError(t, err)

	raw, err := cbor.Marshal([]any{protected, map[any]any{}, payload, signature})
	assert.NoError(t, err)
	return auctionapi.AttestationCOSE(raw).EncodeBase64()
}
