package oracle

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

func TestAttestKeys_NilAttester(t *testing.T) {
	_, err := AttestKeys(nil, "signing", "input")
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "enclave attester is nil"))
}

func TestAttestKeys_CommitsToBothKeys(t *testing.T) {
	attestation, err := AttestKeys(&mockAttester{}, "signing-pem", "input-pem")
	assert.NoError(t, err)

	doc, userDataBytes, err := attestation.ParseAttestationDoc()
	assert.NoError(t, err)
	check.Equal(t, "oracle-enclave-test", doc.ModuleID)
	check.Equal(t, "SHA384", doc.DigestAlgorithm)
	check.Equal(t, 64, len(doc.Nonce))

	var userData auctionapi.OracleKeyUserData
	assert.NoError(t, json.Unmarshal(userDataBytes, &userData))
	check.Equal(t, "ES256", userData.KeyAlgorithm)
	check.Equal(t, "signing-pem", userData.PublicKey)
	check.Equal(t, "input-pem", userData.InputPublicKey)
}

func TestAttestKeys_AttesterFailure(t *testing.T) {
	_, err := AttestKeys(&mockAttester{fail: errors.New("nsm busy")}, "signing", "input")
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "nsm busy"))
}
