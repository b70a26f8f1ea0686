package oracle

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/validation"
)

func TestSigner_SignVerify(t *testing.T) {
	signer, err := NewSigner()
	assert.NoError(t, err)

	cb := &auctionapi.RevealCallback{
		RequestID: "req-1",
		AuctionID: "auction-1",
		HandleIDs: []string{"a", "b"},
		Values:    []uint64{80, 3},
		IssuedAt:  testNow.Unix(),
	}
	signed, err := signer.Sign(cb)
	assert.NoError(t, err)

	pemKey, err := signer.PublicKeyPEM()
	assert.NoError(t, err)
	check.True(t, strings.HasPrefix(pemKey, "-----BEGIN PUBLIC KEY-----"))

	verifier, err := validation.NewRevealVerifierFromPEM(pemKey)
	assert.NoError(t, err)

	got, err := verifier.Verify(signed)
	assert.NoError(t, err)
	check.Equal(t, cb, got)

	check.Equal(t, 16, len(signer.KeyID()))
}

func TestSigner_OtherKeyRejected(t *testing.T) {
	signer, err := NewSigner()
	assert.NoError(t, err)
	impostor, err := NewSigner()
	assert.NoError(t, err)

	signed, err := impostor.Sign(&auctionapi.RevealCallback{RequestID: "req-1"})
	assert.NoError(t, err)

	verifier, err := validation.NewRevealVerifier(signer.PublicKey())
	assert.NoError(t, err)

	_, err = verifier.Verify(signed)
	check.True(t, errors.Is(err, validation.ErrInvalidSignature))
}

func TestNewSignerFromKey_RequiresP256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	_, err = NewSignerFromKey(key)
	check.Error(t, err)

	key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	signer, err := NewSignerFromKey(key)
	assert.NoError(t, err)
	check.True(t, signer.PublicKey().Equal(&key.PublicKey))
}
