package fhe

import (
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestNewKeyManager(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)
	assert.NotNil(t, km)
	assert.NotNil(t, km.privateKey)
	assert.NotNil(t, km.PublicKey)
}

func TestKeyManager_PublicKeyPEM(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	pemStr, err := km.PublicKeyPEM()
	assert.NoError(t, err)
	assert.NotEqual(t, pemStr, "")

	// Verify PEM format
	assert.True(t, strings.HasPrefix(pemStr, "-----BEGIN PUBLIC KEY-----"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(pemStr), "-----END PUBLIC KEY-----"))

	block, _ := pem.Decode([]byte(pemStr))
	assert.NotNil(t, block)
	assert.Equal(t, "PUBLIC KEY", block.Type)

	_, err = x509.ParsePKIXPublicKey(block.Bytes)
	assert.NoError(t, err)
}

func TestParsePublicKeyPEM_RoundTrip(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	pemStr, err := km.PublicKeyPEM()
	assert.NoError(t, err)

	parsed, err := ParsePublicKeyPEM(pemStr)
	assert.NoError(t, err)
	assert.True(t, parsed.Equal(km.PublicKey))

	_, err = ParsePublicKeyPEM("not a pem")
	assert.NotNil(t, err)
}

func TestKeyManager_UniqueKeys(t *testing.T) {
	km1, _ := NewKeyManager()
	km2, _ := NewKeyManager()

	pem1, _ := km1.PublicKeyPEM()
	pem2, _ := km2.PublicKeyPEM()

	assert.NotEqual(t, pem1, pem2)
}
