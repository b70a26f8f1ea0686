package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/auctionapi/parsing"
)

// VerifyCOSESignature checks an attestation's COSE_Sign1 signature against the leaf
// certificate embedded in the document. Nitro signs with ES384 only.
func VerifyCOSESignature(coseBytes auctionapi.AttestationCOSE, certB64 string) error {
	cert, err := decodeCertificate(certB64)
	if err != nil {
		return err
	}
	publicKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	msg, err := parsing.DecodeSign1(coseBytes)
	if err != nil {
		return err
	}
	alg, err := msg.Algorithm()
	if err != nil {
		return err
	}
	if cose.Algorithm(alg) != cose.AlgorithmES384 {
		return fmt.Errorf("unexpected signature algorithm %d", alg)
	}

	toBeSigned, err := msg.ToBeSigned()
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, publicKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(toBeSigned, msg.Signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}

func decodeCertificate(certB64 string) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}
