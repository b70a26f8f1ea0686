// Package auctionapi holds the wire types shared by the auction daemon, the oracle enclave and
// the validators.
package auctionapi

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealedauction/auctionapi/parsing"
)

// AttestationCOSE is a raw COSE_Sign1 attestation document as produced by the Nitro NSM.
type AttestationCOSE []byte

// AttestationCOSEBase64 is AttestationCOSE in standard base64, the form used in JSON bodies.
type AttestationCOSEBase64 string

// AttestationCOSEURLBase64 is AttestationCOSE in unpadded URL-safe base64.
type AttestationCOSEURLBase64 string

func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

func (a AttestationCOSE) EncodeURLSafe() AttestationCOSEURLBase64 {
	return AttestationCOSEURLBase64(base64.RawURLEncoding.EncodeToString(a))
}

func (b AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	raw, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(raw), nil
}

func (b AttestationCOSEURLBase64) String() string { return string(b) }

func (b AttestationCOSEURLBase64) Decode() (AttestationCOSE, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(b), "="))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64url: %w", err)
	}
	return AttestationCOSE(raw), nil
}

// ParseAttestationDoc extracts the Nitro attestation document from the COSE_Sign1 payload.
// The user data bytes are returned separately for the caller to decode.
func (a AttestationCOSE) ParseAttestationDoc() (AttestationDoc, []byte, error) {
	payload, err := parsing.ExtractCOSEPayload(a)
	if err != nil {
		return AttestationDoc{}, nil, err
	}

	var raw parsing.NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return AttestationDoc{}, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	pcrs := parsing.ExtractPCRs(raw.PCRs)
	doc := AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs: PCRs{
			ImageFileHash:   pcrs[0],
			KernelHash:      pcrs[1],
			ApplicationHash: pcrs[2],
			IAMRoleHash:     pcrs[3],
			InstanceIDHash:  pcrs[4],
			SigningCertHash: pcrs[8],
		},
		Certificate: base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:    parsing.EncodeCertificateBundle(raw.CABundle),
		PublicKey:   base64.StdEncoding.EncodeToString(raw.PublicKey),
		Nonce:       string(raw.Nonce),
	}
	return doc, raw.UserData, nil
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the structured form of a Nitro attestation document
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	// Certificate is the base64 DER leaf that signed the document
	Certificate string   `json:"certificate"`
	CABundle    []string `json:"cabundle"`
	PublicKey   string   `json:"public_key"`
	Nonce       string   `json:"nonce"`
}

// OracleKeyAttestationDoc is an attestation whose user data commits to the oracle's
// callback signing key
type OracleKeyAttestationDoc struct {
	AttestationDoc
	UserData *OracleKeyUserData `json:"user_data"`
}

// OracleKeyUserData is embedded in the oracle key attestation
type OracleKeyUserData struct {
	KeyAlgorithm   string `json:"key_algorithm"`    // "ES256"
	PublicKey      string `json:"public_key"`       // PEM-encoded callback signing key
	InputPublicKey string `json:"input_public_key"` // PEM-encoded RSA key bidders encrypt inputs to
}

// OracleKeyResponse is returned by the oracle for a key request
type OracleKeyResponse struct {
	Type                  string                `json:"type"`
	PublicKey             string                `json:"public_key"`
	InputPublicKey        string                `json:"input_public_key"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
}
