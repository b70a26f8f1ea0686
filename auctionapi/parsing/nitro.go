// Package parsing decodes raw AWS Nitro attestation structures.
package parsing

import (
	"encoding/base64"
	"encoding/hex"
)

// NitroAttestationDocument represents the raw CBOR structure from AWS Nitro Enclaves
type NitroAttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"` // milliseconds since the Unix epoch
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// measuredPCRs are the registers the validators look at
var measuredPCRs = []uint64{0, 1, 2, 3, 4, 8}

// ExtractPCRs hex-encodes the measured registers, keyed by index. Absent registers map to "".
func ExtractPCRs(rawPCRs map[uint64][]byte) map[uint64]string {
	out := make(map[uint64]string, len(measuredPCRs))
	for _, idx := range measuredPCRs {
		out[idx] = hex.EncodeToString(rawPCRs[idx])
	}
	return out
}

// EncodeCertificateBundle converts certificate bundle to base64 strings
func EncodeCertificateBundle(bundle [][]byte) []string {
	result := make([]string, len(bundle))
	for i, cert := range bundle {
		result[i] = base64.StdEncoding.EncodeToString(cert)
	}
	return result
}
