package validation

import "github.com/cloudx-io/sealedauction/core"

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// KeyValidationResult contains validation results specific to the oracle key attestation
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.PublicKeyMatch
}

// SettlementValidationResult contains the checks a participant runs over a settlement receipt
type SettlementValidationResult struct {
	BidIncluded       bool
	ClearingValid     bool
	HashValid         bool
	ProceedsValid     bool
	Allocation        core.Allocation
	ValidationDetails []string
}

// IsValid returns true if all settlement checks passed
func (r *SettlementValidationResult) IsValid() bool {
	return r.BidIncluded && r.ClearingValid && r.HashValid && r.ProceedsValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	PCR8       string `json:"pcr8,omitempty"` // enclave image signing certificate, pinned when set
	CommitHash string `json:"commit_hash"` // repo commit used to build the oracle enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
