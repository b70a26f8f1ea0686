package validation

import (
	"fmt"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// validateCommonAttestation runs the checks shared by every attestation: measurements against
// knownPCRs, the certificate chain and the document signature. A failed check is recorded in
// the result; only an unparseable document is an error.
func validateCommonAttestation(coseBytes auctionapi.AttestationCOSE, knownPCRs []PCRSet) (*BaseValidationResult, error) {
	doc, _, err := coseBytes.ParseAttestationDoc()
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	result := &BaseValidationResult{ValidationDetails: []string{}}
	note := func(format string, args ...any) {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf(format, args...))
	}

	if ok, idx := ValidatePCRs(doc.PCRs, knownPCRs); ok {
		result.PCRsValid = true
		note("PCR measurements match set #%d (commit: %s)", idx, knownPCRs[idx].CommitHash)
	} else {
		note("PCR measurements unknown: pcr0=%s pcr1=%s pcr2=%s pcr8=%s",
			doc.PCRs.ImageFileHash, doc.PCRs.KernelHash, doc.PCRs.ApplicationHash, doc.PCRs.SigningCertHash)
	}

	if doc.Certificate == "" || len(doc.CABundle) == 0 {
		note("Certificate or CA bundle missing from attestation")
	} else if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, doc.Timestamp); err != nil {
		note("Certificate chain validation failed: %v", err)
	} else {
		result.CertificateValid = true
		note("Certificate chain verified")
	}

	if err := VerifyCOSESignature(coseBytes, doc.Certificate); err != nil {
		note("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		note("COSE signature verified")
	}

	return result, nil
}
