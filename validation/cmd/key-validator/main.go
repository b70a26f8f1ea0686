package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/validation"
)

// plainTextHandler is a simple slog handler that writes plain text to stdout
// without timestamps or log levels - appropriate for CLI output
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

func main() {
	// Define CLI flags
	var (
		attestationPath = flag.String("attestation", "", "Path to oracle key response JSON file (required)")
		signingKeyPath  = flag.String("signing-key", "", "Path to the callback signing key PEM you trust (required)")
		inputKeyPath    = flag.String("input-key", "", "Path to the input key PEM bidders encrypt to")
		pcrsPath        = flag.String("pcrs", "", "Path to known PCR sets JSON (required)")
		outputFormat    = flag.String("format", "text", "Output format: text or json")
		help            = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	missing := *attestationPath == "" || *signingKeyPath == "" || *pcrsPath == ""
	if *help || missing {
		showUsage()
		if missing {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Read key response file
	keyResponse, err := readKeyResponse(*attestationPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading attestation: %v\n", err)
		os.Exit(2)
	}

	signingKey, err := readPublicKey(*signingKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading signing key: %v\n", err)
		os.Exit(2)
	}

	var inputKey string
	if *inputKeyPath != "" {
		if inputKey, err = readPublicKey(*inputKeyPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input key: %v\n", err)
			os.Exit(2)
		}
	}

	knownPCRs, err := validation.LoadPCRsFromFile(*pcrsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PCR sets: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateOracleKeyAttestation(keyResponse.AttestationCOSEBase64, signingKey, inputKey, knownPCRs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	// Output results
	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result)
	}

	// Exit with appropriate code
	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Oracle Key Attestation Validator")
	logger.Info("")
	logger.Info("Checks that the oracle enclave's callback signing key (and optionally its input key)")
	logger.Info("is committed to by a Nitro attestation from an approved enclave image.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  key-validator --attestation <path> --signing-key <pem> --pcrs <path> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --attestation <path>              Path to oracle key response JSON file")
	logger.Info("  --signing-key <path>              Path to the callback signing key PEM")
	logger.Info("  --pcrs <path>                     Path to known PCR sets JSON")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --input-key <path>                Path to the input key PEM to check as well")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Examples:")
	logger.Info("  key-validator --attestation key_response.json --signing-key oracle.pem --pcrs pcrs.json")
	logger.Info("")
	logger.Info("  # JSON output")
	logger.Info("  key-validator --attestation key_response.json --signing-key oracle.pem --pcrs pcrs.json --format json")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
	logger.Info("")
	logger.Info("Library Usage:")
	logger.Info("  This CLI tool is an example. For programmatic use, import:")
	logger.Info("  github.com/cloudx-io/sealedauction/validation")
}

func readKeyResponse(path string) (*auctionapi.OracleKeyResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var keyResponse auctionapi.OracleKeyResponse
	if err := json.Unmarshal(data, &keyResponse); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if keyResponse.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("missing attestation_cose_base64 field in key response")
	}

	return &keyResponse, nil
}

func readPublicKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return string(data), nil
}

func outputText(result *validation.KeyValidationResult) {
	logger.Info("Oracle Key Attestation Validator")
	logger.Info("================================")
	logger.Info("")

	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  PCRs Valid:        %v", result.PCRsValid))
	logger.Info(fmt.Sprintf("  Certificate Valid: %v", result.CertificateValid))
	logger.Info(fmt.Sprintf("  Signature Valid:   %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Public Key Match:  %v", result.PublicKeyMatch))

	logger.Info("")
	logger.Info("Details:")
	for _, detail := range result.ValidationDetails {
		logger.Info("  - " + detail)
	}

	logger.Info("")
	logger.Info("================================")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
		logger.Info("Exit Code: 0")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
		logger.Info("Exit Code: 1")
	}
}

func outputJSON(result *validation.KeyValidationResult) error {
	output := map[string]any{
		"valid":             result.IsValid(),
		"pcrs_valid":        result.PCRsValid,
		"certificate_valid": result.CertificateValid,
		"signature_valid":   result.SignatureValid,
		"public_key_match":  result.PublicKeyMatch,
		"details":           result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
