package validation

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// pcrHexLen is the length of a hex-encoded SHA-384 measurement
const pcrHexLen = 96

// LoadPCRsFromFile loads approved oracle enclave measurements from a JSON file. Every set must
// carry PCR0-2; PCR8 is optional.
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}

	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}

	for i, set := range config.PCRSets {
		if err := set.validate(); err != nil {
			return nil, fmt.Errorf("PCR set #%d: %w", i, err)
		}
	}
	return config.PCRSets, nil
}

func (s PCRSet) validate() error {
	required := map[string]string{"pcr0": s.PCR0, "pcr1": s.PCR1, "pcr2": s.PCR2}
	for name, value := range required {
		if !isMeasurement(value) {
			return fmt.Errorf("%s must be %d hex characters", name, pcrHexLen)
		}
	}
	if s.PCR8 != "" && !isMeasurement(s.PCR8) {
		return fmt.Errorf("pcr8 must be %d hex characters", pcrHexLen)
	}
	return nil
}

func isMeasurement(value string) bool {
	if len(value) != pcrHexLen {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}

// Matches reports whether pcrs carry this set's measurements. PCR8 is compared only when the
// set pins it.
func (s PCRSet) Matches(pcrs auctionapi.PCRs) bool {
	if pcrs.ImageFileHash != s.PCR0 || pcrs.KernelHash != s.PCR1 || pcrs.ApplicationHash != s.PCR2 {
		return false
	}
	return s.PCR8 == "" || pcrs.SigningCertHash == s.PCR8
}

// ValidatePCRs returns the index of the first known set pcrs match, or (false, -1).
func ValidatePCRs(pcrs auctionapi.PCRs, knownSets []PCRSet) (bool, int) {
	for i, set := range knownSets {
		if set.Matches(pcrs) {
			return true, i
		}
	}
	return false, -1
}
