package validation

import (
	"fmt"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
)

// SettlementValidationInput is what a participant knows about its own bid plus the published
// receipt of the auction.
type SettlementValidationInput struct {
	Receipt  *auctionapi.SettlementReceipt
	Bidder   string
	Quantity uint64 // what the bidder sealed
	Price    uint64 // what the bidder sealed
	// Masked is true when the bidder expects its bid to have been zeroed for insufficient funds
	Masked bool
}

// ValidateSettlement recomputes the clearing from the receipt and checks that:
// - the bidder's revealed bid matches what it sealed
// - the published allocations and clearing price follow from the revealed bids
// - the settlement hash commits to that outcome
// - owner proceeds equal the sum of payables
func ValidateSettlement(input *SettlementValidationInput) (*SettlementValidationResult, error) {
	if input == nil || input.Receipt == nil {
		return nil, fmt.Errorf("settlement receipt is required")
	}
	receipt := input.Receipt

	result := &SettlementValidationResult{ValidationDetails: []string{}}

	result.BidIncluded = validateBidIncluded(input, result)

	recomputed := core.ClearUniformPrice(receipt.RevealedBids, receipt.Supply)
	result.ClearingValid = validateClearing(receipt, recomputed, result)
	result.HashValid = validateSettlementHash(receipt, recomputed, result)

	proceedsValid, err := validateProceeds(receipt, recomputed, result)
	if err != nil {
		return nil, err
	}
	result.ProceedsValid = proceedsValid

	allocation := recomputed.AllocationFor(input.Bidder)
	result.Allocation = allocation
	result.ValidationDetails = append(result.ValidationDetails,
		fmt.Sprintf("Allocation for %s: %d at clearing price %d", input.Bidder, allocation.Quantity, recomputed.ClearingPrice))

	return result, nil
}

func validateBidIncluded(input *SettlementValidationInput, result *SettlementValidationResult) bool {
	wantQuantity, wantPrice := input.Quantity, input.Price
	if input.Masked {
		wantQuantity, wantPrice = 0, 0
	}

	for _, bid := range input.Receipt.RevealedBids {
		if bid.Bidder != input.Bidder {
			continue
		}
		if bid.Quantity == wantQuantity && bid.Price == wantPrice {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Revealed bid matches: quantity %d, price %d", bid.Quantity, bid.Price))
			return true
		}
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Revealed bid mismatch: expected (%d, %d), receipt has (%d, %d)",
			wantQuantity, wantPrice, bid.Quantity, bid.Price))
		return false
	}

	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Bid from %s NOT found in receipt (%d revealed bids)", input.Bidder, len(input.Receipt.RevealedBids)))
	return false
}

func validateClearing(receipt *auctionapi.SettlementReceipt, recomputed *core.ClearingResult, result *SettlementValidationResult) bool {
	if receipt.ClearingPrice != recomputed.ClearingPrice {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Clearing price mismatch: receipt has %d, recomputed %d",
			receipt.ClearingPrice, recomputed.ClearingPrice))
		return false
	}

	if len(receipt.Allocations) != len(recomputed.Allocations) {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Allocation count mismatch: receipt has %d, recomputed %d",
			len(receipt.Allocations), len(recomputed.Allocations)))
		return false
	}

	for i, a := range recomputed.Allocations {
		if receipt.Allocations[i] != a {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Allocation %d mismatch: receipt has %s:%d, recomputed %s:%d",
				i, receipt.Allocations[i].Bidder, receipt.Allocations[i].Quantity, a.Bidder, a.Quantity))
			return false
		}
	}

	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Clearing validation passed: price %d, %d sold", recomputed.ClearingPrice, recomputed.Sold))
	return true
}

func validateSettlementHash(receipt *auctionapi.SettlementReceipt, recomputed *core.ClearingResult, result *SettlementValidationResult) bool {
	computedHash := core.ComputeSettlementHash(receipt.AuctionID, recomputed)
	if computedHash == receipt.SettlementHash {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Settlement hash validation passed: %s", computedHash))
		return true
	}

	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Settlement hash mismatch: computed %s, receipt has %s", computedHash, receipt.SettlementHash))
	return false
}

func validateProceeds(receipt *auctionapi.SettlementReceipt, recomputed *core.ClearingResult, result *SettlementValidationResult) (bool, error) {
	total, err := core.TotalPayable(recomputed.Allocations, receipt.AssetDecimals)
	if err != nil {
		return false, fmt.Errorf("compute owner proceeds: %w", err)
	}

	if total == receipt.OwnerProceeds {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Owner proceeds validation passed: %d", total))
		return true, nil
	}

	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Owner proceeds mismatch: computed %d, receipt has %d", total, receipt.OwnerProceeds))
	return false, nil
}
