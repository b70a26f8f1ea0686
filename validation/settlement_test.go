package validation

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
)

// referenceReceipt is a settled 100-unit auction: D takes 80, C the remaining 20, at price 1.
func referenceReceipt() *auctionapi.SettlementReceipt {
	bids := []core.RevealedBid{
		{Bidder: "A", Quantity: 30, Price: 1},
		{Bidder: "B", Quantity: 0, Price: 0},
		{Bidder: "C", Quantity: 800, Price: 1},
		{Bidder: "D", Quantity: 80, Price: 3},
	}
	result := core.ClearUniformPrice(bids, 100)
	return &auctionapi.SettlementReceipt{
		AuctionID:      "auction-1",
		Supply:         100,
		RevealedBids:   bids,
		Allocations:    result.Allocations,
		ClearingPrice:  result.ClearingPrice,
		OwnerProceeds:  100,
		SettlementHash: core.ComputeSettlementHash("auction-1", result),
	}
}

func TestValidateSettlement_Valid(t *testing.T) {
	result, err := ValidateSettlement(&SettlementValidationInput{
		Receipt:  referenceReceipt(),
		Bidder:   "D",
		Quantity: 80,
		Price:    3,
	})
	assert.NoError(t, err)
	check.True(t, result.IsValid())
	check.Equal(t, core.Allocation{Bidder: "D", Quantity: 80, Price: 1}, result.Allocation)
}

func TestValidateSettlement_MaskedBid(t *testing.T) {
	result, err := ValidateSettlement(&SettlementValidationInput{
		Receipt:  referenceReceipt(),
		Bidder:   "B",
		Quantity: 500,
		Price:    9,
		Masked:   true,
	})
	assert.NoError(t, err)
	check.True(t, result.IsValid())
	check.Equal(t, uint64(0), result.Allocation.Quantity)

	result, err = ValidateSettlement(&SettlementValidationInput{
		Receipt:  referenceReceipt(),
		Bidder:   "B",
		Quantity: 500,
		Price:    9,
	})
	assert.NoError(t, err)
	check.False(t, result.BidIncluded)
}

func TestValidateSettlement_Tampered(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*auctionapi.SettlementReceipt)
		failed func(*SettlementValidationResult) bool
	}{
		{
			name:   "clearing price",
			mutate: func(r *auctionapi.SettlementReceipt) { r.ClearingPrice = 3 },
			failed: func(res *SettlementValidationResult) bool { return !res.ClearingValid },
		},
		{
			name:   "allocation",
			mutate: func(r *auctionapi.SettlementReceipt) { r.Allocations[1].Quantity = 25 },
			failed: func(res *SettlementValidationResult) bool { return !res.ClearingValid },
		},
		{
			name:   "hash",
			mutate: func(r *auctionapi.SettlementReceipt) { r.SettlementHash = "00" },
			failed: func(res *SettlementValidationResult) bool { return !res.HashValid },
		},
		{
			name:   "proceeds",
			mutate: func(r *auctionapi.SettlementReceipt) { r.OwnerProceeds = 99 },
			failed: func(res *SettlementValidationResult) bool { return !res.ProceedsValid },
		},
		{
			name:   "revealed bid",
			mutate: func(r *auctionapi.SettlementReceipt) { r.RevealedBids[3].Quantity = 81 },
			failed: func(res *SettlementValidationResult) bool { return !res.BidIncluded },
		},
		{
			name:   "bidder dropped",
			mutate: func(r *auctionapi.SettlementReceipt) { r.RevealedBids = r.RevealedBids[:3] },
			failed: func(res *SettlementValidationResult) bool { return !res.BidIncluded },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt := referenceReceipt()
			tt.mutate(receipt)

			result, err := ValidateSettlement(&SettlementValidationInput{
				Receipt:  receipt,
				Bidder:   "D",
				Quantity: 80,
				Price:    3,
			})
			assert.NoError(t, err)
			check.True(t, tt.failed(result))
			check.False(t, result.IsValid())
		})
	}
}

func TestValidateSettlement_RequiresReceipt(t *testing.T) {
	_, err := ValidateSettlement(nil)
	check.Error(t, err)

	_, err = ValidateSettlement(&SettlementValidationInput{Bidder: "D"})
	check.Error(t, err)
}
