package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"pgregory.net/rapid"
)

func TestClearUniformPrice_ReferenceScenario(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: "A", Quantity: 30, Price: 1},
		{Bidder: "B", Quantity: 0, Price: 0},
		{Bidder: "C", Quantity: 800, Price: 1},
		{Bidder: "D", Quantity: 80, Price: 3},
	}

	result := ClearUniformPrice(bids, 100)

	// D wins 80 at the top, C fills the remaining 20, A and B get nothing
	winners := result.Winners()
	check.Equal(t, 2, len(winners))
	check.Equal(t, Allocation{Bidder: "D", Quantity: 80, Price: 1}, winners[0])
	check.Equal(t, Allocation{Bidder: "C", Quantity: 20, Price: 1}, winners[1])

	check.Equal(t, uint64(1), result.ClearingPrice)
	check.Equal(t, uint64(0), result.AllocationFor("A").Quantity)
	check.Equal(t, uint64(0), result.AllocationFor("B").Quantity)
	check.Equal(t, uint64(100), result.Sold)
	check.Equal(t, uint64(0), result.Unsold)
}

func TestClearUniformPrice_NoBids(t *testing.T) {
	result := ClearUniformPrice(nil, 100)

	check.NotNil(t, result)
	check.Equal(t, 0, len(result.Allocations))
	check.Equal(t, uint64(0), result.ClearingPrice)
	check.Equal(t, uint64(100), result.Unsold)
}

func TestClearUniformPrice_Undersubscribed(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: "bidder_a", Quantity: 10, Price: 5},
		{Bidder: "bidder_b", Quantity: 15, Price: 7},
	}

	result := ClearUniformPrice(bids, 100)

	// Everyone is filled; the lowest winning price sets the clearing price
	check.Equal(t, uint64(5), result.ClearingPrice)
	check.Equal(t, uint64(15), result.AllocationFor("bidder_b").Quantity)
	check.Equal(t, uint64(10), result.AllocationFor("bidder_a").Quantity)
	check.Equal(t, uint64(25), result.Sold)
	check.Equal(t, uint64(75), result.Unsold)
}

func TestClearUniformPrice_ExactExhaustionAtLastBid(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: "bidder_a", Quantity: 60, Price: 9},
		{Bidder: "bidder_b", Quantity: 40, Price: 4},
		{Bidder: "bidder_c", Quantity: 40, Price: 2},
	}

	result := ClearUniformPrice(bids, 100)

	check.Equal(t, uint64(4), result.ClearingPrice)
	check.Equal(t, uint64(40), result.AllocationFor("bidder_b").Quantity)
	check.Equal(t, uint64(0), result.AllocationFor("bidder_c").Quantity)
	check.Equal(t, uint64(0), result.AllocationFor("bidder_c").Price)
}

func TestClearUniformPrice_TieAtMarginFollowsRanking(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: "early", Quantity: 50, Price: 3},
		{Bidder: "late", Quantity: 50, Price: 3},
		{Bidder: "top", Quantity: 70, Price: 8},
	}

	result := ClearUniformPrice(bids, 100)

	// top is swapped into first place, leaving late ahead of early
	check.Equal(t, uint64(70), result.AllocationFor("top").Quantity)
	check.Equal(t, uint64(30), result.AllocationFor("late").Quantity)
	check.Equal(t, uint64(0), result.AllocationFor("early").Quantity)
	check.Equal(t, uint64(3), result.ClearingPrice)
}

func TestClearUniformPrice_ZeroPriceTakesRemainder(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: "A", Quantity: 50, Price: 5},
		{Bidder: "Z", Quantity: 100, Price: 0},
	}

	result := ClearUniformPrice(bids, 100)

	check.Equal(t, uint64(50), result.AllocationFor("A").Quantity)
	check.Equal(t, uint64(50), result.AllocationFor("Z").Quantity)
	check.Equal(t, uint64(0), result.ClearingPrice)
	check.Equal(t, uint64(0), result.AllocationFor("A").Price)
	check.Equal(t, uint64(100), result.Sold)
	check.Equal(t, uint64(0), result.Unsold)
}

func TestClearUniformPrice_MaskedBidGetsNothing(t *testing.T) {
	bids := []RevealedBid{
		{Bidder: "masked", Quantity: 0, Price: 0},
		{Bidder: "payer", Quantity: 10, Price: 2},
	}

	result := ClearUniformPrice(bids, 100)

	check.Equal(t, uint64(0), result.AllocationFor("masked").Quantity)
	check.Equal(t, uint64(10), result.AllocationFor("payer").Quantity)
	check.Equal(t, uint64(2), result.ClearingPrice)
	check.Equal(t, uint64(90), result.Unsold)
}

func TestClearUniformPrice_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		supply := rapid.Uint64Range(1, 10_000).Draw(t, "supply")
		n := rapid.IntRange(0, 12).Draw(t, "bids")

		bids := make([]RevealedBid, 0, n)
		for i := 0; i < n; i++ {
			bids = append(bids, RevealedBid{
				Bidder:   string(rune('a' + i)),
				Quantity: rapid.Uint64Range(0, 5_000).Draw(t, "quantity"),
				Price:    rapid.Uint64Range(0, 100).Draw(t, "price"),
			})
		}

		result := ClearUniformPrice(bids, supply)

		var sold uint64
		for _, a := range result.Allocations {
			sold += a.Quantity
			bid := findBid(bids, a.Bidder)
			if a.Quantity > bid.Quantity {
				t.Fatalf("bidder %s allocated %d, asked %d", a.Bidder, a.Quantity, bid.Quantity)
			}
			if a.Quantity > 0 && bid.Price < result.ClearingPrice {
				t.Fatalf("winner %s bid %d below clearing price %d", a.Bidder, bid.Price, result.ClearingPrice)
			}
			if a.Quantity > 0 && a.Price != result.ClearingPrice {
				t.Fatalf("winner %s pays %d, clearing price %d", a.Bidder, a.Price, result.ClearingPrice)
			}
		}
		if sold != result.Sold || sold+result.Unsold != supply {
			t.Fatalf("conservation broken: sold=%d unsold=%d supply=%d", sold, result.Unsold, supply)
		}
	})
}

func findBid(bids []RevealedBid, bidder string) RevealedBid {
	for _, b := range bids {
		if b.Bidder == bidder {
			return b
		}
	}
	return RevealedBid{}
}
