package core

// ClearUniformPrice allocates a fixed supply to revealed bids and derives the single price
// every winner pays.
//
// Processing flow:
//  1. Rank bids by price, descending (see RankRevealedBids for tie order)
//  2. Walk the ranking, giving each bid min(remaining supply, bid quantity)
//  3. The clearing price is the price of the last bid with a nonzero allocation
//  4. Bids after the supply ran out get a zero allocation
//
// Masked bids are zero on both fields, so their zero quantity keeps them out of the result.
func ClearUniformPrice(bids []RevealedBid, supply uint64) *ClearingResult {
	ranking := RankRevealedBids(bids)

	result := &ClearingResult{
		Allocations: make([]Allocation, 0, len(ranking.SortedBidders)),
	}

	remaining := supply
	for _, bidder := range ranking.SortedBidders {
		bid := ranking.Bids[bidder]

		allocated := min(remaining, bid.Quantity)
		if allocated > 0 {
			remaining -= allocated
			result.ClearingPrice = bid.Price
		}

		result.Allocations = append(result.Allocations, Allocation{
			Bidder:   bidder,
			Quantity: allocated,
		})
	}

	for i := range result.Allocations {
		if result.Allocations[i].Quantity > 0 {
			result.Allocations[i].Price = result.ClearingPrice
		}
	}

	result.Sold = supply - remaining
	result.Unsold = remaining

	return result
}
