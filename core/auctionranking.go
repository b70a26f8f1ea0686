package core

// RankingResult contains the ranked bidders and their revealed bids.
type RankingResult struct {
	Ranks         map[string]int          `json:"ranks"`
	Bids          map[string]*RevealedBid `json:"bids"`
	SortedBidders []string                `json:"sorted_bidders"`
}

// RankRevealedBids orders bids by price, highest first.
//
// The order is a deterministic exchange sort over the submission order: position i is
// swapped with any later position holding a strictly higher price. Equal prices are never
// swapped directly, but a higher bid pulled forward can push an earlier tie behind a later
// one, so ties are not stable in general. Settlement depends on reproducing this order
// exactly. A bidder appearing more than once keeps only its first bid, since each
// participant is limited to a single sealed bid.
func RankRevealedBids(bids []RevealedBid) *RankingResult {
	if len(bids) == 0 {
		return &RankingResult{
			Ranks:         make(map[string]int),
			Bids:          make(map[string]*RevealedBid),
			SortedBidders: make([]string, 0),
		}
	}

	type bidEntry struct {
		bidder string
		bid    *RevealedBid
	}

	entries := make([]bidEntry, 0, len(bids))
	seenBidders := make(map[string]bool, len(bids))

	for i := range bids {
		bid := &bids[i]
		if seenBidders[bid.Bidder] {
			continue
		}
		seenBidders[bid.Bidder] = true
		entries = append(entries, bidEntry{bidder: bid.Bidder, bid: bid})
	}

	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if entries[i].bid.Price < entries[j].bid.Price {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	result := &RankingResult{
		Ranks:         make(map[string]int, len(entries)),
		Bids:          make(map[string]*RevealedBid, len(entries)),
		SortedBidders: make([]string, len(entries)),
	}

	for rank, entry := range entries {
		result.Ranks[entry.bidder] = rank + 1
		result.Bids[entry.bidder] = entry.bid
		result.SortedBidders[rank] = entry.bidder
	}

	return result
}
