package core

// RevealedBid is a bid after the oracle disclosed its plaintext values.
// Quantity is in asset base units, Price in payment base units per whole asset unit.
type RevealedBid struct {
	Bidder   string `json:"bidder" cbor:"bidder"`
	Quantity uint64 `json:"quantity" cbor:"quantity"`
	Price    uint64 `json:"price" cbor:"price"`
}

// Allocation is the share of the supply assigned to one bidder by the clearing engine.
type Allocation struct {
	Bidder   string `json:"bidder" cbor:"bidder"`
	Quantity uint64 `json:"quantity" cbor:"quantity"`
	// Price is the uniform clearing price, not the bidder's submitted price
	Price uint64 `json:"price" cbor:"price"`
}

// ClearingResult contains the complete result of clearing an auction.
type ClearingResult struct {
	// Allocations holds every ranked bid in clearing order, including zero allocations
	Allocations []Allocation

	// ClearingPrice is the price of the marginal bid (0 if nothing was allocated)
	ClearingPrice uint64

	// Sold is the total quantity allocated to winners
	Sold uint64

	// Unsold is the part of the supply nobody bid for
	Unsold uint64
}

// Winners returns the allocations with a nonzero quantity, in clearing order.
func (r *ClearingResult) Winners() []Allocation {
	winners := make([]Allocation, 0, len(r.Allocations))
	for _, a := range r.Allocations {
		if a.Quantity > 0 {
			winners = append(winners, a)
		}
	}
	return winners
}

// AllocationFor returns the allocation of a bidder, or the zero Allocation if the bidder
// took no part in the clearing.
func (r *ClearingResult) AllocationFor(bidder string) Allocation {
	for _, a := range r.Allocations {
		if a.Bidder == bidder {
			return a
		}
	}
	return Allocation{Bidder: bidder}
}
