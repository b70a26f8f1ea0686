package core

import (
	"crypto/sha256"
	"fmt"
)

// ComputeBidHash computes the commitment to a sealed bid.
// Both ciphertexts are hashed so the commitment changes if either is replaced.
//
// Formula: SHA256(auction_id + "|" + bidder + "|" + hex(quantity_ct) + "|" + hex(price_ct))
func ComputeBidHash(auctionID, bidder string, quantityCiphertext, priceCiphertext []byte) string {
	data := fmt.Sprintf("%s|%s|%x|%x", auctionID, bidder, quantityCiphertext, priceCiphertext)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeRevealHash computes the hash the oracle signs over for one reveal.
//
// Formula: SHA256(request_id + "|" + quantity + "|" + price)
func ComputeRevealHash(requestID string, quantity, price uint64) string {
	data := fmt.Sprintf("%s|%d|%d", requestID, quantity, price)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeSettlementHash commits to the outcome of a settled auction.
//
// Formula: SHA256(auction_id + "|" + clearing_price + "|" + allocations)
// where allocations = "bidder1:qty1|bidder2:qty2|..." in clearing order, zero allocations
// included so the full ranking is covered.
func ComputeSettlementHash(auctionID string, result *ClearingResult) string {
	data := fmt.Sprintf("%s|%d", auctionID, result.ClearingPrice)
	for _, a := range result.Allocations {
		data += fmt.Sprintf("|%s:%d", a.Bidder, a.Quantity)
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
