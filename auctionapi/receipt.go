package auctionapi

import (
	"github.com/cloudx-io/sealedauction/core"
)

// SettlementReceipt is the public record of a settled auction. Everything in it is public once
// distribution completes, so any participant can recompute the clearing from it.
type SettlementReceipt struct {
	AuctionID      string             `json:"auction_id" cbor:"auction_id"`
	Supply         uint64             `json:"supply" cbor:"supply"`
	AssetDecimals  uint8              `json:"asset_decimals" cbor:"asset_decimals"`
	RevealedBids   []core.RevealedBid `json:"revealed_bids" cbor:"revealed_bids"`
	Allocations    []core.Allocation  `json:"allocations" cbor:"allocations"`
	ClearingPrice  uint64             `json:"clearing_price" cbor:"clearing_price"`
	OwnerProceeds  uint64             `json:"owner_proceeds" cbor:"owner_proceeds"`
	SettlementHash string             `json:"settlement_hash" cbor:"settlement_hash"`
}
