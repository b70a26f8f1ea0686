package auctionapi

import (
	"time"

	"github.com/cloudx-io/sealedauction/fhe"
)

// ParticipantHeader carries the caller identity on API requests.
const ParticipantHeader = "X-Participant"

// AttachedValueHeader carries the native value attached to a call.
const AttachedValueHeader = "X-Attached-Value"

type LockFundsRequest struct {
	Amount uint64 `json:"amount"`
}

// PlaceBidRequest submits an input proof carrying quantity and price.
type PlaceBidRequest struct {
	Proof *fhe.InputProof `json:"proof"`
	// QuantityIndex and PriceIndex select values from the proof; they default to 0 and 1
	QuantityIndex *uint8 `json:"quantity_index,omitempty"`
	PriceIndex    *uint8 `json:"price_index,omitempty"`
}

type PlaceBidResponse struct {
	Accepted bool   `json:"accepted"`
	BidHash  string `json:"bid_hash"`
}

// AuctionView is the public state of an auction.
type AuctionView struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Asset           string    `json:"asset"`
	Rail            string    `json:"rail"`
	Quantity        uint64    `json:"quantity"`
	OpeningTime     time.Time `json:"opening_time"`
	ClosingTime     time.Time `json:"closing_time"`
	MaxParticipants int       `json:"max_participants"`
	Status          string    `json:"status"`
	BidCount        int       `json:"bid_count"`
	SettlementPrice uint64    `json:"settlement_price"`
	Settled         bool      `json:"settled"`
	InputPublicKey  string    `json:"input_public_key,omitempty"`
}

// BidView is an encrypted bid as seen by anyone.
type BidView struct {
	Bidder   string    `json:"bidder"`
	Quantity []byte    `json:"quantity"`
	Price    []byte    `json:"price"`
	PlacedAt time.Time `json:"placed_at"`
	Hash     string    `json:"hash"`
}

type RequestView struct {
	ID       string    `json:"id"`
	Bidder   string    `json:"bidder"`
	Deadline time.Time `json:"deadline"`
	Done     bool      `json:"done"`
}

type BalanceResponse struct {
	Participant string `json:"participant"`
	Locked      uint64 `json:"locked"`
}

type RetryResponse struct {
	Retried int `json:"retried"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
