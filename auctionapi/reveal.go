package auctionapi

import (
	"time"
)

// RevealCallback is the payload the oracle signs and delivers for a completed reveal request.
// It is CBOR-encoded inside a COSE_Sign1 message.
type RevealCallback struct {
	RequestID string `cbor:"1,keyasint" json:"request_id"`
	AuctionID string `cbor:"2,keyasint" json:"auction_id"`
	// HandleIDs are the identifiers of the ciphertexts that were opened, in request order
	HandleIDs []string `cbor:"3,keyasint" json:"handle_ids"`
	// Values are the plaintexts, one per handle
	Values   []uint64 `cbor:"4,keyasint" json:"values"`
	IssuedAt int64    `cbor:"5,keyasint" json:"issued_at"`
}

// OracleRevealRequest is sent to a remote oracle over vsock.
type OracleRevealRequest struct {
	Type        string    `json:"type"` // "reveal_request"
	RequestID   string    `json:"request_id"`
	AuctionID   string    `json:"auction_id"`
	Requester   string    `json:"requester"`
	Ciphertexts [][]byte  `json:"ciphertexts"`
	Deadline    time.Time `json:"deadline"`
}

// OracleRevealResponse carries the signed callback back to the requester.
type OracleRevealResponse struct {
	Type      string `json:"type"` // "reveal_response" or "error"
	RequestID string `json:"request_id,omitempty"`
	Signed    []byte `json:"signed,omitempty"`
	Message   string `json:"message,omitempty"`
}
