// Package oracle decrypts sealed bid values on request and delivers the plaintexts back to the
// requester as signed callbacks.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/cloudx-io/sealedauction/fhe"
)

// RequestID identifies one reveal request. It is allocated by the oracle.
type RequestID string

// RevealRequest asks the oracle to open Ciphertexts on behalf of Requester, which must hold
// decrypt rights on every handle. The result is delivered to Callback at most once.
type RevealRequest struct {
	AuctionID   string
	Requester   string
	Ciphertexts []fhe.Handle
	Deadline    time.Time
	Callback    Receiver
}

// Oracle accepts reveal requests. RequestReveal never delivers synchronously: the callback
// always runs after RequestReveal returns.
type Oracle interface {
	RequestReveal(ctx context.Context, req RevealRequest) (RequestID, error)
}

// Receiver consumes signed reveal callbacks (COSE_Sign1 over a CBOR auctionapi.RevealCallback).
type Receiver interface {
	OnRevealed(ctx context.Context, signed []byte) error
}

var (
	ErrUnknownRequest   = errors.New("unknown reveal request")
	ErrAlreadyDelivered = errors.New("reveal already delivered")
	ErrDeadlinePassed   = errors.New("reveal deadline passed")
	ErrNotAllowed       = errors.New("requester may not decrypt ciphertext")
	ErrStopped          = errors.New("oracle stopped")
)

func validateRequest(req RevealRequest) error {
	if req.Requester == "" {
		return errors.New("reveal request has no requester")
	}
	if len(req.Ciphertexts) == 0 {
		return errors.New("reveal request has no ciphertexts")
	}
	if req.Deadline.IsZero() {
		return errors.New("reveal request has no deadline")
	}
	return nil
}
