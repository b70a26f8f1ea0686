package auction

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/fhe"
	"github.com/cloudx-io/sealedauction/ledger"
)

// PlaceEncryptedBid records participant's sealed (quantity, price) pair, selected from proof.
//
// Processing flow (all on ciphertexts):
//  1. notional = price × quantity / 10^assetDecimals
//  2. ok = locked ≥ notional, and on a native rail also locked == attached
//  3. quantity, price = ok ? (quantity, price) : (0, 0)
//  4. record the pair and grant decrypt rights to the auction and the bidder
//
// A bid the collateral does not cover is accepted with both values zeroed and the call
// reports success. On a native rail a nonzero attached value is locked as part of the call.
func (a *Auction) PlaceEncryptedBid(ctx context.Context, participant string, quantity, price fhe.ExternalValue, proof *fhe.InputProof, attached uint64) (bool, error) {
	if err := a.enter(); err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if participant == "" {
		return false, ErrInvalidParticipant
	}

	now := a.now()
	if a.closed || now.Before(a.opening) || now.After(a.closing) {
		return false, ErrAuctionNotOpen
	}
	if _, ok := a.bidIndex[participant]; ok {
		return false, ErrAlreadyBid
	}
	if len(a.bids) >= a.maxBids {
		return false, ErrCapacityExceeded
	}

	native := a.rail.Kind() == ledger.RailNative
	if !native && attached != 0 {
		return false, fmt.Errorf("%w: token rail does not accept attached value", ErrPaymentMismatch)
	}

	binding := fhe.Binding{AuctionID: a.id, Principal: participant}
	encQuantity, err := a.eval.Ingest(quantity, proof, binding)
	if err != nil {
		return false, fmt.Errorf("%w: quantity: %v", ErrInvalidInput, err)
	}
	encPrice, err := a.eval.Ingest(price, proof, binding)
	if err != nil {
		return false, fmt.Errorf("%w: price: %v", ErrInvalidInput, err)
	}

	// The check runs against the balance as it will be once attached value is locked
	lockedAfter := a.locked[participant]
	if native && attached > 0 {
		if lockedAfter+attached < lockedAfter {
			return false, fmt.Errorf("%w: locked balance overflow", ErrInvalidAmount)
		}
		lockedAfter += attached
	}

	maskedQuantity, maskedPrice, err := a.mask(encQuantity, encPrice, lockedAfter, attached, native)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	for _, h := range []fhe.Handle{maskedQuantity, maskedPrice} {
		for _, principal := range []string{a.principal, participant} {
			if err := a.eval.Allow(h, principal); err != nil {
				return false, fmt.Errorf("failed to grant decrypt rights: %w", err)
			}
		}
	}

	if native && attached > 0 {
		if err := a.lockLocked(ctx, participant, attached); err != nil {
			return false, err
		}
	}

	bid := &Bid{
		Bidder:   participant,
		Quantity: maskedQuantity,
		Price:    maskedPrice,
		PlacedAt: now,
		Hash:     core.ComputeBidHash(a.id, participant, maskedQuantity, maskedPrice),
	}
	a.bids = append(a.bids, bid)
	a.bidIndex[participant] = bid

	a.log.WithFields(logrus.Fields{
		"bidder": participant,
		"hash":   bid.Hash,
		"bids":   len(a.bids),
	}).Info("Encrypted bid placed")
	a.emit(Event{Type: EventBidPlaced, Participant: participant, Hash: bid.Hash})
	a.persist(ctx)

	return true, nil
}

// mask zeroes quantity and price unless locked covers the notional (and, on a native rail,
// equals attached). Only ciphertexts are produced; no branch depends on bid values.
func (a *Auction) mask(quantity, price fhe.Handle, locked, attached uint64, native bool) (fhe.Handle, fhe.Handle, error) {
	product, err := a.eval.Mul(price, quantity)
	if err != nil {
		return nil, nil, err
	}
	notional, err := a.eval.DivPlain(product, a.scale)
	if err != nil {
		return nil, nil, err
	}

	encLocked, err := a.eval.Encrypt(locked)
	if err != nil {
		return nil, nil, err
	}
	ok, err := a.eval.Ge(encLocked, notional)
	if err != nil {
		return nil, nil, err
	}

	if native {
		encAttached, err := a.eval.Encrypt(attached)
		if err != nil {
			return nil, nil, err
		}
		matches, err := a.eval.Eq(encLocked, encAttached)
		if err != nil {
			return nil, nil, err
		}
		if ok, err = a.eval.And(ok, matches); err != nil {
			return nil, nil, err
		}
	}

	maskedQuantity, err := a.eval.Select(ok, quantity, a.zero)
	if err != nil {
		return nil, nil, err
	}
	maskedPrice, err := a.eval.Select(ok, price, a.zero)
	if err != nil {
		return nil, nil, err
	}
	return maskedQuantity, maskedPrice, nil
}
