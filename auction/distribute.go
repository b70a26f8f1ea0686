package auction

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
)

// DistributionProgress records which distribution steps have committed, so a failed
// DistributeFunds can be called again without repeating a transfer.
type DistributionProgress struct {
	WinnersPaid       int    `cbor:"winners_paid"`
	Proceeds          uint64 `cbor:"proceeds"`
	AssetsDistributed uint64 `cbor:"assets_distributed"`
	OwnerPaid         bool   `cbor:"owner_paid"`
	RefundsDone       int    `cbor:"refunds_done"`
	Refunded          uint64 `cbor:"refunded"`
	UnsoldDone        bool   `cbor:"unsold_done"`
	UnsoldReturned    uint64 `cbor:"unsold_returned"`
}

// Settlement is the outcome of a completed distribution.
type Settlement struct {
	ClearingPrice     uint64            `cbor:"clearing_price"`
	Allocations       []core.Allocation `cbor:"allocations"`
	OwnerProceeds     uint64            `cbor:"owner_proceeds"`
	Refunded          uint64            `cbor:"refunded"`
	AssetsDistributed uint64            `cbor:"assets_distributed"`
	UnsoldReturned    uint64            `cbor:"unsold_returned"`
	SettlementHash    string            `cbor:"settlement_hash"`
}

// DistributeFunds clears the revealed bids and settles them. Owner only, once every bid is
// revealed.
//
// Processing flow:
//  1. Clear the revealed bids at a uniform price
//  2. For each winner: debit payable from locked funds, transfer the allocated asset
//  3. Pay the owner the sum of payables
//  4. Refund every participant's remaining balance, zeroing it before the transfer
//  5. Return unsold asset to the owner
//
// A transfer failure aborts the call with the ledger restored for the failed step. Steps that
// completed are not repeated when the call is retried. Mutating calls made while transfers
// are in flight, including from ledger hooks, fail with ErrReentrantCall.
func (a *Auction) DistributeFunds(ctx context.Context, caller string) (*Settlement, error) {
	if err := a.enter(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return nil, ErrNotOwner
	}
	if a.settled {
		return nil, ErrAlreadySettled
	}
	if !a.closed || !a.allRevealedLocked() {
		return nil, ErrRevealIncomplete
	}

	if !a.distributing.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	defer a.distributing.Store(false)

	result := core.ClearUniformPrice(a.revealedInOrderLocked(), a.quantity)
	a.settlementPrice = result.ClearingPrice

	a.log.WithFields(logrus.Fields{
		"clearing_price": result.ClearingPrice,
		"sold":           result.Sold,
		"unsold":         result.Unsold,
		"resumed":        a.progress != DistributionProgress{},
	}).Infof("Distributing auction %s with %d bids", a.id, len(a.bids))

	err := a.distributeLocked(ctx, result)
	// Committed steps are saved even when a later one fails
	a.persist(ctx)
	if err != nil {
		a.log.WithError(err).Warn("Distribution aborted")
		return nil, err
	}

	settlement := &Settlement{
		ClearingPrice:     result.ClearingPrice,
		Allocations:       result.Allocations,
		OwnerProceeds:     a.progress.Proceeds,
		Refunded:          a.progress.Refunded,
		AssetsDistributed: a.progress.AssetsDistributed,
		UnsoldReturned:    a.progress.UnsoldReturned,
		SettlementHash:    core.ComputeSettlementHash(a.id, result),
	}
	a.settlement = settlement
	a.settled = true

	a.log.WithFields(logrus.Fields{
		"clearing_price": settlement.ClearingPrice,
		"proceeds":       settlement.OwnerProceeds,
		"refunded":       settlement.Refunded,
		"hash":           settlement.SettlementHash,
	}).Infof("Auction complete: %d units sold, %d returned", settlement.AssetsDistributed, settlement.UnsoldReturned)
	a.emit(Event{
		Type:     EventFundsDistributed,
		Amount:   settlement.OwnerProceeds,
		Quantity: settlement.AssetsDistributed,
		Price:    settlement.ClearingPrice,
		Hash:     settlement.SettlementHash,
	})
	a.persist(ctx)

	return settlement, nil
}

func (a *Auction) distributeLocked(ctx context.Context, result *core.ClearingResult) error {
	decimals := a.asset.Decimals()
	winners := result.Winners()
	account := a.rail.Account()

	for a.progress.WinnersPaid < len(winners) {
		w := winners[a.progress.WinnersPaid]

		payable, err := core.Payable(w.Quantity, w.Price, decimals)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerInvariant, err)
		}
		balance := a.locked[w.Bidder]
		if balance < payable {
			return fmt.Errorf("%w: %s owes %d but holds %d", ErrLedgerInvariant, w.Bidder, payable, balance)
		}

		a.locked[w.Bidder] = balance - payable
		if err := a.asset.Transfer(ctx, account, w.Bidder, w.Quantity); err != nil {
			a.locked[w.Bidder] = balance
			return fmt.Errorf("%w: %s: %v", ErrAssetTransferFailed, w.Bidder, err)
		}

		a.progress.WinnersPaid++
		a.progress.Proceeds += payable
		a.progress.AssetsDistributed += w.Quantity

		a.log.WithFields(logrus.Fields{
			"bidder":   w.Bidder,
			"quantity": w.Quantity,
			"payable":  payable,
		}).Debug("Winner settled")
	}

	if !a.progress.OwnerPaid {
		if a.progress.Proceeds > 0 {
			if err := a.rail.Pay(ctx, a.owner, a.progress.Proceeds); err != nil {
				return fmt.Errorf("%w: %v", ErrOwnerPaymentFailed, err)
			}
		}
		a.progress.OwnerPaid = true
	}

	for a.progress.RefundsDone < len(a.lockedOrder) {
		participant := a.lockedOrder[a.progress.RefundsDone]
		remainder := a.locked[participant]
		if remainder > 0 {
			a.locked[participant] = 0
			if err := a.rail.Pay(ctx, participant, remainder); err != nil {
				a.locked[participant] = remainder
				return fmt.Errorf("%w: %s: %v", ErrRefundFailed, participant, err)
			}
			a.progress.Refunded += remainder
			a.log.WithFields(logrus.Fields{"participant": participant, "amount": remainder}).Debug("Refunded")
		}
		a.progress.RefundsDone++
	}

	if !a.progress.UnsoldDone {
		if a.progress.AssetsDistributed > a.escrowed {
			return fmt.Errorf("%w: distributed %d of %d escrowed", ErrLedgerInvariant, a.progress.AssetsDistributed, a.escrowed)
		}
		unsold := a.escrowed - a.progress.AssetsDistributed
		if unsold > 0 {
			if err := a.asset.Transfer(ctx, account, a.owner, unsold); err != nil {
				return fmt.Errorf("%w: %v", ErrUnsoldReturnFailed, err)
			}
		}
		a.progress.UnsoldReturned = unsold
		a.progress.UnsoldDone = true
	}

	if a.progress.AssetsDistributed+a.progress.UnsoldReturned != a.escrowed {
		return fmt.Errorf("%w: assets %d+%d != escrowed %d", ErrLedgerInvariant,
			a.progress.AssetsDistributed, a.progress.UnsoldReturned, a.escrowed)
	}
	if a.progress.Proceeds+a.progress.Refunded != a.totalLocked {
		return fmt.Errorf("%w: payments %d+%d != locked %d", ErrLedgerInvariant,
			a.progress.Proceeds, a.progress.Refunded, a.totalLocked)
	}

	return nil
}

// Settlement returns the completed settlement, or nil before distribution.
func (a *Auction) Settlement() *Settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settlement == nil {
		return nil
	}
	s := *a.settlement
	return &s
}

// Receipt returns the public settlement record, or nil before distribution.
func (a *Auction) Receipt() *auctionapi.SettlementReceipt {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.settlement == nil {
		return nil
	}
	return &auctionapi.SettlementReceipt{
		AuctionID:      a.id,
		Supply:         a.quantity,
		AssetDecimals:  a.asset.Decimals(),
		RevealedBids:   a.revealedInOrderLocked(),
		Allocations:    a.settlement.Allocations,
		ClearingPrice:  a.settlement.ClearingPrice,
		OwnerProceeds:  a.settlement.OwnerProceeds,
		SettlementHash: a.settlement.SettlementHash,
	}
}
