package auction

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/ledger"
)

// LockFunds adds amount to participant's collateral. On a native rail attached is the value
// sent with the call and must equal amount; on a token rail the amount is pulled through the
// participant's allowance and attached must be zero. Funds can be locked until the closing
// time.
func (a *Auction) LockFunds(ctx context.Context, participant string, amount, attached uint64) error {
	if err := a.enter(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if participant == "" {
		return ErrInvalidParticipant
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if a.closed || a.now().After(a.closing) {
		return ErrAuctionNotOpen
	}

	switch a.rail.Kind() {
	case ledger.RailNative:
		if amount != attached {
			return fmt.Errorf("%w: amount %d, attached %d", ErrPaymentMismatch, amount, attached)
		}
	default:
		if attached != 0 {
			return fmt.Errorf("%w: token rail does not accept attached value", ErrPaymentMismatch)
		}
	}

	if err := a.lockLocked(ctx, participant, amount); err != nil {
		return err
	}

	a.persist(ctx)
	return nil
}

// lockLocked collects amount through the rail and credits it. Nothing is credited if the
// transfer fails.
func (a *Auction) lockLocked(ctx context.Context, participant string, amount uint64) error {
	balance := a.locked[participant]
	if balance+amount < balance || a.totalLocked+amount < a.totalLocked {
		return fmt.Errorf("%w: locked balance overflow", ErrInvalidAmount)
	}

	if err := a.rail.Collect(ctx, participant, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentTransferFailed, err)
	}

	if _, seen := a.locked[participant]; !seen {
		a.lockedOrder = append(a.lockedOrder, participant)
	}
	a.locked[participant] = balance + amount
	a.totalLocked += amount

	a.log.WithFields(logrus.Fields{
		"participant": participant,
		"amount":      amount,
		"locked":      a.locked[participant],
	}).Info("Funds locked")
	a.emit(Event{Type: EventFundsLocked, Participant: participant, Amount: amount})

	return nil
}
