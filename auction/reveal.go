package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/fhe"
	"github.com/cloudx-io/sealedauction/oracle"
)

// CloseAndRequestReveal ends bidding and asks the oracle to reveal every bid, one request per
// bid in submission order. Owner only, strictly after the closing time. If any request cannot
// be issued the auction stays closed-but-unrequested and the call may be retried.
func (a *Auction) CloseAndRequestReveal(ctx context.Context, caller string) error {
	if err := a.enter(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return ErrNotOwner
	}
	if a.closed {
		return ErrAlreadySettled
	}
	now := a.now()
	if !now.After(a.closing) {
		return ErrAuctionStillOpen
	}

	deadline := now.Add(a.timeout)
	issued := make([]*DecryptionRequest, 0, len(a.bids))
	for _, bid := range a.bids {
		req, err := a.issueLocked(ctx, bid, deadline)
		if err != nil {
			// Callbacks for requests already issued will be rejected as unknown
			return fmt.Errorf("%w: bid from %s: %v", ErrRevealRequestFailed, bid.Bidder, err)
		}
		issued = append(issued, req)
	}

	for _, req := range issued {
		a.requests[req.ID] = req
		a.requestOrder = append(a.requestOrder, req.ID)
		a.emit(Event{Type: EventRevealRequested, Participant: req.Bidder, RequestID: string(req.ID)})
	}
	a.closed = true

	a.log.WithFields(logrus.Fields{
		"bids":     len(a.bids),
		"deadline": deadline.Format(time.RFC3339),
	}).Info("Auction closed, reveal requested")
	a.emit(Event{Type: EventAuctionClosed, Quantity: uint64(len(issued))})
	a.persist(ctx)

	return nil
}

func (a *Auction) issueLocked(ctx context.Context, bid *Bid, deadline time.Time) (*DecryptionRequest, error) {
	id, err := a.oracle.RequestReveal(ctx, oracle.RevealRequest{
		AuctionID:   a.id,
		Requester:   a.principal,
		Ciphertexts: []fhe.Handle{bid.Quantity, bid.Price},
		Deadline:    deadline,
		Callback:    a,
	})
	if err != nil {
		return nil, err
	}

	return &DecryptionRequest{
		ID:       id,
		Bidder:   bid.Bidder,
		Deadline: deadline,
		quantity: bid.Quantity,
		price:    bid.Price,
		done:     make(chan struct{}),
	}, nil
}

// OnRevealed receives a signed oracle callback. It implements oracle.Receiver.
func (a *Auction) OnRevealed(ctx context.Context, signed []byte) error {
	cb, err := a.verifier.Verify(signed)
	if err != nil {
		a.log.WithError(err).Warn("Rejected unauthenticated reveal callback")
		return fmt.Errorf("%w: %v", ErrUnauthorizedCallback, err)
	}
	if cb.AuctionID != a.id {
		return fmt.Errorf("%w: callback for auction %s", ErrUnknownRequest, cb.AuctionID)
	}
	return a.onRevealed(ctx, cb)
}

func (a *Auction) onRevealed(ctx context.Context, cb *auctionapi.RevealCallback) error {
	if err := a.enter(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	req, ok := a.requests[oracle.RequestID(cb.RequestID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, cb.RequestID)
	}
	if req.Done {
		return fmt.Errorf("%w: %s", ErrAlreadyRevealed, cb.RequestID)
	}
	if len(cb.Values) != 2 || len(cb.HandleIDs) != 2 ||
		cb.HandleIDs[0] != req.quantity.ID() || cb.HandleIDs[1] != req.price.ID() {
		return fmt.Errorf("%w: callback does not match the ciphertexts of request %s", ErrUnauthorizedCallback, cb.RequestID)
	}

	quantity, price := cb.Values[0], cb.Values[1]
	a.revealed[req.Bidder] = core.RevealedBid{Bidder: req.Bidder, Quantity: quantity, Price: price}
	req.Done = true
	close(req.done)

	logger := a.log.WithFields(logrus.Fields{"bidder": req.Bidder, "request": req.ID})
	logger.Info("Bid revealed")
	a.emit(Event{
		Type:        EventBidRevealed,
		Participant: req.Bidder,
		RequestID:   string(req.ID),
		Quantity:    quantity,
		Price:       price,
		Hash:        core.ComputeRevealHash(cb.RequestID, quantity, price),
	})

	if a.allRevealedLocked() {
		a.log.WithField("bids", len(a.requestOrder)).Info("All bids revealed")
	}
	a.persist(ctx)

	return nil
}

// AllRevealed reports whether every issued request has completed. It is false before the
// auction is closed.
func (a *Auction) AllRevealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed && a.allRevealedLocked()
}

func (a *Auction) allRevealedLocked() bool {
	for _, id := range a.requestOrder {
		if !a.requests[id].Done {
			return false
		}
	}
	return true
}

// AwaitReveal blocks until every request has completed or ctx is done.
func (a *Auction) AwaitReveal(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.mu.Unlock()
		return ErrAuctionStillOpen
	}
	pending := make([]chan struct{}, 0, len(a.requestOrder))
	for _, id := range a.requestOrder {
		pending = append(pending, a.requests[id].done)
	}
	a.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Requests returns all decryption requests in issue order.
func (a *Auction) Requests() []DecryptionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]DecryptionRequest, 0, len(a.requestOrder))
	for _, id := range a.requestOrder {
		out = append(out, *a.requests[id])
	}
	return out
}

// ExpiredRequests returns incomplete requests whose deadline is before now.
func (a *Auction) ExpiredRequests(now time.Time) []DecryptionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []DecryptionRequest
	for _, id := range a.requestOrder {
		req := a.requests[id]
		if !req.Done && now.After(req.Deadline) {
			out = append(out, *req)
		}
	}
	return out
}

// RetryExpiredRequests reissues every incomplete request past its deadline under a new id.
// Late callbacks for the replaced ids are then rejected as unknown. Owner only.
func (a *Auction) RetryExpiredRequests(ctx context.Context, caller string) (int, error) {
	if err := a.enter(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return 0, ErrNotOwner
	}
	if !a.closed {
		return 0, ErrAuctionStillOpen
	}
	if a.settled {
		return 0, ErrAlreadySettled
	}

	now := a.now()
	deadline := now.Add(a.timeout)
	retried := 0
	for i, id := range a.requestOrder {
		old := a.requests[id]
		if old.Done || !now.After(old.Deadline) {
			continue
		}

		bid := a.bidIndex[old.Bidder]
		req, err := a.issueLocked(ctx, bid, deadline)
		if err != nil {
			a.persist(ctx)
			return retried, fmt.Errorf("%w: bid from %s: %v", ErrRevealRequestFailed, bid.Bidder, err)
		}

		delete(a.requests, id)
		a.requests[req.ID] = req
		a.requestOrder[i] = req.ID
		retried++

		a.log.WithFields(logrus.Fields{"bidder": bid.Bidder, "old_request": id, "request": req.ID}).Warn("Expired reveal request reissued")
		a.emit(Event{Type: EventRevealRequested, Participant: bid.Bidder, RequestID: string(req.ID)})
	}

	if retried > 0 {
		a.persist(ctx)
	}
	return retried, nil
}
