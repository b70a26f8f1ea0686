package auction

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/fhe"
	"github.com/cloudx-io/sealedauction/oracle"
)

// Snapshot is the persisted state of an auction. Collaborators (ledger, evaluator, oracle) are
// not part of it and are supplied again on Restore.
type Snapshot struct {
	ID              string        `cbor:"id"`
	Owner           string        `cbor:"owner"`
	Asset           string        `cbor:"asset"`
	Rail            string        `cbor:"rail"`
	Quantity        uint64        `cbor:"quantity"`
	OpeningTime     time.Time     `cbor:"opening_time"`
	ClosingTime     time.Time     `cbor:"closing_time"`
	MaxParticipants int           `cbor:"max_participants"`
	RevealTimeout   time.Duration `cbor:"reveal_timeout"`

	Bids     []SnapshotBid      `cbor:"bids"`
	Locked   []SnapshotBalance  `cbor:"locked"`
	Total    uint64             `cbor:"total_locked"`
	Requests []SnapshotRequest  `cbor:"requests"`
	Revealed []core.RevealedBid `cbor:"revealed"`
	Closed   bool               `cbor:"closed"`

	Escrowed        uint64               `cbor:"escrowed"`
	SettlementPrice uint64               `cbor:"settlement_price"`
	Settled         bool                 `cbor:"settled"`
	Progress        DistributionProgress `cbor:"progress"`
	Settlement      *Settlement          `cbor:"settlement,omitempty"`
}

type SnapshotBid struct {
	Bidder   string     `cbor:"bidder"`
	Quantity fhe.Handle `cbor:"quantity"`
	Price    fhe.Handle `cbor:"price"`
	PlacedAt time.Time  `cbor:"placed_at"`
	Hash     string     `cbor:"hash"`
}

type SnapshotBalance struct {
	Participant string `cbor:"participant"`
	Amount      uint64 `cbor:"amount"`
}

type SnapshotRequest struct {
	ID       oracle.RequestID `cbor:"id"`
	Bidder   string           `cbor:"bidder"`
	Deadline time.Time        `cbor:"deadline"`
	Done     bool             `cbor:"done"`
}

var snapshotEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeSnapshot serializes a snapshot to CBOR.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := snapshotEncMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a snapshot produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Snapshot returns the current persisted form of the auction.
func (a *Auction) Snapshot() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Auction) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		ID:              a.id,
		Owner:           a.owner,
		Asset:           a.asset.Symbol(),
		Rail:            string(a.rail.Kind()),
		Quantity:        a.quantity,
		OpeningTime:     a.opening,
		ClosingTime:     a.closing,
		MaxParticipants: a.maxBids,
		RevealTimeout:   a.timeout,
		Bids:            make([]SnapshotBid, 0, len(a.bids)),
		Locked:          make([]SnapshotBalance, 0, len(a.lockedOrder)),
		Total:           a.totalLocked,
		Requests:        make([]SnapshotRequest, 0, len(a.requestOrder)),
		Revealed:        a.revealedInOrderLocked(),
		Closed:          a.closed,
		Escrowed:        a.escrowed,
		SettlementPrice: a.settlementPrice,
		Settled:         a.settled,
		Progress:        a.progress,
	}

	for _, b := range a.bids {
		snap.Bids = append(snap.Bids, SnapshotBid{
			Bidder:   b.Bidder,
			Quantity: b.Quantity,
			Price:    b.Price,
			PlacedAt: b.PlacedAt,
			Hash:     b.Hash,
		})
	}
	for _, p := range a.lockedOrder {
		snap.Locked = append(snap.Locked, SnapshotBalance{Participant: p, Amount: a.locked[p]})
	}
	for _, id := range a.requestOrder {
		r := a.requests[id]
		snap.Requests = append(snap.Requests, SnapshotRequest{ID: r.ID, Bidder: r.Bidder, Deadline: r.Deadline, Done: r.Done})
	}
	if a.settlement != nil {
		s := *a.settlement
		snap.Settlement = &s
	}

	return snap
}

// Restore rebuilds an auction from a snapshot. Identity and schedule come from the snapshot;
// config supplies the collaborators. The asset is not escrowed again.
//
// Pending requests keep their ids, but an oracle restarted with the process will not answer
// them. They surface in ExpiredRequests once past their deadline and can be reissued with
// RetryExpiredRequests.
func Restore(config Config, snap *Snapshot) (*Auction, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidConfig)
	}
	if config.Rail != nil && string(config.Rail.Kind()) != snap.Rail {
		return nil, fmt.Errorf("%w: snapshot uses %s rail, config has %s", ErrInvalidConfig, snap.Rail, config.Rail.Kind())
	}

	config.ID = snap.ID
	config.Owner = snap.Owner
	config.Quantity = snap.Quantity
	config.OpeningTime = snap.OpeningTime
	config.ClosingTime = snap.ClosingTime
	config.MaxParticipants = snap.MaxParticipants
	config.RevealTimeout = snap.RevealTimeout

	a, err := build(config)
	if err != nil {
		return nil, err
	}

	byBidder := make(map[string]SnapshotBid, len(snap.Bids))
	for _, sb := range snap.Bids {
		bid := &Bid{Bidder: sb.Bidder, Quantity: sb.Quantity, Price: sb.Price, PlacedAt: sb.PlacedAt, Hash: sb.Hash}
		a.bids = append(a.bids, bid)
		a.bidIndex[bid.Bidder] = bid
		byBidder[sb.Bidder] = sb
	}

	for _, bal := range snap.Locked {
		a.lockedOrder = append(a.lockedOrder, bal.Participant)
		a.locked[bal.Participant] = bal.Amount
	}
	a.totalLocked = snap.Total

	for _, sr := range snap.Requests {
		sb, ok := byBidder[sr.Bidder]
		if !ok {
			return nil, fmt.Errorf("%w: request %s for unknown bidder %s", ErrInvalidConfig, sr.ID, sr.Bidder)
		}
		req := &DecryptionRequest{
			ID:       sr.ID,
			Bidder:   sr.Bidder,
			Deadline: sr.Deadline,
			Done:     sr.Done,
			quantity: sb.Quantity,
			price:    sb.Price,
			done:     make(chan struct{}),
		}
		if req.Done {
			close(req.done)
		}
		a.requests[req.ID] = req
		a.requestOrder = append(a.requestOrder, req.ID)
	}

	for _, rb := range snap.Revealed {
		a.revealed[rb.Bidder] = rb
	}

	a.closed = snap.Closed
	a.escrowed = snap.Escrowed
	a.settlementPrice = snap.SettlementPrice
	a.settled = snap.Settled
	a.progress = snap.Progress
	if snap.Settlement != nil {
		s := *snap.Settlement
		a.settlement = &s
	}

	a.log.WithFields(logrus.Fields{
		"status": a.statusLocked(),
		"bids":   len(a.bids),
	}).Info("Auction restored from snapshot")

	return a, nil
}
