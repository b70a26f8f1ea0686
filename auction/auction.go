// Package auction runs a sealed-bid, uniform-price auction over encrypted bids.
//
// Bidders lock collateral and submit encrypted (quantity, price) pairs while the auction is
// open. Bids that the collateral cannot cover are zeroed inside the encrypted domain, so a
// rejected bid is indistinguishable from a bid for nothing. After the closing time the owner
// asks the decryption oracle to reveal every bid; callbacks arrive in any order. Once all bids
// are revealed the supply is cleared at a single price and funds and assets are distributed
// exactly once, with every unused unit of collateral refunded.
package auction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/fhe"
	"github.com/cloudx-io/sealedauction/ledger"
	"github.com/cloudx-io/sealedauction/oracle"
)

const defaultRevealTimeout = time.Hour

// Status is the lifecycle stage of an auction.
type Status string

const (
	StatusPending        Status = "pending"
	StatusOpen           Status = "open"
	StatusClosed         Status = "closed"
	StatusRevealPending  Status = "reveal_pending"
	StatusRevealComplete Status = "reveal_complete"
	StatusSettled        Status = "settled"
)

// CallbackVerifier authenticates a signed oracle callback and decodes it.
type CallbackVerifier interface {
	Verify(signed []byte) (*auctionapi.RevealCallback, error)
}

// SnapshotSaver persists auction state after every committed change.
type SnapshotSaver interface {
	Save(ctx context.Context, snap *Snapshot) error
}

// Config defines an auction and its collaborators.
type Config struct {
	// ID is generated when empty
	ID    string
	Owner string
	// Asset is the token being sold; Quantity of it is escrowed from Owner on creation
	Asset ledger.Token
	// Rail carries payments. Its account also holds the escrowed asset.
	Rail            ledger.Rail
	Quantity        uint64
	OpeningTime     time.Time
	ClosingTime     time.Time
	MaxParticipants int
	// RevealTimeout is added to the close time to form each request deadline
	RevealTimeout time.Duration

	Evaluator fhe.Evaluator
	Oracle    oracle.Oracle
	Verifier  CallbackVerifier

	Events EventSink
	Store  SnapshotSaver
	Clock  func() time.Time
	Logger *logrus.Logger
}

// Bid is one participant's sealed bid. Quantity and Price are the values after masking.
type Bid struct {
	Bidder   string
	Quantity fhe.Handle
	Price    fhe.Handle
	PlacedAt time.Time
	// Hash commits to both ciphertexts
	Hash string
}

// DecryptionRequest tracks one outstanding reveal.
type DecryptionRequest struct {
	ID       oracle.RequestID
	Bidder   string
	Deadline time.Time
	Done     bool

	quantity fhe.Handle
	price    fhe.Handle
	done     chan struct{}
}

// Auction is a single sealed-bid uniform-price auction. It is safe for concurrent use.
//
// Every state-changing operation runs under one mutex, so operations are serialized. While
// funds are being distributed, any mutating call fails with ErrReentrantCall instead of
// blocking. Views block on the mutex and must not be called from ledger hooks.
type Auction struct {
	id        string
	principal string
	owner     string
	asset     ledger.Token
	rail      ledger.Rail
	quantity  uint64
	opening   time.Time
	closing   time.Time
	maxBids   int
	timeout   time.Duration
	scale     uint64

	eval     fhe.Evaluator
	oracle   oracle.Oracle
	verifier CallbackVerifier
	events   EventSink
	store    SnapshotSaver
	now      func() time.Time
	log      *logrus.Entry

	distributing atomic.Bool

	mu sync.Mutex

	bids     []*Bid
	bidIndex map[string]*Bid

	locked      map[string]uint64
	lockedOrder []string
	totalLocked uint64

	requests     map[oracle.RequestID]*DecryptionRequest
	requestOrder []oracle.RequestID
	revealed     map[string]core.RevealedBid
	closed       bool

	escrowed        uint64
	settlementPrice uint64
	settled         bool
	progress        DistributionProgress
	settlement      *Settlement

	zero fhe.Handle
}

// New validates config, escrows the asset from the owner and returns an auction ready for
// funding and bidding. The owner must have approved the rail account for Quantity of Asset.
func New(ctx context.Context, config Config) (*Auction, error) {
	a, err := build(config)
	if err != nil {
		return nil, err
	}

	if err := a.asset.TransferFrom(ctx, a.rail.Account(), a.owner, a.rail.Account(), a.quantity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEscrowFailed, err)
	}
	a.escrowed = a.quantity

	a.log.WithFields(logrus.Fields{
		"owner":    a.owner,
		"quantity": a.quantity,
		"rail":     a.rail.Kind(),
		"opening":  a.opening.Format(time.RFC3339),
		"closing":  a.closing.Format(time.RFC3339),
	}).Info("Auction created")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.emit(Event{Type: EventAuctionCreated, Participant: a.owner, Quantity: a.quantity})
	a.persist(ctx)

	return a, nil
}

func build(config Config) (*Auction, error) {
	if config.Owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidConfig)
	}
	if config.Asset == nil || config.Rail == nil {
		return nil, fmt.Errorf("%w: asset and payment rail are required", ErrInvalidConfig)
	}
	if config.Evaluator == nil || config.Oracle == nil || config.Verifier == nil {
		return nil, fmt.Errorf("%w: evaluator, oracle and verifier are required", ErrInvalidConfig)
	}
	if config.Quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidConfig)
	}
	if !config.ClosingTime.After(config.OpeningTime) {
		return nil, fmt.Errorf("%w: closing time must be after opening time", ErrInvalidConfig)
	}
	if config.MaxParticipants <= 0 {
		return nil, fmt.Errorf("%w: max participants must be positive", ErrInvalidConfig)
	}

	scale, err := core.PriceScale(config.Asset.Decimals())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	if config.RevealTimeout <= 0 {
		config.RevealTimeout = defaultRevealTimeout
	}
	if config.Events == nil {
		config.Events = discardSink{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	zero, err := config.Evaluator.Encrypt(0)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt zero constant: %w", err)
	}

	return &Auction{
		id:        config.ID,
		principal: "auction:" + config.ID,
		owner:     config.Owner,
		asset:     config.Asset,
		rail:      config.Rail,
		quantity:  config.Quantity,
		opening:   config.OpeningTime,
		closing:   config.ClosingTime,
		maxBids:   config.MaxParticipants,
		timeout:   config.RevealTimeout,
		scale:     scale,
		eval:      config.Evaluator,
		oracle:    config.Oracle,
		verifier:  config.Verifier,
		events:    config.Events,
		store:     config.Store,
		now:       config.Clock,
		log:       config.Logger.WithField("auction", config.ID),
		bidIndex:  make(map[string]*Bid),
		locked:    make(map[string]uint64),
		requests:  make(map[oracle.RequestID]*DecryptionRequest),
		revealed:  make(map[string]core.RevealedBid),
		zero:      zero,
	}, nil
}

// ID returns the auction identifier.
func (a *Auction) ID() string { return a.id }

// Owner returns the owner identity.
func (a *Auction) Owner() string { return a.owner }

// Principal is the identity the auction holds decrypt rights under.
func (a *Auction) Principal() string { return a.principal }

// Account is the ledger account holding escrowed asset and locked funds.
func (a *Auction) Account() string { return a.rail.Account() }

// Status reports the lifecycle stage at the current time.
func (a *Auction) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Auction) statusLocked() Status {
	switch {
	case a.settled:
		return StatusSettled
	case a.closed && a.allRevealedLocked():
		return StatusRevealComplete
	case a.closed:
		return StatusRevealPending
	}

	now := a.now()
	switch {
	case now.Before(a.opening):
		return StatusPending
	case now.After(a.closing):
		return StatusClosed
	default:
		return StatusOpen
	}
}

// View returns the public summary of the auction.
func (a *Auction) View() auctionapi.AuctionView {
	a.mu.Lock()
	defer a.mu.Unlock()

	return auctionapi.AuctionView{
		ID:              a.id,
		Owner:           a.owner,
		Asset:           a.asset.Symbol(),
		Rail:            string(a.rail.Kind()),
		Quantity:        a.quantity,
		OpeningTime:     a.opening,
		ClosingTime:     a.closing,
		MaxParticipants: a.maxBids,
		Status:          string(a.statusLocked()),
		BidCount:        len(a.bids),
		SettlementPrice: a.settlementPrice,
		Settled:         a.settled,
	}
}

// Bids returns all encrypted bids in submission order.
func (a *Auction) Bids() []Bid {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Bid, len(a.bids))
	for i, b := range a.bids {
		out[i] = *b
	}
	return out
}

// RevealedBids returns the revealed bids in submission order. Unrevealed bids are omitted.
func (a *Auction) RevealedBids() []core.RevealedBid {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revealedInOrderLocked()
}

func (a *Auction) revealedInOrderLocked() []core.RevealedBid {
	out := make([]core.RevealedBid, 0, len(a.revealed))
	for _, b := range a.bids {
		if rb, ok := a.revealed[b.Bidder]; ok {
			out = append(out, rb)
		}
	}
	return out
}

// LockedBalance returns the collateral currently held for participant.
func (a *Auction) LockedBalance(participant string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked[participant]
}

// TotalLocked returns the cumulative amount ever locked.
func (a *Auction) TotalLocked() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalLocked
}

// SettlementPrice returns the clearing price, or 0 before distribution.
func (a *Auction) SettlementPrice() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settlementPrice
}

func (a *Auction) emit(e Event) {
	e.AuctionID = a.id
	if e.At.IsZero() {
		e.At = a.now()
	}
	a.events.Emit(e)
}

// persist saves a snapshot if a store is configured. Failures are logged; the in-memory state
// is authoritative.
func (a *Auction) persist(ctx context.Context) {
	if a.store == nil {
		return
	}
	if err := a.store.Save(ctx, a.snapshotLocked()); err != nil {
		a.log.WithError(err).Error("Failed to persist auction snapshot")
	}
}

// enter rejects mutating calls made while funds are in motion.
func (a *Auction) enter() error {
	if a.distributing.Load() {
		return ErrReentrantCall
	}
	return nil
}
