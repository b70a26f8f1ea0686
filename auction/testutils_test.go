package auction

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/fhe"
	"github.com/cloudx-io/sealedauction/ledger"
	"github.com/cloudx-io/sealedauction/oracle"
	"github.com/cloudx-io/sealedauction/validation"
)

const (
	testOwner   = "owner"
	testAccount = "auction-account"
)

var (
	testOpening = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testClosing = testOpening.Add(time.Hour)
)

// RSA key generation dominates setup time, so every test shares one backend
var (
	backendOnce   sync.Once
	backendShared *fhe.SealedBackend
	backendErr    error
)

func sharedBackend(t *testing.T) *fhe.SealedBackend {
	t.Helper()
	backendOnce.Do(func() {
		backendShared, backendErr = fhe.NewSealedBackend(fhe.SealedConfig{Logger: quietLogger()})
	})
	assert.NoError(t, backendErr)
	return backendShared
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harnessConfig struct {
	rail          ledger.RailKind
	supply        uint64
	assetDecimals uint8
	maxBids       int
	async         bool
	oracle        func(*oracle.Service) oracle.Oracle
}

type harnessOption func(*harnessConfig)

func withRail(kind ledger.RailKind) harnessOption {
	return func(c *harnessConfig) { c.rail = kind }
}

func withSupply(supply uint64) harnessOption {
	return func(c *harnessConfig) { c.supply = supply }
}

func withAssetDecimals(decimals uint8) harnessOption {
	return func(c *harnessConfig) { c.assetDecimals = decimals }
}

func withMaxBids(n int) harnessOption {
	return func(c *harnessConfig) { c.maxBids = n }
}

func withAsyncOracle() harnessOption {
	return func(c *harnessConfig) { c.async = true }
}

func withOracle(wrap func(*oracle.Service) oracle.Oracle) harnessOption {
	return func(c *harnessConfig) { c.oracle = wrap }
}

// harness wires an auction to in-memory ledgers, the shared sealed backend and a manual oracle.
type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *fakeClock
	backend *fhe.SealedBackend
	service *oracle.Service
	signer  *oracle.Signer
	asset   *ledger.MemoryToken
	money   *ledger.MemoryToken
	rail    ledger.Rail
	events  *EventLog
	config  Config
	auction *Auction
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{rail: ledger.RailToken, supply: 100, maxBids: 10}
	for _, opt := range opts {
		opt(&hc)
	}

	ctx := context.Background()
	clock := &fakeClock{now: testOpening.Add(time.Minute)}
	backend := sharedBackend(t)

	signer, err := oracle.NewSigner()
	assert.NoError(t, err)
	service, err := oracle.NewService(oracle.ServiceConfig{
		Decryptor: backend,
		Signer:    signer,
		Manual:    !hc.async,
		Clock:     clock.Now,
		Logger:    quietLogger(),
	})
	assert.NoError(t, err)
	if hc.async {
		service.Start(ctx)
		t.Cleanup(service.Stop)
	}

	verifier, err := validation.NewRevealVerifier(signer.PublicKey())
	assert.NoError(t, err)

	asset := ledger.NewMemoryToken("LOT", hc.assetDecimals)
	assert.NoError(t, asset.Mint(testOwner, hc.supply))
	assert.NoError(t, asset.Approve(ctx, testOwner, testAccount, hc.supply))

	var money *ledger.MemoryToken
	var rail ledger.Rail
	switch hc.rail {
	case ledger.RailNative:
		money = ledger.NewMemoryToken("ETH", 18)
		rail = ledger.NewNativeRail(money, testAccount)
	default:
		money = ledger.NewMemoryToken("USDC", 6)
		rail = ledger.NewTokenRail(money, testAccount)
	}

	var orc oracle.Oracle = service
	if hc.oracle != nil {
		orc = hc.oracle(service)
	}

	events := &EventLog{}
	config := Config{
		ID:              "auction-1",
		Owner:           testOwner,
		Asset:           asset,
		Rail:            rail,
		Quantity:        hc.supply,
		OpeningTime:     testOpening,
		ClosingTime:     testClosing,
		MaxParticipants: hc.maxBids,
		RevealTimeout:   10 * time.Minute,
		Evaluator:       backend,
		Oracle:          orc,
		Verifier:        verifier,
		Events:          events,
		Clock:           clock.Now,
		Logger:          quietLogger(),
	}

	a, err := New(ctx, config)
	assert.NoError(t, err)

	return &harness{
		t:       t,
		ctx:     ctx,
		clock:   clock,
		backend: backend,
		service: service,
		signer:  signer,
		asset:   asset,
		money:   money,
		rail:    rail,
		events:  events,
		config:  config,
		auction: a,
	}
}

func (h *harness) native() bool {
	return h.rail.Kind() == ledger.RailNative
}

// fund mints amount for participant and locks it.
func (h *harness) fund(participant string, amount uint64) {
	h.t.Helper()
	assert.NoError(h.t, h.lock(participant, amount))
}

func (h *harness) lock(participant string, amount uint64) error {
	h.t.Helper()
	assert.NoError(h.t, h.money.Mint(participant, amount))
	if h.native() {
		return h.auction.LockFunds(h.ctx, participant, amount, amount)
	}
	assert.NoError(h.t, h.money.Approve(h.ctx, participant, testAccount, h.money.Allowance(participant, testAccount)+amount))
	return h.auction.LockFunds(h.ctx, participant, amount, 0)
}

func (h *harness) proof(participant string, quantity, price uint64) *fhe.InputProof {
	h.t.Helper()
	proof, err := fhe.EncryptInput([]uint64{quantity, price}, h.backend.Keys().PublicKey,
		fhe.Binding{AuctionID: h.auction.ID(), Principal: participant}, fhe.HashAlgorithmSHA256)
	assert.NoError(h.t, err)
	return proof
}

func (h *harness) bid(participant string, quantity, price uint64) (bool, error) {
	h.t.Helper()
	return h.auction.PlaceEncryptedBid(h.ctx, participant, 0, 1, h.proof(participant, quantity, price), 0)
}

func (h *harness) mustBid(participant string, quantity, price uint64) {
	h.t.Helper()
	ok, err := h.bid(participant, quantity, price)
	assert.NoError(h.t, err)
	assert.True(h.t, ok)
}

func (h *harness) close() {
	h.t.Helper()
	h.clock.Set(testClosing.Add(time.Second))
	assert.NoError(h.t, h.auction.CloseAndRequestReveal(h.ctx, testOwner))
}

func (h *harness) revealAll() {
	h.t.Helper()
	for _, id := range h.service.Pending() {
		assert.NoError(h.t, h.service.Deliver(h.ctx, id))
	}
}

// revealed decrypts participant's masked bid the way the bidder would.
func (h *harness) revealed(participant string) (uint64, uint64) {
	h.t.Helper()
	for _, b := range h.auction.Bids() {
		if b.Bidder != participant {
			continue
		}
		q, err := h.backend.Decrypt(b.Quantity, participant)
		assert.NoError(h.t, err)
		p, err := h.backend.Decrypt(b.Price, participant)
		assert.NoError(h.t, err)
		return q, p
	}
	h.t.Fatalf("no bid from %s", participant)
	return 0, 0
}

// countTransfers counts history entries from -> to.
func countTransfers(tok *ledger.MemoryToken, from, to string) int {
	n := 0
	for _, tr := range tok.History() {
		if tr.From == from && tr.To == to {
			n++
		}
	}
	return n
}

// failingOracle fails RequestReveal calls while fail returns an error.
type failingOracle struct {
	inner oracle.Oracle
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (f *failingOracle) RequestReveal(ctx context.Context, req oracle.RevealRequest) (oracle.RequestID, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if err := f.fail(call); err != nil {
		return "", err
	}
	return f.inner.RequestReveal(ctx, req)
}

func failOnCall(n int) func(int) error {
	return func(call int) error {
		if call == n {
			return fmt.Errorf("oracle unavailable")
		}
		return nil
	}
}
