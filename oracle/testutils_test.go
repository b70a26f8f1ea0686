package oracle

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/fhe"
	"github.com/cloudx-io/sealedauction/validation"
)

const testRequester = "auction-principal"

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// recorder is a Receiver that keeps every verified callback.
type recorder struct {
	verifier *validation.RevealVerifier

	mu        sync.Mutex
	callbacks []*auctionapi.RevealCallback
	fail      error
	delivered chan struct{}
}

func newRecorder(t *testing.T, signer *Signer) *recorder {
	t.Helper()
	verifier, err := validation.NewRevealVerifier(signer.PublicKey())
	assert.NoError(t, err)
	return &recorder{verifier: verifier, delivered: make(chan struct{}, 64)}
}

func (r *recorder) OnRevealed(_ context.Context, signed []byte) error {
	cb, err := r.verifier.Verify(signed)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.callbacks = append(r.callbacks, cb)
	fail := r.fail
	r.mu.Unlock()

	r.delivered <- struct{}{}
	return fail
}

func (r *recorder) received() []*auctionapi.RevealCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*auctionapi.RevealCallback, len(r.callbacks))
	copy(out, r.callbacks)
	return out
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.delivered:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for callback %d of %d", i+1, n)
		}
	}
}

type testOracle struct {
	backend *fhe.SealedBackend
	signer  *Signer
	service *Service
	now     time.Time
	mu      sync.Mutex
}

func (o *testOracle) clock() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *testOracle) advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = o.now.Add(d)
}

func newTestOracle(t *testing.T, manual bool) *testOracle {
	t.Helper()

	backend, err := fhe.NewSealedBackend(fhe.SealedConfig{Logger: quietLogger()})
	assert.NoError(t, err)
	signer, err := NewSigner()
	assert.NoError(t, err)

	o := &testOracle{backend: backend, signer: signer, now: testNow}
	o.service, err = NewService(ServiceConfig{
		Decryptor: backend,
		Signer:    signer,
		Workers:   2,
		Manual:    manual,
		Clock:     o.clock,
		Logger:    quietLogger(),
	})
	assert.NoError(t, err)
	return o
}

// sealed encrypts values and grants the test requester access to each.
func (o *testOracle) sealed(t *testing.T, values ...uint64) []fhe.Handle {
	t.Helper()
	out := make([]fhe.Handle, len(values))
	for i, v := range values {
		h, err := o.backend.Encrypt(v)
		assert.NoError(t, err)
		assert.NoError(t, o.backend.Allow(h, testRequester))
		out[i] = h
	}
	return out
}

func (o *testOracle) request(handles []fhe.Handle, receiver Receiver) RevealRequest {
	return RevealRequest{
		AuctionID:   "auction-1",
		Requester:   testRequester,
		Ciphertexts: handles,
		Deadline:    testNow.Add(10 * time.Minute),
		Callback:    receiver,
	}
}

// mockAttester returns a Nitro-shaped COSE document echoing the user data it was given.
type mockAttester struct {
	fail error
}

func (m *mockAttester) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.fail != nil {
		return nil, m.fail
	}

	doc, err := cbor.Marshal(map[string]any{
		"module_id": "oracle-enclave-test",
		"digest":    "SHA384",
		"timestamp": uint64(testNow.UnixMilli()),
		"pcrs": map[uint64][]byte{
			0: make([]byte, 48),
			1: make([]byte, 48),
			2: make([]byte, 48),
		},
		"certificate": []byte("test-certificate"),
		"cabundle":    [][]byte{[]byte("test-ca")},
		"user_data":   options.UserData,
		"nonce":       options.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("encode mock document: %w", err)
	}

	return cbor.Marshal([]any{[]byte{0xa1, 0x01, 0x38, 0x22}, map[string]any{}, doc, []byte("signature")})
}
