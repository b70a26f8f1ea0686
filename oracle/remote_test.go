package oracle

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/fhe"
)

// serveTCP runs a Server on a loopback listener and returns a RemoteOracle dialing it.
func serveTCP(t *testing.T, o *testOracle, attester Attester) *RemoteOracle {
	t.Helper()

	inputKey, err := o.backend.InputPublicKeyPEM()
	assert.NoError(t, err)
	server, err := NewServer(ServerConfig{
		Service:     o.service,
		InputKeyPEM: inputKey,
		Attester:    attester,
		MaxWorkers:  4,
		Logger:      quietLogger(),
	})
	assert.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	addr := listener.Addr().String()
	dial := func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	return NewRemoteOracle(dial, quietLogger())
}

func TestNewServer_Validation(t *testing.T) {
	o := newTestOracle(t, true)

	_, err := NewServer(ServerConfig{MaxWorkers: 1})
	check.Error(t, err)

	_, err = NewServer(ServerConfig{Service: o.service})
	check.Error(t, err)
}

func TestRemoteOracle_Ping(t *testing.T) {
	o := newTestOracle(t, true)
	remote := serveTCP(t, o, nil)

	assert.NoError(t, remote.Ping(context.Background()))
}

func TestRemoteOracle_Keys(t *testing.T) {
	o := newTestOracle(t, true)
	remote := serveTCP(t, o, &mockAttester{})

	keys, err := remote.Keys(context.Background())
	assert.NoError(t, err)

	signingPEM, err := o.signer.PublicKeyPEM()
	assert.NoError(t, err)
	inputPEM, err := o.backend.InputPublicKeyPEM()
	assert.NoError(t, err)
	check.Equal(t, signingPEM, keys.PublicKey)
	check.Equal(t, inputPEM, keys.InputPublicKey)

	attestation, err := keys.AttestationCOSEBase64.Decode()
	assert.NoError(t, err)
	_, userDataBytes, err := attestation.ParseAttestationDoc()
	assert.NoError(t, err)

	var userData auctionapi.OracleKeyUserData
	assert.NoError(t, json.Unmarshal(userDataBytes, &userData))
	check.Equal(t, signingPEM, userData.PublicKey)
	check.Equal(t, inputPEM, userData.InputPublicKey)
}

func TestRemoteOracle_KeysWithoutAttester(t *testing.T) {
	o := newTestOracle(t, true)
	remote := serveTCP(t, o, nil)

	keys, err := remote.Keys(context.Background())
	assert.NoError(t, err)
	check.Equal(t, auctionapi.AttestationCOSEBase64(""), keys.AttestationCOSEBase64)
}

func TestRemoteOracle_RevealRoundTrip(t *testing.T) {
	o := newTestOracle(t, true)
	remote := serveTCP(t, o, nil)
	rec := newRecorder(t, o.signer)

	handles := o.sealed(t, 800, 1)
	req := o.request(handles, rec)
	req.Deadline = time.Now().Add(time.Minute)

	id, err := remote.RequestReveal(context.Background(), req)
	assert.NoError(t, err)
	rec.wait(t, 1)
	remote.Wait()

	got := rec.received()
	assert.Equal(t, 1, len(got))
	check.Equal(t, string(id), got[0].RequestID)
	check.Equal(t, []uint64{800, 1}, got[0].Values)
	check.Equal(t, []string{handles[0].ID(), handles[1].ID()}, got[0].HandleIDs)
}

func TestRemoteOracle_RefusedRevealIsNotDelivered(t *testing.T) {
	o := newTestOracle(t, true)
	remote := serveTCP(t, o, nil)
	rec := newRecorder(t, o.signer)

	// The requester holds no decrypt right on this handle
	h, err := o.backend.Encrypt(4)
	assert.NoError(t, err)
	req := o.request([]fhe.Handle{h}, rec)
	req.Deadline = time.Now().Add(time.Minute)

	_, err = remote.RequestReveal(context.Background(), req)
	assert.NoError(t, err)
	remote.Wait()

	check.Equal(t, 0, len(rec.received()))
}

func TestServer_RevealRequestOnce(t *testing.T) {
	o := newTestOracle(t, true)
	server, err := NewServer(ServerConfig{Service: o.service, MaxWorkers: 1, Logger: quietLogger()})
	assert.NoError(t, err)

	handles := o.sealed(t, 12)
	req := auctionapi.OracleRevealRequest{
		Type:        "reveal_request",
		RequestID:   "req-1",
		AuctionID:   "auction-1",
		Requester:   testRequester,
		Ciphertexts: [][]byte{handles[0]},
		Deadline:    testNow.Add(time.Minute),
	}

	resp := server.handleRevealRequest(req)
	check.Equal(t, "reveal_response", resp.Type)
	check.NotEqual(t, 0, len(resp.Signed))

	resp = server.handleRevealRequest(req)
	check.Equal(t, "error", resp.Type)
	check.Equal(t, ErrAlreadyDelivered.Error(), resp.Message)

	req.RequestID = "req-2"
	req.Deadline = testNow.Add(-time.Second)
	resp = server.handleRevealRequest(req)
	check.Equal(t, "error", resp.Type)
	check.Equal(t, ErrDeadlinePassed.Error(), resp.Message)

	req.RequestID = ""
	resp = server.handleRevealRequest(req)
	check.Equal(t, "error", resp.Type)
}

func TestServer_UnknownRequestType(t *testing.T) {
	o := newTestOracle(t, true)
	remote := serveTCP(t, o, nil)

	var resp auctionapi.OracleRevealResponse
	err := remote.roundTrip(context.Background(), map[string]string{"type": "launch_missiles"}, &resp)
	assert.NoError(t, err)
	check.Equal(t, "error", resp.Type)
}
