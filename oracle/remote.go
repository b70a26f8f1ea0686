package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// Dialer opens one connection to a Server.
type Dialer func(ctx context.Context) (net.Conn, error)

// VsockDialer dials an oracle enclave on the given context ID and port.
func VsockDialer(contextID, port uint32) Dialer {
	return func(_ context.Context) (net.Conn, error) {
		conn, err := vsock.Dial(contextID, port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial vsock %d:%d: %w", contextID, port, err)
		}
		return conn, nil
	}
}

// RemoteOracle is an Oracle backed by a Server in another process, normally a Nitro enclave.
// Each request is sent on its own connection in the background; the signed response is handed
// to the request's callback.
type RemoteOracle struct {
	dial Dialer
	log  *logrus.Logger
	wg   sync.WaitGroup
}

var _ Oracle = (*RemoteOracle)(nil)

// NewRemoteOracle creates a client using dial for every request.
func NewRemoteOracle(dial Dialer, logger *logrus.Logger) *RemoteOracle {
	if logger == nil {
		logger = logrus.New()
	}
	return &RemoteOracle{dial: dial, log: logger}
}

func (r *RemoteOracle) RequestReveal(ctx context.Context, req RevealRequest) (RequestID, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	if req.Callback == nil {
		return "", fmt.Errorf("reveal request has no callback")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := RequestID(uuid.NewString())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(id, req)
	}()

	return id, nil
}

// Wait blocks until every background request has finished.
func (r *RemoteOracle) Wait() {
	r.wg.Wait()
}

func (r *RemoteOracle) run(id RequestID, req RevealRequest) {
	logger := r.log.WithFields(logrus.Fields{"request": id, "auction": req.AuctionID})

	ctx, cancel := context.WithDeadline(context.Background(), req.Deadline)
	defer cancel()

	wire := auctionapi.OracleRevealRequest{
		Type:        "reveal_request",
		RequestID:   string(id),
		AuctionID:   req.AuctionID,
		Requester:   req.Requester,
		Ciphertexts: make([][]byte, len(req.Ciphertexts)),
		Deadline:    req.Deadline,
	}
	for i, h := range req.Ciphertexts {
		wire.Ciphertexts[i] = h
	}

	var resp auctionapi.OracleRevealResponse
	if err := r.roundTrip(ctx, wire, &resp); err != nil {
		logger.WithError(err).Error("Remote reveal failed")
		return
	}
	if resp.Type != "reveal_response" {
		logger.WithField("message", resp.Message).Error("Remote oracle refused reveal")
		return
	}

	if err := req.Callback.OnRevealed(ctx, resp.Signed); err != nil {
		logger.WithError(err).Error("Reveal callback rejected")
		return
	}
	logger.Info("Remote reveal delivered")
}

// Ping checks the oracle is reachable.
func (r *RemoteOracle) Ping(ctx context.Context) error {
	var resp struct {
		Type string `json:"type"`
	}
	if err := r.roundTrip(ctx, map[string]string{"type": "ping"}, &resp); err != nil {
		return err
	}
	if resp.Type != "pong" {
		return fmt.Errorf("unexpected ping response type %q", resp.Type)
	}
	return nil
}

// Keys fetches the oracle's signing and input keys, with an attestation when the oracle runs
// inside an enclave.
func (r *RemoteOracle) Keys(ctx context.Context) (*auctionapi.OracleKeyResponse, error) {
	var resp auctionapi.OracleKeyResponse
	if err := r.roundTrip(ctx, map[string]string{"type": "key_request"}, &resp); err != nil {
		return nil, err
	}
	if resp.Type != "key_response" {
		return nil, fmt.Errorf("key request refused")
	}
	return &resp, nil
}

func (r *RemoteOracle) roundTrip(ctx context.Context, request, response any) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			r.log.WithError(err).Debug("Failed to close oracle connection")
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(connReadTimeout))
	}

	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	// The server reads until EOF
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return fmt.Errorf("failed to half-close connection: %w", err)
		}
	}

	if err := json.NewDecoder(conn).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
