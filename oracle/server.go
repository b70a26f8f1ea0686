package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/fhe"
)

const connReadTimeout = 30 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	Service *Service
	// InputKeyPEM is published with key responses so bidders can encrypt inputs
	InputKeyPEM string
	// Attester is optional; without it key responses carry no attestation
	Attester   Attester
	MaxWorkers int
	Logger     *logrus.Logger
}

// Server answers reveal requests from a RemoteOracle over a stream listener (vsock inside an
// enclave). Each connection carries one JSON request and one JSON response.
type Server struct {
	svc         *Service
	inputKeyPEM string
	attester    Attester
	maxWorkers  int
	log         *logrus.Logger

	mu     sync.Mutex
	served map[string]bool
}

// NewServer creates a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Service == nil {
		return nil, fmt.Errorf("oracle server requires a service")
	}
	if config.MaxWorkers <= 0 {
		return nil, fmt.Errorf("max workers must be positive, got %d", config.MaxWorkers)
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Server{
		svc:         config.Service,
		inputKeyPEM: config.InputKeyPEM,
		attester:    config.Attester,
		maxWorkers:  config.MaxWorkers,
		log:         config.Logger,
		served:      make(map[string]bool),
	}, nil
}

// Serve accepts connections until ctx is done or the listener fails permanently.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	semaphore := make(chan struct{}, s.maxWorkers)
	s.log.Infof("Worker pool initialized with %d max concurrent workers", s.maxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			s.log.WithError(err).Error("Failed to accept connection")
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(c)
			}(conn)
		default:
			s.log.Info("No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				s.log.WithError(err).Error("Failed to close rejected connection")
			}
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			s.log.WithError(err).Debug("Failed to close connection")
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(connReadTimeout))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		s.log.WithError(err).Error("Failed to read request")
		return
	}

	var baseReq struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(buf.Bytes(), &baseReq); err != nil {
		s.log.WithError(err).Error("Failed to decode base request")
		return
	}

	s.log.WithField("type", baseReq.Type).Debug("Received request")

	var response any
	switch baseReq.Type {
	case "ping":
		response = map[string]any{
			"type":      "pong",
			"message":   "oracle is healthy",
			"timestamp": time.Now().Unix(),
		}

	case "key_request":
		keyResp, err := s.handleKeyRequest()
		if err != nil {
			s.log.WithError(err).Error("Key request failed")
			response = errorResponse("", fmt.Sprintf("Key request failed: %v", err))
		} else {
			response = keyResp
		}

	case "reveal_request":
		var req auctionapi.OracleRevealRequest
		if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
			response = errorResponse("", fmt.Sprintf("Failed to decode reveal request: %v", err))
			break
		}
		response = s.handleRevealRequest(req)

	default:
		response = errorResponse("", fmt.Sprintf("Unknown request type: %s", baseReq.Type))
	}

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleKeyRequest() (*auctionapi.OracleKeyResponse, error) {
	signingPEM, err := s.svc.Signer().PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	resp := &auctionapi.OracleKeyResponse{
		Type:           "key_response",
		PublicKey:      signingPEM,
		InputPublicKey: s.inputKeyPEM,
	}

	if s.attester != nil {
		attestation, err := AttestKeys(s.attester, signingPEM, s.inputKeyPEM)
		if err != nil {
			return nil, err
		}
		resp.AttestationCOSEBase64 = attestation.EncodeBase64()
	}
	return resp, nil
}

func (s *Server) handleRevealRequest(req auctionapi.OracleRevealRequest) *auctionapi.OracleRevealResponse {
	logger := s.log.WithFields(logrus.Fields{"request": req.RequestID, "auction": req.AuctionID})

	if req.RequestID == "" {
		return errorResponse("", "reveal request has no request id")
	}
	if s.svc.now().After(req.Deadline) {
		logger.Warn("Reveal request arrived after its deadline")
		return errorResponse(req.RequestID, ErrDeadlinePassed.Error())
	}

	// At most one signed callback per request id
	s.mu.Lock()
	if s.served[req.RequestID] {
		s.mu.Unlock()
		return errorResponse(req.RequestID, ErrAlreadyDelivered.Error())
	}
	s.served[req.RequestID] = true
	s.mu.Unlock()

	handles := make([]fhe.Handle, len(req.Ciphertexts))
	for i, ct := range req.Ciphertexts {
		handles[i] = fhe.Handle(ct)
	}

	signed, err := s.svc.Reveal(RequestID(req.RequestID), RevealRequest{
		AuctionID:   req.AuctionID,
		Requester:   req.Requester,
		Ciphertexts: handles,
		Deadline:    req.Deadline,
	})
	if err != nil {
		logger.WithError(err).Error("Reveal failed")
		return errorResponse(req.RequestID, err.Error())
	}

	logger.Info("Reveal signed")
	return &auctionapi.OracleRevealResponse{
		Type:      "reveal_response",
		RequestID: req.RequestID,
		Signed:    signed,
	}
}

func errorResponse(requestID, message string) *auctionapi.OracleRevealResponse {
	return &auctionapi.OracleRevealResponse{Type: "error", RequestID: requestID, Message: message}
}
