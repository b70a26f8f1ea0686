// Package api exposes an auction over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auction"
	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/fhe"
)

// EventReader reads an auction's event journal.
type EventReader interface {
	Events(ctx context.Context, auctionID string) ([]auction.Event, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Auction *auction.Auction
	// InputKeyPEM is published so bidders can encrypt their inputs
	InputKeyPEM string
	// Events is optional; without it the events route reports 404
	Events EventReader
	Clock  func() time.Time
	Logger *logrus.Logger
}

// Server serves one auction. Callers identify themselves with the X-Participant header; the
// header is trusted, so deployments put an authenticating proxy in front.
type Server struct {
	auction  *auction.Auction
	inputKey string
	events   EventReader
	now      func() time.Time
	log      *logrus.Logger
}

func NewServer(config ServerConfig) *Server {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	return &Server{
		auction:  config.Auction,
		inputKey: config.InputKeyPEM,
		events:   config.Events,
		now:      config.Clock,
		log:      config.Logger,
	}
}

// Handler returns the router with all routes and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/auction", func(r chi.Router) {
		r.Get("/", s.handleView)
		r.Get("/bids", s.handleBids)
		r.Get("/revealed", s.handleRevealed)
		r.Get("/requests", s.handleRequests)
		r.Get("/balances/{participant}", s.handleBalance)
		r.Get("/receipt", s.handleReceipt)
		r.Get("/events", s.handleEvents)

		r.Post("/funds", s.handleLockFunds)
		r.Post("/bids", s.handlePlaceBid)
		r.Post("/close", s.handleClose)
		r.Post("/retry", s.handleRetry)
		r.Post("/distribute", s.handleDistribute)
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	view := s.auction.View()
	view.InputPublicKey = s.inputKey
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBids(w http.ResponseWriter, r *http.Request) {
	bids := s.auction.Bids()
	out := make([]auctionapi.BidView, len(bids))
	for i, b := range bids {
		out[i] = auctionapi.BidView{
			Bidder:   b.Bidder,
			Quantity: b.Quantity,
			Price:    b.Price,
			PlacedAt: b.PlacedAt,
			Hash:     b.Hash,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevealed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auction.RevealedBids())
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	requests := s.auction.Requests()
	if r.URL.Query().Get("expired") == "true" {
		requests = s.auction.ExpiredRequests(s.now())
	}

	out := make([]auctionapi.RequestView, len(requests))
	for i, req := range requests {
		out[i] = auctionapi.RequestView{
			ID:       string(req.ID),
			Bidder:   req.Bidder,
			Deadline: req.Deadline,
			Done:     req.Done,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participant")
	writeJSON(w, http.StatusOK, auctionapi.BalanceResponse{
		Participant: participant,
		Locked:      s.auction.LockedBalance(participant),
	})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	receipt := s.auction.Receipt()
	if receipt == nil {
		writeJSON(w, http.StatusNotFound, auctionapi.ErrorResponse{Error: "auction not settled"})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusNotFound, auctionapi.ErrorResponse{Error: "event journal not configured"})
		return
	}
	events, err := s.events.Events(r.Context(), s.auction.ID())
	if err != nil {
		s.log.WithError(err).Error("Failed to read event journal")
		writeJSON(w, http.StatusInternalServerError, auctionapi.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleLockFunds(w http.ResponseWriter, r *http.Request) {
	participant, attached, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req auctionapi.LockFundsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.auction.LockFunds(r.Context(), participant, req.Amount, attached); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionapi.BalanceResponse{
		Participant: participant,
		Locked:      s.auction.LockedBalance(participant),
	})
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	participant, attached, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req auctionapi.PlaceBidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Proof == nil {
		writeJSON(w, http.StatusBadRequest, auctionapi.ErrorResponse{Error: "proof is required"})
		return
	}

	quantityIndex, priceIndex := uint8(0), uint8(1)
	if req.QuantityIndex != nil {
		quantityIndex = *req.QuantityIndex
	}
	if req.PriceIndex != nil {
		priceIndex = *req.PriceIndex
	}

	accepted, err := s.auction.PlaceEncryptedBid(r.Context(), participant,
		fhe.ExternalValue(quantityIndex), fhe.ExternalValue(priceIndex), req.Proof, attached)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := auctionapi.PlaceBidResponse{Accepted: accepted}
	for _, b := range s.auction.Bids() {
		if b.Bidder == participant {
			resp.BidHash = b.Hash
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.auction.CloseAndRequestReveal(r.Context(), caller); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.auction.View())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.caller(w, r)
	if !ok {
		return
	}
	n, err := s.auction.RetryExpiredRequests(r.Context(), caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, auctionapi.RetryResponse{Retried: n})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.caller(w, r)
	if !ok {
		return
	}
	if _, err := s.auction.DistributeFunds(r.Context(), caller); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.auction.Receipt())
}

// caller reads the participant identity and the attached value from request headers.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (string, uint64, bool) {
	participant := r.Header.Get(auctionapi.ParticipantHeader)
	if participant == "" {
		writeJSON(w, http.StatusUnauthorized, auctionapi.ErrorResponse{
			Error: fmt.Sprintf("missing %s header", auctionapi.ParticipantHeader),
		})
		return "", 0, false
	}

	var attached uint64
	if v := r.Header.Get(auctionapi.AttachedValueHeader); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, auctionapi.ErrorResponse{
				Error: fmt.Sprintf("invalid %s header: %v", auctionapi.AttachedValueHeader, err),
			})
			return "", 0, false
		}
		attached = parsed
	}
	return participant, attached, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("Auction operation failed")
	}
	writeJSON(w, status, auctionapi.ErrorResponse{Error: err.Error(), Kind: string(auction.KindOf(err))})
}

// statusFor maps the engine's error kinds onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, auction.ErrReentrantCall) {
		return http.StatusConflict
	}
	switch auction.KindOf(err) {
	case auction.KindAccess:
		return http.StatusForbidden
	case auction.KindTiming:
		return http.StatusConflict
	case auction.KindValidation:
		return http.StatusBadRequest
	case auction.KindTransfer, auction.KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"participant": r.Header.Get(auctionapi.ParticipantHeader),
			"request_id":  middleware.GetReqID(r.Context()),
			"duration":    time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, auctionapi.ErrorResponse{Error: fmt.Sprintf("failed to parse request: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
