package oracle

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/fhe"
)

// JobState is the lifecycle of one reveal request inside the Service.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobDelivered JobState = "delivered"
	JobExpired   JobState = "expired"
	JobFailed    JobState = "failed"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Decryptor fhe.Decryptor
	Signer    *Signer
	// Workers bounds concurrent deliveries. Defaults to 4.
	Workers int
	// Manual disables the dispatcher; requests stay queued until Deliver is called.
	// Used to drive callback order deterministically.
	Manual bool
	Clock  func() time.Time
	Logger *logrus.Logger
}

type job struct {
	id    RequestID
	req   RevealRequest
	state JobState
	seq   int
}

// Service is an in-process Oracle. Requests are queued and delivered by a bounded pool of
// workers, each request at most once.
type Service struct {
	dec     fhe.Decryptor
	signer  *Signer
	workers int
	manual  bool
	now     func() time.Time
	log     *logrus.Logger

	mu      sync.Mutex
	jobs    map[RequestID]*job
	backlog []RequestID
	seq     int
	stopped bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ Oracle = (*Service)(nil)

// NewService creates a Service. Call Start to begin asynchronous delivery unless Manual is set.
func NewService(config ServiceConfig) (*Service, error) {
	if config.Decryptor == nil {
		return nil, fmt.Errorf("oracle service requires a decryptor")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("oracle service requires a signer")
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Service{
		dec:     config.Decryptor,
		signer:  config.Signer,
		workers: config.Workers,
		manual:  config.Manual,
		now:     config.Clock,
		log:     config.Logger,
		jobs:    make(map[RequestID]*job),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

// Signer returns the key callbacks are signed with.
func (s *Service) Signer() *Signer {
	return s.signer
}

// Start launches the dispatcher. It returns immediately; deliveries stop when ctx is done or
// Stop is called.
func (s *Service) Start(ctx context.Context) {
	if s.manual {
		return
	}

	s.wg.Add(1)
	go s.dispatch(ctx)
	s.log.WithField("workers", s.workers).Info("Oracle dispatcher started")
}

// Stop halts the dispatcher and waits for in-flight deliveries.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) RequestReveal(ctx context.Context, req RevealRequest) (RequestID, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	if req.Callback == nil {
		return "", fmt.Errorf("reveal request has no callback")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrStopped
	}
	id := RequestID(uuid.NewString())
	s.seq++
	s.jobs[id] = &job{id: id, req: req, state: JobQueued, seq: s.seq}
	s.backlog = append(s.backlog, id)
	s.mu.Unlock()

	// Non-blocking: requesters may hold their own locks while requesting
	select {
	case s.notify <- struct{}{}:
	default:
	}

	s.log.WithFields(logrus.Fields{
		"request":     id,
		"auction":     req.AuctionID,
		"ciphertexts": len(req.Ciphertexts),
		"deadline":    req.Deadline.Format(time.RFC3339),
	}).Debug("Reveal request queued")

	return id, nil
}

// Pending lists queued requests in the order they were issued.
func (s *Service) Pending() []RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.state == JobQueued {
			queued = append(queued, j)
		}
	}
	slices.SortFunc(queued, func(a, b *job) int { return a.seq - b.seq })

	out := make([]RequestID, len(queued))
	for i, j := range queued {
		out[i] = j.id
	}
	return out
}

// State reports the lifecycle state of a request.
func (s *Service) State(id RequestID) (JobState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return "", false
	}
	return j.state, true
}

// Produce builds the signed callback for a queued request without delivering it or changing
// its state.
func (s *Service) Produce(id RequestID) ([]byte, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return s.Reveal(id, j.req)
}

// Deliver opens a queued request and hands the signed callback to its receiver.
// A request is delivered at most once, even if the receiver fails.
func (s *Service) Deliver(ctx context.Context, id RequestID) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if j.state != JobQueued {
		state := j.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyDelivered, id, state)
	}
	if s.now().After(j.req.Deadline) {
		j.state = JobExpired
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{"request": id, "auction": j.req.AuctionID}).Warn("Reveal request expired before delivery")
		return fmt.Errorf("%w: %s", ErrDeadlinePassed, id)
	}
	j.state = JobDelivered
	req := j.req
	s.mu.Unlock()

	signed, err := s.Reveal(id, req)
	if err != nil {
		s.setState(id, JobFailed)
		return err
	}

	if err := req.Callback.OnRevealed(ctx, signed); err != nil {
		s.log.WithFields(logrus.Fields{"request": id, "auction": req.AuctionID}).WithError(err).Error("Reveal callback rejected")
		return fmt.Errorf("deliver %s: %w", id, err)
	}

	s.log.WithFields(logrus.Fields{"request": id, "auction": req.AuctionID}).Info("Reveal delivered")
	return nil
}

// Reveal decrypts req's ciphertexts as its requester and signs the result under id.
func (s *Service) Reveal(id RequestID, req RevealRequest) ([]byte, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	cb := &auctionapi.RevealCallback{
		RequestID: string(id),
		AuctionID: req.AuctionID,
		HandleIDs: make([]string, len(req.Ciphertexts)),
		Values:    make([]uint64, len(req.Ciphertexts)),
		IssuedAt:  s.now().Unix(),
	}

	for i, h := range req.Ciphertexts {
		if !s.dec.IsAllowed(h, req.Requester) {
			return nil, fmt.Errorf("%w: %s on ciphertext %d", ErrNotAllowed, req.Requester, i)
		}
		v, err := s.dec.Decrypt(h, req.Requester)
		if err != nil {
			return nil, fmt.Errorf("decrypt ciphertext %d: %w", i, err)
		}
		cb.HandleIDs[i] = h.ID()
		cb.Values[i] = v
	}

	return s.signer.Sign(cb)
}

func (s *Service) setState(id RequestID, state JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.state = state
	}
}

// takeBacklog drains the queued request IDs.
func (s *Service) takeBacklog() []RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.backlog
	s.backlog = nil
	return ids
}

func (s *Service) dispatch(ctx context.Context) {
	defer s.wg.Done()

	semaphore := make(chan struct{}, s.workers)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.notify:
		}

		for _, id := range s.takeBacklog() {
			// Acquire worker slot
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}

			s.wg.Add(1)
			go func(id RequestID) {
				defer s.wg.Done()
				defer func() { <-semaphore }() // Release worker slot
				defer func() {
					if r := recover(); r != nil {
						s.log.WithField("request", id).Errorf("Panic recovered in reveal delivery: %v", r)
					}
				}()

				if err := s.Deliver(ctx, id); err != nil {
					s.log.WithField("request", id).WithError(err).Warn("Reveal delivery failed")
				}
			}(id)
		}
	}
}
