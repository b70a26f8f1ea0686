// Package store persists auction snapshots and event journals in badger.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/sealedauction/auction"
)

const (
	prefixSnapshot = "snap:"
	prefixEvent    = "event:"
	prefixSequence = "seq:"

	sequenceBandwidth = 64
)

// Events carry wall-clock times; the default CBOR mode truncates them to seconds
var eventEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// ErrNotFound is returned when no snapshot exists for an auction.
var ErrNotFound = errors.New("auction not found")

// Config configures a Store.
type Config struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *logrus.Logger
}

// Store is a badger-backed auction.SnapshotSaver with an event journal.
type Store struct {
	db  *badger.DB
	log *logrus.Logger

	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

var _ auction.SnapshotSaver = (*Store)(nil)

// Open opens or creates a store.
func Open(config Config) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if config.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	opts = opts.WithLogger(config.Logger.WithField("component", "badger"))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Store{
		db:   db,
		log:  config.Logger,
		seqs: make(map[string]*badger.Sequence),
	}, nil
}

// Close releases event sequences and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	for id, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			s.log.WithError(err).WithField("auction", id).Warn("Failed to release event sequence")
		}
	}
	s.seqs = nil
	s.mu.Unlock()

	return s.db.Close()
}

// Save writes the snapshot, replacing any earlier one for the same auction.
func (s *Store) Save(_ context.Context, snap *auction.Snapshot) error {
	data, err := auction.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixSnapshot+snap.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Load reads the latest snapshot of an auction.
func (s *Store) Load(_ context.Context, auctionID string) (*auction.Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSnapshot + auctionID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, auctionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", auctionID, err)
	}
	return auction.DecodeSnapshot(data)
}

// List returns the ids of all stored auctions in key order.
func (s *Store) List(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSnapshot)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefixSnapshot))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return ids, nil
}

// Emit appends an event to its auction's journal. It implements auction.EventSink; write
// failures are logged since events are emitted after the change has committed.
func (s *Store) Emit(e auction.Event) {
	if err := s.append(e); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"auction": e.AuctionID,
			"event":   e.Type,
		}).Error("Failed to journal event")
	}
}

func (s *Store) append(e auction.Event) error {
	seq, err := s.sequence(e.AuctionID)
	if err != nil {
		return err
	}
	n, err := seq.Next()
	if err != nil {
		return fmt.Errorf("next event sequence: %w", err)
	}

	data, err := eventEncMode.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(e.AuctionID, n), data)
	})
}

// Events returns the journal of an auction in emission order.
func (s *Store) Events(_ context.Context, auctionID string) ([]auction.Event, error) {
	var events []auction.Event
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixEvent + auctionID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e auction.Event
				if err := cbor.Unmarshal(val, &e); err != nil {
					return err
				}
				events = append(events, e)
				return nil
			})
			if err != nil {
				return fmt.Errorf("decode event %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read events of %s: %w", auctionID, err)
	}
	return events, nil
}

func (s *Store) sequence(auctionID string) (*badger.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seqs == nil {
		return nil, fmt.Errorf("store is closed")
	}
	if seq, ok := s.seqs[auctionID]; ok {
		return seq, nil
	}
	seq, err := s.db.GetSequence([]byte(prefixSequence+prefixEvent+auctionID), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("event sequence for %s: %w", auctionID, err)
	}
	s.seqs[auctionID] = seq
	return seq, nil
}

// eventKey orders events of one auction by sequence number under a shared prefix.
func eventKey(auctionID string, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixEvent, auctionID, n))
}
