package auction

import (
	"sync"
	"time"
)

// EventType names an auction event.
type EventType string

const (
	EventAuctionCreated   EventType = "AuctionCreated"
	EventFundsLocked      EventType = "FundsLocked"
	EventBidPlaced        EventType = "BidPlaced"
	EventRevealRequested  EventType = "RevealRequested"
	EventAuctionClosed    EventType = "AuctionClosed"
	EventBidRevealed      EventType = "BidRevealed"
	EventFundsDistributed EventType = "FundsDistributed"
)

// Event is emitted after a state change commits. Fields not relevant to a type are zero.
type Event struct {
	Type        EventType `json:"type"`
	AuctionID   string    `json:"auction_id"`
	At          time.Time `json:"at"`
	Participant string    `json:"participant,omitempty"`
	Amount      uint64    `json:"amount,omitempty"`
	Quantity    uint64    `json:"quantity,omitempty"`
	Price       uint64    `json:"price,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Hash        string    `json:"hash,omitempty"`
}

// EventSink receives events. Emit is called with the auction lock held and must not call back
// into the auction.
type EventSink interface {
	Emit(Event)
}

// EventLog is an in-memory EventSink.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *EventLog) Emit(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns all events in emission order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// OfType returns the events of one type in emission order.
func (l *EventLog) OfType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
