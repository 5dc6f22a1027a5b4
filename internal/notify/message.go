// Package notify publishes escrow domain events to downstream consumers.
// Delivery is best effort: the ledger is the source of truth and a lost
// message never affects settlement.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
)

// Message types.
const (
	EventCreated            = "event.created"
	TicketPurchased         = "ticket.purchased"
	PurchaseReversed        = "ticket.reversed"
	RegistrationCreated     = "registration.created"
	AttendanceMarked        = "attendance.marked"
	AttendeeCheckedIn       = "attendee.checked_in"
	EventFinalized          = "event.finalized"
	OrganizerPaid           = "organizer.paid"
	RedistributionWithdrawn = "redistribution.withdrawn"
	ParticipantRefunded     = "participant.refunded"
	EventCancelled          = "event.cancelled"
)

// Message is one committed state change.
type Message struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	EventID    string            `json:"event_id"`
	Account    string            `json:"account,omitempty"`
	Amount     money.Amount      `json:"amount,omitempty"`
	Receipt    string            `json:"receipt,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Option customizes a Message.
type Option func(*Message)

func WithAccount(account string) Option {
	return func(m *Message) { m.Account = account }
}

func WithAmount(amount money.Amount) Option {
	return func(m *Message) { m.Amount = amount }
}

func WithReceipt(id string) Option {
	return func(m *Message) { m.Receipt = id }
}

func WithMetadata(key, value string) Option {
	return func(m *Message) {
		if m.Metadata == nil {
			m.Metadata = make(map[string]string)
		}
		m.Metadata[key] = value
	}
}

// NewMessage builds a Message with a fresh id.
func NewMessage(typ, eventID string, at time.Time, opts ...Option) Message {
	m := Message{
		ID:         uuid.New().String(),
		Type:       typ,
		EventID:    eventID,
		OccurredAt: at,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Noop discards every message.
type Noop struct{}

func (Noop) Emit(Message) {}

// Recorder keeps every emitted message in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Emit(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

// Messages returns a copy of what was emitted so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Types returns the emitted message types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}
