// Package model defines the core domain types for the deposit escrow service.
package model

import (
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
)

// Phase is the lifecycle position of an event's escrow.
//
// Open, Finalized and Cancelled are the public states. Settling and
// Cancelling are Open events whose terminal transition has started but not
// committed; they accept no purchases or attendance marks.
type Phase string

const (
	PhaseOpen       Phase = "open"
	PhaseSettling   Phase = "settling"
	PhaseCancelling Phase = "cancelling"
	PhaseFinalized  Phase = "finalized"
	PhaseCancelled  Phase = "cancelled"
)

// Event is one organized occasion with a fixed per-ticket deposit.
type Event struct {
	ID                       string       `json:"id"`
	Name                     string       `json:"name"`
	Description              string       `json:"description"`
	Organizer                string       `json:"organizer"`
	TicketPrice              money.Amount `json:"ticket_price"`
	Currency                 string       `json:"currency"`
	EventEndTime             time.Time    `json:"event_end_time"`
	RedistributionPercentage int          `json:"redistribution_percentage"`
	MaxParticipants          int          `json:"max_participants"`
	TotalFunds               money.Amount `json:"total_funds"`
	ParticipantCount         int          `json:"participant_count"`
	Phase                    Phase        `json:"phase"`
	IsFinalized              bool         `json:"is_finalized"`
	IsCancelled              bool         `json:"is_cancelled"`
	CreatedAt                time.Time    `json:"created_at"`
}

// IsFree reports whether the event bypasses escrow entirely.
func (e *Event) IsFree() bool {
	return e.TicketPrice == 0
}

// AcceptsMutations reports whether purchases and attendance marks are allowed.
func (e *Event) AcceptsMutations() bool {
	return e.Phase == PhaseOpen && !e.IsFinalized && !e.IsCancelled
}

// IsFull returns true when a capacity is set and has been reached.
func (e *Event) IsFull(registered int) bool {
	return e.MaxParticipants > 0 && registered >= e.MaxParticipants
}

// EscrowAccount is the rail account holding this event's deposits.
func (e *Event) EscrowAccount() string {
	return EscrowAccount(e.ID)
}

// EscrowAccount names the pooled escrow account of an event.
func EscrowAccount(eventID string) string {
	return "escrow:" + eventID
}

// ClosedError returns the state error explaining why mutations are rejected.
func (e *Event) ClosedError() error {
	switch {
	case e.IsFinalized:
		return ErrAlreadyFinalized
	case e.IsCancelled:
		return ErrAlreadyCancelled
	case e.Phase == PhaseSettling:
		return ErrSettlementPending
	case e.Phase == PhaseCancelling:
		return ErrCancellationPending
	}
	return nil
}

// Participant is the escrow record of one account for one event.
type Participant struct {
	EventID           string       `json:"event_id"`
	Account           string       `json:"account"`
	HasPaid           bool         `json:"has_paid"`
	AmountPaid        money.Amount `json:"amount_paid"`
	HasAttended       bool         `json:"has_attended"`
	HasWithdrawn      bool         `json:"has_withdrawn"`
	AmountWithdrawn   money.Amount `json:"amount_withdrawn"`
	Refunded          bool         `json:"refunded"`
	PurchaseReceipt   string       `json:"purchase_receipt,omitempty"`
	WithdrawalReceipt string       `json:"withdrawal_receipt,omitempty"`
	RefundReceipt     string       `json:"refund_receipt,omitempty"`
	PaidAt            time.Time    `json:"paid_at"`
	AttendedAt        *time.Time   `json:"attended_at,omitempty"`
}

// Settlement is the attendee/absentee split frozen at finalization.
type Settlement struct {
	EventID              string       `json:"event_id"`
	TotalFunds           money.Amount `json:"total_funds"`
	AttendeeCount        int          `json:"attendee_count"`
	AbsenteeCount        int          `json:"absentee_count"`
	NoShowPool           money.Amount `json:"no_show_pool"`
	RedistributionAmount money.Amount `json:"redistribution_amount"`
	AttendeeRefundTotal  money.Amount `json:"attendee_refund_total"`
	OrganizerShare       money.Amount `json:"organizer_share"`
	OrganizerReceipt     string       `json:"organizer_receipt,omitempty"`
	ComputedAt           time.Time    `json:"computed_at"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
}

// Tally is the raw partition of paid participants read from the ledger.
type Tally struct {
	TotalParticipants int
	AttendeeCount     int
	AbsenteeCount     int
	AttendedFunds     money.Amount
	AbsentFunds       money.Amount
	WithdrawnCount    int
	WithdrawnFunds    money.Amount
	RefundedCount     int
}

// TallyOf partitions paid participants into attendees and absentees.
// Unpaid records are ignored.
func TallyOf(paid []Participant) (*Tally, error) {
	var t Tally
	var err error
	for _, p := range paid {
		if !p.HasPaid {
			continue
		}
		t.TotalParticipants++
		if p.HasAttended {
			t.AttendeeCount++
			if t.AttendedFunds, err = t.AttendedFunds.Add(p.AmountPaid); err != nil {
				return nil, fmt.Errorf("attended funds: %w", err)
			}
		} else {
			t.AbsenteeCount++
			if t.AbsentFunds, err = t.AbsentFunds.Add(p.AmountPaid); err != nil {
				return nil, fmt.Errorf("absent funds: %w", err)
			}
		}
		if p.HasWithdrawn {
			t.WithdrawnCount++
			if t.WithdrawnFunds, err = t.WithdrawnFunds.Add(p.AmountWithdrawn); err != nil {
				return nil, fmt.Errorf("withdrawn funds: %w", err)
			}
		}
		if p.Refunded {
			t.RefundedCount++
		}
	}
	return &t, nil
}

// EventStats is the derived read-model for one event.
type EventStats struct {
	EventID              string       `json:"event_id"`
	Phase                Phase        `json:"phase"`
	TotalParticipants    int          `json:"total_participants"`
	AttendeeCount        int          `json:"attendee_count"`
	AbsenteeCount        int          `json:"absentee_count"`
	TotalAbsenteeFunds   money.Amount `json:"total_absentee_funds"`
	RedistributionAmount money.Amount `json:"redistribution_amount"`
	AttendeeRefundTotal  money.Amount `json:"attendee_refund_total"`
	OrganizerShare       money.Amount `json:"organizer_share"`
	WithdrawnCount       int          `json:"withdrawn_count"`
	TotalWithdrawn       money.Amount `json:"total_withdrawn"`
	RefundedCount        int          `json:"refunded_count"`
	Frozen               bool         `json:"frozen"`
}

// Registration is a free-event sign-up; it never touches escrow.
type Registration struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	Account     string     `json:"account"`
	CheckedIn   bool       `json:"checked_in"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TransferReceipt confirms a completed rail transfer.
type TransferReceipt struct {
	ID             string       `json:"id"`
	IdempotencyKey string       `json:"idempotency_key"`
	From           string       `json:"from"`
	To             string       `json:"to"`
	Amount         money.Amount `json:"amount"`
	CreatedAt      time.Time    `json:"created_at"`
}

// EventSpec carries the validated inputs of CreateEvent.
type EventSpec struct {
	ID                       string
	Name                     string
	Description              string
	Organizer                string
	TicketPrice              money.Amount
	EventEndTime             time.Time
	RedistributionPercentage int
	MaxParticipants          int
}

// CreateEventRequest is the payload for creating a new event.
// TicketPrice is a decimal string in the configured currency, e.g. "12.50".
type CreateEventRequest struct {
	ID                       string    `json:"id"`
	Name                     string    `json:"name"`
	Description              string    `json:"description"`
	TicketPrice              string    `json:"ticket_price"`
	EventEndTime             time.Time `json:"event_end_time"`
	RedistributionPercentage int       `json:"redistribution_percentage"`
	MaxParticipants          int       `json:"max_participants"`
}

// AttendanceRequest marks one or more participants present.
type AttendanceRequest struct {
	Participant  string   `json:"participant"`
	Participants []string `json:"participants"`
}

// CheckInRequest carries a scanned check-in token.
type CheckInRequest struct {
	Token string `json:"token"`
}

// DepositRequest mints test funds into an account.
type DepositRequest struct {
	Amount string `json:"amount"`
}

// PurchaseResult is returned by PurchaseTicket and RegisterFreeAttendee.
type PurchaseResult struct {
	Participant  *Participant     `json:"participant,omitempty"`
	Registration *Registration    `json:"registration,omitempty"`
	Receipt      *TransferReceipt `json:"receipt,omitempty"`
	CheckInToken string           `json:"checkin_token"`
}

// CheckInResult is returned by CheckIn. Exactly one of Participant and
// Registration is set, depending on whether the event is paid or free.
type CheckInResult struct {
	Account      string        `json:"account"`
	Participant  *Participant  `json:"participant,omitempty"`
	Registration *Registration `json:"registration,omitempty"`
}

// FinalizeResult is returned by FinalizeEvent.
type FinalizeResult struct {
	Settlement *Settlement      `json:"settlement"`
	Receipt    *TransferReceipt `json:"receipt,omitempty"`
}

// WithdrawResult is returned by WithdrawRedistribution.
type WithdrawResult struct {
	Amount  money.Amount     `json:"amount"`
	Receipt *TransferReceipt `json:"receipt"`
}

// CancelResult is returned by CancelEvent.
type CancelResult struct {
	Refunded []TransferReceipt `json:"refunded"`
	Event    *Event            `json:"event"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    Kind           `json:"kind"`
	Reason  string         `json:"reason"`
	Entries []EntryFailure `json:"entries,omitempty"`
}

// EntryFailure describes one rejected element of a batch or refund run.
type EntryFailure struct {
	Account string `json:"account"`
	Error   string `json:"error"`
	Reason  string `json:"reason"`
}

// SettlementFunc computes the split for an event from its paid participants.
// Ledgers call it inside the transaction that freezes the partition.
type SettlementFunc func(ev *Event, participants []Participant, at time.Time) (*Settlement, error)
