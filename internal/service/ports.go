package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/event-escrow/internal/checkin"
	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
	"github.com/Shivanand-hulikatti/event-escrow/internal/notify"
)

// Ledger is the authoritative store of event and participant monetary facts.
// Every mutating method is atomic per event; the engine itself holds no state.
type Ledger interface {
	CreateEvent(ctx context.Context, ev *model.Event) error
	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)

	// RecordPurchase marks account as paid and bumps totalFunds and
	// participantCount in the same commit.
	RecordPurchase(ctx context.Context, eventID, account string, amount money.Amount, receiptID string, at time.Time) (*model.Participant, error)

	// SetAttendance marks every account present, or none of them. Accounts
	// already present are accepted unchanged.
	SetAttendance(ctx context.Context, eventID string, accounts []string, at time.Time) ([]model.Participant, error)

	// BeginSettlement freezes the participant partition computed by compute
	// and moves the event to the settling phase. While the event is already
	// settling it returns the stored snapshot without calling compute.
	BeginSettlement(ctx context.Context, eventID string, now time.Time, compute model.SettlementFunc) (*model.Settlement, error)
	CompleteSettlement(ctx context.Context, eventID, receiptID string, at time.Time) (*model.Event, error)
	GetSettlement(ctx context.Context, eventID string) (*model.Settlement, error)

	BeginCancellation(ctx context.Context, eventID string) (*model.Event, error)
	RecordRefund(ctx context.Context, eventID, account, receiptID string) error
	CompleteCancellation(ctx context.Context, eventID string) (*model.Event, error)

	RecordWithdrawal(ctx context.Context, eventID, account string, amount money.Amount, receiptID string) (*model.Participant, error)

	GetParticipant(ctx context.Context, eventID, account string) (*model.Participant, error)
	ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error)
	Stats(ctx context.Context, eventID string) (*model.Tally, error)

	// ListPending returns events stuck in the settling or cancelling phase.
	ListPending(ctx context.Context) ([]model.Event, error)
}

// Registrar records free-event sign-ups outside escrow.
type Registrar interface {
	Register(ctx context.Context, ev *model.Event, account string, at time.Time) (*model.Registration, error)
	CheckIn(ctx context.Context, eventID, account string, at time.Time) (*model.Registration, error)
	ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error)
}

// PaymentRail moves value between accounts. Repeating a call with the same
// idempotency key never moves value twice.
type PaymentRail interface {
	Transfer(ctx context.Context, from, to string, amount money.Amount, idempotencyKey string) (*model.TransferReceipt, error)

	// Lookup returns the committed transfer for idempotencyKey, or nil when
	// no transfer with that key has landed.
	Lookup(ctx context.Context, idempotencyKey string) (*model.TransferReceipt, error)
}

// Emitter receives domain events after each committed transition.
type Emitter interface {
	Emit(msg notify.Message)
}

// TokenSigner issues and verifies check-in tokens.
type TokenSigner interface {
	Issue(eventID, account string, at time.Time) string
	Verify(token string) (*checkin.Claims, error)
}
