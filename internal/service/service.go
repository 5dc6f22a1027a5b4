// Package service implements the escrow settlement engine: event
// lifecycle, ticket purchase, attendance, finalization, pull withdrawals
// and cancellation. The engine holds no authoritative state; every fact
// lives in the Ledger, and every ledger mutation that depends on money
// moving is committed only after the PaymentRail confirms the transfer.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
	"github.com/Shivanand-hulikatti/event-escrow/internal/notify"
	"github.com/Shivanand-hulikatti/event-escrow/internal/observability"
)

// Config holds the engine's tunables.
type Config struct {
	Currency string
	// CreationMargin is how far in the future an event must end.
	CreationMargin time.Duration
	// FinalizeBuffer delays finalization eligibility past the end time.
	FinalizeBuffer time.Duration
	// RailTimeout bounds every payment rail call.
	RailTimeout time.Duration
}

// EscrowService orchestrates escrow operations between callers, the ledger
// and the payment rail.
type EscrowService struct {
	ledger  Ledger
	regs    Registrar
	rail    PaymentRail
	signer  TokenSigner
	emitter Emitter
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
	cfg     Config
}

// Option customizes an EscrowService.
type Option func(*EscrowService)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *EscrowService) { s.now = now }
}

// WithEmitter sets the domain event sink.
func WithEmitter(e Emitter) Option {
	return func(s *EscrowService) { s.emitter = e }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *EscrowService) { s.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *EscrowService) { s.log = l }
}

// NewEscrowService constructs an EscrowService with its dependencies.
func NewEscrowService(
	ledger Ledger,
	regs Registrar,
	rail PaymentRail,
	signer TokenSigner,
	cfg Config,
	opts ...Option,
) *EscrowService {
	if cfg.RailTimeout <= 0 {
		cfg.RailTimeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "USDC"
	}
	s := &EscrowService{
		ledger:  ledger,
		regs:    regs,
		rail:    rail,
		signer:  signer,
		emitter: notify.Noop{},
		log:     zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// observe records the outcome of one operation. Call it deferred with a
// pointer to the named error result.
func (s *EscrowService) observe(op string, start time.Time, err *error) {
	code := "ok"
	if *err != nil {
		code = model.CodeOf(*err)
	}
	s.metrics.ObserveOp(op, code, time.Since(start).Seconds())
}

func (s *EscrowService) emit(typ, eventID string, opts ...notify.Option) {
	s.emitter.Emit(notify.NewMessage(typ, eventID, s.now(), opts...))
}

// transfer calls the rail under the configured timeout and normalizes
// its errors to rail sentinels.
func (s *EscrowService) transfer(ctx context.Context, purpose, from, to string, amount money.Amount, key string) (*model.TransferReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RailTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := s.rail.Transfer(ctx, from, to, amount, key)
	if err != nil {
		if model.KindOf(err) != model.KindRail {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %v", model.ErrTransferTimeout, err)
			} else {
				err = fmt.Errorf("%w: %v", model.ErrTransferFailed, err)
			}
		}
		s.metrics.ObserveTransfer(purpose, model.CodeOf(err), time.Since(start).Seconds())
		s.log.Warn().Err(err).
			Str("purpose", purpose).
			Str("from", from).
			Str("to", to).
			Int64("amount", amount.Int64()).
			Str("key", key).
			Msg("rail transfer failed")
		return nil, err
	}
	s.metrics.ObserveTransfer(purpose, "ok", time.Since(start).Seconds())
	return receipt, nil
}

// lookup asks the rail for the transfer committed under key.
func (s *EscrowService) lookup(ctx context.Context, key string) (*model.TransferReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RailTimeout)
	defer cancel()

	receipt, err := s.rail.Lookup(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("rail lookup failed")
		return nil, err
	}
	return receipt, nil
}

func purchaseKey(eventID, account string) string { return "purchase:" + eventID + ":" + account }
func reversalKey(eventID, account string) string { return "reversal:" + eventID + ":" + account }
func finalizeKey(eventID string) string          { return "finalize:" + eventID }
func withdrawKey(eventID, account string) string { return "withdraw:" + eventID + ":" + account }
func refundKey(eventID, account string) string   { return "refund:" + eventID + ":" + account }

var eventIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// validateAccount rejects empty or reserved account identifiers.
func validateAccount(account string) (string, error) {
	account = strings.TrimSpace(account)
	switch {
	case account == "", len(account) > 128:
		return "", model.ErrInvalidAccount
	case strings.HasPrefix(account, "escrow:"):
		return "", fmt.Errorf("%w: escrow accounts cannot act as callers", model.ErrInvalidAccount)
	case strings.ContainsAny(account, " \t\r\n"):
		return "", fmt.Errorf("%w: whitespace not allowed", model.ErrInvalidAccount)
	}
	return account, nil
}

// loadOwnedEvent returns the event when caller is its organizer.
func (s *EscrowService) loadOwnedEvent(ctx context.Context, eventID, caller string) (*model.Event, error) {
	ev, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Organizer != caller {
		return nil, model.ErrNotOrganizer
	}
	return ev, nil
}

func closedError(ev *model.Event) error {
	return fmt.Errorf("%w: %w", model.ErrEventClosed, ev.ClosedError())
}

// CreateEvent validates the request and opens a new escrow.
func (s *EscrowService) CreateEvent(ctx context.Context, spec model.EventSpec) (ev *model.Event, err error) {
	defer s.observe("create_event", time.Now(), &err)

	organizer, err := validateAccount(spec.Organizer)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = uuid.New().String()
	} else if !eventIDPattern.MatchString(id) {
		return nil, model.ErrInvalidEventID
	}
	if spec.TicketPrice < 0 {
		return nil, model.ErrInvalidPrice
	}
	if spec.RedistributionPercentage < 0 || spec.RedistributionPercentage > 100 {
		return nil, model.ErrInvalidPercentage
	}
	if spec.MaxParticipants < 0 {
		return nil, model.ErrInvalidCapacity
	}
	now := s.now()
	if !spec.EventEndTime.After(now.Add(s.cfg.CreationMargin)) {
		return nil, model.ErrInvalidEndTime
	}

	ev = &model.Event{
		ID:                       id,
		Name:                     strings.TrimSpace(spec.Name),
		Description:              strings.TrimSpace(spec.Description),
		Organizer:                organizer,
		TicketPrice:              spec.TicketPrice,
		Currency:                 s.cfg.Currency,
		EventEndTime:             spec.EventEndTime.UTC(),
		RedistributionPercentage: spec.RedistributionPercentage,
		MaxParticipants:          spec.MaxParticipants,
		Phase:                    model.PhaseOpen,
		CreatedAt:                now,
	}
	if err := s.ledger.CreateEvent(ctx, ev); err != nil {
		if errors.Is(err, model.ErrDuplicateEvent) {
			return nil, err
		}
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.log.Info().
		Str("event_id", ev.ID).
		Str("organizer", ev.Organizer).
		Int64("ticket_price", ev.TicketPrice.Int64()).
		Int("redistribution_pct", ev.RedistributionPercentage).
		Msg("event created")
	s.emit(notify.EventCreated, ev.ID, notify.WithAccount(ev.Organizer), notify.WithAmount(ev.TicketPrice))
	return ev, nil
}
