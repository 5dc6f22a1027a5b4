package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/notify"
)

// PurchaseTicket charges buyer the ticket price into the event escrow and
// records the payment. The ledger is written only after the rail confirms.
//
// A retry after any failure is safe: the rail transfer is keyed by
// (event, buyer), so a charge that landed before a timeout is replayed
// rather than repeated.
func (s *EscrowService) PurchaseTicket(ctx context.Context, eventID, buyer string) (res *model.PurchaseResult, err error) {
	defer s.observe("purchase_ticket", time.Now(), &err)

	buyer, err = validateAccount(buyer)
	if err != nil {
		return nil, err
	}
	ev, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.IsFree() {
		return nil, model.ErrFreeEvent
	}
	if !ev.AcceptsMutations() {
		s.reverseStrandedCharge(ctx, ev, buyer)
		return nil, closedError(ev)
	}
	existing, err := s.ledger.GetParticipant(ctx, eventID, buyer)
	switch {
	case err == nil && existing.HasPaid:
		return nil, model.ErrAlreadyPaid
	case err != nil && !errors.Is(err, model.ErrParticipantNotFound):
		return nil, fmt.Errorf("load participant: %w", err)
	}
	if ev.IsFull(ev.ParticipantCount) {
		return nil, model.ErrEventFull
	}

	receipt, err := s.transfer(ctx, "purchase", buyer, ev.EscrowAccount(), ev.TicketPrice, purchaseKey(eventID, buyer))
	if err != nil {
		return nil, err
	}

	p, err := s.ledger.RecordPurchase(ctx, eventID, buyer, ev.TicketPrice, receipt.ID, s.now())
	if err != nil {
		if errors.Is(err, model.ErrEventClosed) || errors.Is(err, model.ErrEventFull) {
			s.reversePurchase(ctx, ev, buyer, receipt)
			return nil, err
		}
		if errors.Is(err, model.ErrAlreadyPaid) {
			return nil, err
		}
		s.log.Error().Err(err).
			Str("event_id", eventID).
			Str("buyer", buyer).
			Str("receipt", receipt.ID).
			Msg("charge confirmed but purchase not recorded; retry will replay the charge")
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	s.metrics.Escrowed(ev.TicketPrice.Int64())
	s.log.Info().
		Str("event_id", eventID).
		Str("buyer", buyer).
		Int64("amount", ev.TicketPrice.Int64()).
		Str("receipt", receipt.ID).
		Msg("ticket purchased")
	s.emit(notify.TicketPurchased, eventID,
		notify.WithAccount(buyer), notify.WithAmount(ev.TicketPrice), notify.WithReceipt(receipt.ID))

	return &model.PurchaseResult{
		Participant:  p,
		Receipt:      receipt,
		CheckInToken: s.signer.Issue(eventID, buyer, s.now()),
	}, nil
}

// reversePurchase returns a deposit whose charge landed after the event
// stopped accepting purchases.
func (s *EscrowService) reversePurchase(ctx context.Context, ev *model.Event, buyer string, charge *model.TransferReceipt) {
	receipt, err := s.transfer(ctx, "reversal", ev.EscrowAccount(), buyer, charge.Amount, reversalKey(ev.ID, buyer))
	if err != nil {
		s.log.Error().Err(err).
			Str("event_id", ev.ID).
			Str("buyer", buyer).
			Str("charge", charge.ID).
			Msg("purchase reversal failed")
		return
	}
	s.metrics.Released("reversal", charge.Amount.Int64())
	s.log.Info().
		Str("event_id", ev.ID).
		Str("buyer", buyer).
		Str("receipt", receipt.ID).
		Msg("purchase reversed")
	s.emit(notify.PurchaseReversed, ev.ID,
		notify.WithAccount(buyer), notify.WithAmount(charge.Amount), notify.WithReceipt(receipt.ID))
}

// reverseStrandedCharge returns a charge that landed behind a rail timeout
// but was never recorded before the event closed. Such a deposit is outside
// the ledger, so neither settlement nor cancellation would ever release it.
func (s *EscrowService) reverseStrandedCharge(ctx context.Context, ev *model.Event, buyer string) {
	p, err := s.ledger.GetParticipant(ctx, ev.ID, buyer)
	switch {
	case err == nil && p.HasPaid:
		return
	case err != nil && !errors.Is(err, model.ErrParticipantNotFound):
		s.log.Warn().Err(err).Str("event_id", ev.ID).Str("buyer", buyer).Msg("stranded charge check skipped")
		return
	}

	charge, err := s.lookup(ctx, purchaseKey(ev.ID, buyer))
	if err != nil || charge == nil {
		return
	}
	if reversed, err := s.lookup(ctx, reversalKey(ev.ID, buyer)); err != nil || reversed != nil {
		return
	}
	s.log.Warn().
		Str("event_id", ev.ID).
		Str("buyer", buyer).
		Str("charge", charge.ID).
		Msg("found unrecorded charge on a closed event")
	s.reversePurchase(ctx, ev, buyer, charge)
}

// RegisterFreeAttendee signs account up for a free event. No money moves.
func (s *EscrowService) RegisterFreeAttendee(ctx context.Context, eventID, account string) (res *model.PurchaseResult, err error) {
	defer s.observe("register_free", time.Now(), &err)

	account, err = validateAccount(account)
	if err != nil {
		return nil, err
	}
	ev, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.IsFree() {
		return nil, model.ErrPaidEvent
	}
	if !ev.AcceptsMutations() {
		return nil, closedError(ev)
	}

	reg, err := s.regs.Register(ctx, ev, account, s.now())
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("event_id", eventID).Str("account", account).Msg("free registration created")
	s.emit(notify.RegistrationCreated, eventID, notify.WithAccount(account))
	return &model.PurchaseResult{
		Registration: reg,
		CheckInToken: s.signer.Issue(eventID, account, s.now()),
	}, nil
}

// CheckIn redeems a check-in token presented at the door. The caller must
// be the organizer. Paid events mark attendance; free events flag the
// registration.
func (s *EscrowService) CheckIn(ctx context.Context, eventID, caller, token string) (res *model.CheckInResult, err error) {
	defer s.observe("check_in", time.Now(), &err)

	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.EventID != eventID {
		return nil, fmt.Errorf("%w: token belongs to another event", model.ErrInvalidToken)
	}
	ev, err := s.loadOwnedEvent(ctx, eventID, caller)
	if err != nil {
		return nil, err
	}
	if !ev.AcceptsMutations() {
		return nil, closedError(ev)
	}

	res = &model.CheckInResult{Account: claims.Account}
	if ev.IsFree() {
		res.Registration, err = s.regs.CheckIn(ctx, eventID, claims.Account, s.now())
		if err != nil {
			return nil, err
		}
	} else {
		marked, err := s.setAttendance(ctx, ev, []string{claims.Account})
		if err != nil {
			return nil, unwrapSingle(err)
		}
		res.Participant = &marked[0]
	}

	s.log.Info().Str("event_id", eventID).Str("account", claims.Account).Msg("attendee checked in")
	s.emit(notify.AttendeeCheckedIn, eventID, notify.WithAccount(claims.Account))
	return res, nil
}
