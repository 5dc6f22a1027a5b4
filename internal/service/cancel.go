package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/notify"
)

// CancelEvent refunds every paid participant their deposit and cancels the
// event. Refunds are tracked per participant: when some fail, the event is
// left cancelling and a *model.RefundError lists the outstanding accounts.
// Calling CancelEvent again retries only those.
func (s *EscrowService) CancelEvent(ctx context.Context, eventID, caller string) (res *model.CancelResult, err error) {
	defer s.observe("cancel_event", time.Now(), &err)

	if _, err := s.loadOwnedEvent(ctx, eventID, caller); err != nil {
		return nil, err
	}
	ev, err := s.ledger.BeginCancellation(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.processRefunds(ctx, ev)
}

func (s *EscrowService) processRefunds(ctx context.Context, ev *model.Event) (*model.CancelResult, error) {
	participants, err := s.ledger.ListParticipants(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	var (
		refunded []model.TransferReceipt
		failed   []model.RefundEntryError
	)
	for _, p := range participants {
		if !p.HasPaid || p.Refunded {
			continue
		}
		if ctx.Err() != nil {
			failed = append(failed, model.RefundEntryError{Account: p.Account, Err: model.ErrTransferTimeout})
			continue
		}
		receipt, err := s.transfer(ctx, "refund", ev.EscrowAccount(), p.Account, p.AmountPaid, refundKey(ev.ID, p.Account))
		if err != nil {
			failed = append(failed, model.RefundEntryError{Account: p.Account, Err: err})
			continue
		}
		if err := s.ledger.RecordRefund(ctx, ev.ID, p.Account, receipt.ID); err != nil {
			failed = append(failed, model.RefundEntryError{Account: p.Account, Err: err})
			continue
		}
		refunded = append(refunded, *receipt)
		s.metrics.Released("refund", p.AmountPaid.Int64())
		s.emit(notify.ParticipantRefunded, ev.ID,
			notify.WithAccount(p.Account), notify.WithAmount(p.AmountPaid), notify.WithReceipt(receipt.ID))
	}

	if len(failed) > 0 {
		s.log.Warn().
			Str("event_id", ev.ID).
			Int("refunded", len(refunded)).
			Int("pending", len(failed)).
			Msg("cancellation incomplete")
		return nil, &model.RefundError{Entries: failed}
	}

	cancelled, err := s.ledger.CompleteCancellation(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("event_id", ev.ID).
		Int("refunded", len(refunded)).
		Msg("event cancelled")
	s.emit(notify.EventCancelled, ev.ID, notify.WithAccount(ev.Organizer))
	return &model.CancelResult{Refunded: refunded, Event: cancelled}, nil
}
