package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
	"github.com/Shivanand-hulikatti/event-escrow/internal/notify"
)

// ComputeSettlement splits an event's escrow between attendees and the
// organizer.
//
//	noShowPool           = Σ amountPaid over absentees
//	redistributionAmount = floor(noShowPool × pct / 100), or 0 with no attendees
//	attendeeRefundTotal  = Σ amountPaid over attendees
//	organizerShare       = totalFunds − attendeeRefundTotal − redistributionAmount
func ComputeSettlement(ev *model.Event, participants []model.Participant, at time.Time) (*model.Settlement, error) {
	tally, err := model.TallyOf(participants)
	if err != nil {
		return nil, err
	}

	redistribution := money.Zero
	if tally.AttendeeCount > 0 {
		redistribution, err = money.Percent(tally.AbsentFunds, ev.RedistributionPercentage)
		if err != nil {
			return nil, fmt.Errorf("redistribution: %w", err)
		}
	}
	remainder, err := ev.TotalFunds.Sub(tally.AttendedFunds)
	if err != nil {
		return nil, fmt.Errorf("organizer share: %w", err)
	}
	organizer, err := remainder.Sub(redistribution)
	if err != nil {
		return nil, fmt.Errorf("organizer share: %w", err)
	}

	return &model.Settlement{
		EventID:              ev.ID,
		TotalFunds:           ev.TotalFunds,
		AttendeeCount:        tally.AttendeeCount,
		AbsenteeCount:        tally.AbsenteeCount,
		NoShowPool:           tally.AbsentFunds,
		RedistributionAmount: redistribution,
		AttendeeRefundTotal:  tally.AttendedFunds,
		OrganizerShare:       organizer,
		ComputedAt:           at,
	}, nil
}

// PayoutFor returns what an attendee may withdraw under s: their own
// deposit plus floor(redistributionAmount × amountPaid / attendeeRefundTotal).
func PayoutFor(s *model.Settlement, amountPaid money.Amount) (money.Amount, error) {
	if s.AttendeeRefundTotal <= 0 || s.RedistributionAmount == 0 {
		return amountPaid, nil
	}
	share, err := money.MulDiv(s.RedistributionAmount, amountPaid.Int64(), s.AttendeeRefundTotal.Int64())
	if err != nil {
		return 0, fmt.Errorf("pro-rata share: %w", err)
	}
	return amountPaid.Add(share)
}

// settlementGate wraps ComputeSettlement with the end-time check so it
// runs under the same ledger lock that freezes the partition.
func (s *EscrowService) settlementGate(ev *model.Event, participants []model.Participant, now time.Time) (*model.Settlement, error) {
	if now.Before(ev.EventEndTime.Add(s.cfg.FinalizeBuffer)) {
		return nil, model.ErrEventNotYetEnded
	}
	return ComputeSettlement(ev, participants, now)
}

// FinalizeEvent closes the event, freezes the attendee/absentee split and
// pays the organizer's share. Attendees claim theirs later through
// WithdrawRedistribution.
//
// The split is persisted before the organizer transfer. If the transfer
// fails the event stays in the settling phase and a retry (by the
// organizer or the reconciler) pays the same amount under the same key.
func (s *EscrowService) FinalizeEvent(ctx context.Context, eventID, caller string) (res *model.FinalizeResult, err error) {
	defer s.observe("finalize_event", time.Now(), &err)

	ev, err := s.loadOwnedEvent(ctx, eventID, caller)
	if err != nil {
		return nil, err
	}
	settlement, err := s.ledger.BeginSettlement(ctx, eventID, s.now(), s.settlementGate)
	if err != nil {
		return nil, err
	}
	return s.completeSettlement(ctx, ev, settlement)
}

func (s *EscrowService) completeSettlement(ctx context.Context, ev *model.Event, settlement *model.Settlement) (*model.FinalizeResult, error) {
	var receipt *model.TransferReceipt
	if settlement.OrganizerShare > 0 {
		var err error
		receipt, err = s.transfer(ctx, "organizer", ev.EscrowAccount(), ev.Organizer, settlement.OrganizerShare, finalizeKey(ev.ID))
		if err != nil {
			return nil, err
		}
	}

	receiptID := ""
	if receipt != nil {
		receiptID = receipt.ID
	}
	now := s.now()
	if _, err := s.ledger.CompleteSettlement(ctx, ev.ID, receiptID, now); err != nil {
		return nil, err
	}
	settlement.OrganizerReceipt = receiptID
	settlement.CompletedAt = &now

	if receipt != nil {
		s.metrics.Released("organizer", settlement.OrganizerShare.Int64())
		s.emit(notify.OrganizerPaid, ev.ID,
			notify.WithAccount(ev.Organizer), notify.WithAmount(settlement.OrganizerShare), notify.WithReceipt(receiptID))
	}
	s.log.Info().
		Str("event_id", ev.ID).
		Int("attendees", settlement.AttendeeCount).
		Int("absentees", settlement.AbsenteeCount).
		Int64("no_show_pool", settlement.NoShowPool.Int64()).
		Int64("redistribution", settlement.RedistributionAmount.Int64()).
		Int64("organizer_share", settlement.OrganizerShare.Int64()).
		Msg("event finalized")
	s.emit(notify.EventFinalized, ev.ID, notify.WithAmount(settlement.TotalFunds))

	return &model.FinalizeResult{Settlement: settlement, Receipt: receipt}, nil
}

// CalculatePotentialRedistribution previews what participant could
// withdraw right now: principal plus pro-rata bonus for an attendee of a
// finalized event who has not withdrawn, and zero otherwise.
func (s *EscrowService) CalculatePotentialRedistribution(ctx context.Context, eventID, participant string) (money.Amount, error) {
	ev, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if !ev.IsFinalized {
		return 0, nil
	}
	p, err := s.ledger.GetParticipant(ctx, eventID, participant)
	if err != nil {
		if errors.Is(err, model.ErrParticipantNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if !p.HasAttended || p.HasWithdrawn {
		return 0, nil
	}
	settlement, err := s.ledger.GetSettlement(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return PayoutFor(settlement, p.AmountPaid)
}

// WithdrawRedistribution pays an attendee their deposit plus their share of
// the redistribution, then marks them withdrawn.
func (s *EscrowService) WithdrawRedistribution(ctx context.Context, eventID, claimant string) (res *model.WithdrawResult, err error) {
	defer s.observe("withdraw_redistribution", time.Now(), &err)

	claimant, err = validateAccount(claimant)
	if err != nil {
		return nil, err
	}
	ev, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.IsFinalized {
		return nil, model.ErrNotFinalized
	}
	p, err := s.ledger.GetParticipant(ctx, eventID, claimant)
	if err != nil {
		if errors.Is(err, model.ErrParticipantNotFound) {
			return nil, model.ErrNotAttended
		}
		return nil, err
	}
	if !p.HasAttended {
		return nil, model.ErrNotAttended
	}
	if p.HasWithdrawn {
		return nil, model.ErrAlreadyWithdrawn
	}
	settlement, err := s.ledger.GetSettlement(ctx, eventID)
	if err != nil {
		return nil, err
	}
	amount, err := PayoutFor(settlement, p.AmountPaid)
	if err != nil {
		return nil, err
	}

	receipt, err := s.transfer(ctx, "withdrawal", ev.EscrowAccount(), claimant, amount, withdrawKey(eventID, claimant))
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.RecordWithdrawal(ctx, eventID, claimant, amount, receipt.ID); err != nil {
		return nil, err
	}

	s.metrics.Released("withdrawal", amount.Int64())
	s.log.Info().
		Str("event_id", eventID).
		Str("claimant", claimant).
		Int64("amount", amount.Int64()).
		Str("receipt", receipt.ID).
		Msg("redistribution withdrawn")
	s.emit(notify.RedistributionWithdrawn, eventID,
		notify.WithAccount(claimant), notify.WithAmount(amount), notify.WithReceipt(receipt.ID))
	return &model.WithdrawResult{Amount: amount, Receipt: receipt}, nil
}
