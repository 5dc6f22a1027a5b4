package service

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
)

// GetEventInfo returns the event.
func (s *EscrowService) GetEventInfo(ctx context.Context, eventID string) (*model.Event, error) {
	return s.ledger.GetEvent(ctx, eventID)
}

// ListEvents returns every event, newest first.
func (s *EscrowService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.ledger.ListEvents(ctx)
}

// GetParticipantInfo returns the escrow record of account for eventID.
func (s *EscrowService) GetParticipantInfo(ctx context.Context, eventID, account string) (*model.Participant, error) {
	if _, err := s.ledger.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.ledger.GetParticipant(ctx, eventID, account)
}

// ListParticipants returns every participant of eventID.
func (s *EscrowService) ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error) {
	if _, err := s.ledger.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.ledger.ListParticipants(ctx, eventID)
}

// ListRegistrations returns the free-event sign-ups of eventID.
func (s *EscrowService) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if _, err := s.ledger.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.regs.ListRegistrations(ctx, eventID)
}

// PreviewSettlement returns the split finalization would produce now, or
// the frozen split once finalization has started. It does not check the
// event end time.
func (s *EscrowService) PreviewSettlement(ctx context.Context, eventID string) (*model.Settlement, error) {
	ev, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.settlementView(ctx, ev)
}

func (s *EscrowService) settlementView(ctx context.Context, ev *model.Event) (*model.Settlement, error) {
	if frozen(ev) {
		return s.ledger.GetSettlement(ctx, ev.ID)
	}
	participants, err := s.ledger.ListParticipants(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return ComputeSettlement(ev, participants, s.now())
}

func frozen(ev *model.Event) bool {
	return ev.Phase == model.PhaseSettling || ev.IsFinalized
}

// GetEventStats reports the attendee/absentee partition and the money
// derived from it.
func (s *EscrowService) GetEventStats(ctx context.Context, eventID string) (*model.EventStats, error) {
	ev, err := s.ledger.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	tally, err := s.ledger.Stats(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	split, err := s.settlementView(ctx, ev)
	if err != nil {
		return nil, err
	}

	return &model.EventStats{
		EventID:              ev.ID,
		Phase:                ev.Phase,
		TotalParticipants:    split.AttendeeCount + split.AbsenteeCount,
		AttendeeCount:        split.AttendeeCount,
		AbsenteeCount:        split.AbsenteeCount,
		TotalAbsenteeFunds:   split.NoShowPool,
		RedistributionAmount: split.RedistributionAmount,
		AttendeeRefundTotal:  split.AttendeeRefundTotal,
		OrganizerShare:       split.OrganizerShare,
		WithdrawnCount:       tally.WithdrawnCount,
		TotalWithdrawn:       tally.WithdrawnFunds,
		RefundedCount:        tally.RefundedCount,
		Frozen:               frozen(ev),
	}, nil
}
