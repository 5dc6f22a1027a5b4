package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/notify"
)

// MarkAttendance records that participant showed up. Marking an attendee
// twice succeeds both times.
func (s *EscrowService) MarkAttendance(ctx context.Context, eventID, caller, participant string) (p *model.Participant, err error) {
	defer s.observe("mark_attendance", time.Now(), &err)

	marked, err := s.markBatch(ctx, eventID, caller, []string{participant})
	if err != nil {
		return nil, unwrapSingle(err)
	}
	return &marked[0], nil
}

// MarkAttendanceBatch marks every participant present or none of them.
// A rejected batch returns *model.BatchError naming each offending entry;
// any other error is a system failure. Repeated accounts are marked once.
func (s *EscrowService) MarkAttendanceBatch(ctx context.Context, eventID, caller string, participants []string) (ps []model.Participant, err error) {
	defer s.observe("mark_attendance_batch", time.Now(), &err)
	return s.markBatch(ctx, eventID, caller, participants)
}

func (s *EscrowService) markBatch(ctx context.Context, eventID, caller string, participants []string) ([]model.Participant, error) {
	if len(participants) == 0 {
		return nil, model.ErrEmptyBatch
	}

	seen := make(map[string]bool, len(participants))
	accounts := make([]string, 0, len(participants))
	var invalid []model.BatchEntryError
	for _, raw := range participants {
		account, err := validateAccount(raw)
		if err != nil {
			invalid = append(invalid, model.BatchEntryError{Account: raw, Err: err})
			continue
		}
		if !seen[account] {
			seen[account] = true
			accounts = append(accounts, account)
		}
	}
	if len(invalid) > 0 {
		return nil, &model.BatchError{Entries: invalid}
	}

	ev, err := s.loadOwnedEvent(ctx, eventID, caller)
	if err != nil {
		return nil, err
	}
	if ev.IsFree() {
		return nil, model.ErrFreeEvent
	}
	if !ev.AcceptsMutations() {
		return nil, closedError(ev)
	}
	return s.setAttendance(ctx, ev, accounts)
}

func (s *EscrowService) setAttendance(ctx context.Context, ev *model.Event, accounts []string) ([]model.Participant, error) {
	marked, err := s.ledger.SetAttendance(ctx, ev.ID, accounts, s.now())
	if err != nil {
		return nil, err
	}
	for _, p := range marked {
		s.emit(notify.AttendanceMarked, ev.ID, notify.WithAccount(p.Account))
	}
	s.log.Info().Str("event_id", ev.ID).Int("count", len(marked)).Msg("attendance marked")
	return marked, nil
}

// unwrapSingle turns a one-entry batch rejection into its underlying error.
func unwrapSingle(err error) error {
	var batch *model.BatchError
	if errors.As(err, &batch) && len(batch.Entries) == 1 {
		return batch.Entries[0].Err
	}
	return err
}
