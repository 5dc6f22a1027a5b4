package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
)

type eventRecord struct {
	mu           sync.Mutex
	event        model.Event
	participants map[string]*model.Participant
	settlement   *model.Settlement
}

func (r *eventRecord) paid() []model.Participant {
	out := make([]model.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.HasPaid {
			out = append(out, *p)
		}
	}
	sortParticipants(out)
	return out
}

func sortParticipants(ps []model.Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].PaidAt.Equal(ps[j].PaidAt) {
			return ps[i].PaidAt.Before(ps[j].PaidAt)
		}
		return ps[i].Account < ps[j].Account
	})
}

// MemoryLedger is an in-process Ledger. Each event has its own mutex, so
// operations on one event are serialized while different events proceed
// in parallel.
type MemoryLedger struct {
	mu     sync.RWMutex
	events map[string]*eventRecord
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{events: make(map[string]*eventRecord)}
}

func (l *MemoryLedger) record(eventID string) (*eventRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.events[eventID]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	return rec, nil
}

// CreateEvent stores ev; the id must be unused.
func (l *MemoryLedger) CreateEvent(_ context.Context, ev *model.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[ev.ID]; ok {
		return model.ErrDuplicateEvent
	}
	l.events[ev.ID] = &eventRecord{
		event:        *ev,
		participants: make(map[string]*model.Participant),
	}
	return nil
}

// GetEvent returns a copy of the event.
func (l *MemoryLedger) GetEvent(_ context.Context, eventID string) (*model.Event, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	ev := rec.event
	return &ev, nil
}

// ListEvents returns all events, newest first.
func (l *MemoryLedger) ListEvents(_ context.Context) ([]model.Event, error) {
	l.mu.RLock()
	recs := make([]*eventRecord, 0, len(l.events))
	for _, rec := range l.events {
		recs = append(recs, rec)
	}
	l.mu.RUnlock()

	out := make([]model.Event, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.event)
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RecordPurchase marks account as paid.
func (l *MemoryLedger) RecordPurchase(_ context.Context, eventID, account string, amount money.Amount, receiptID string, at time.Time) (*model.Participant, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ev := &rec.event
	if !ev.AcceptsMutations() {
		return nil, fmt.Errorf("%w: %w", model.ErrEventClosed, ev.ClosedError())
	}
	if p, ok := rec.participants[account]; ok && p.HasPaid {
		return nil, model.ErrAlreadyPaid
	}
	if ev.IsFull(ev.ParticipantCount) {
		return nil, model.ErrEventFull
	}
	total, err := ev.TotalFunds.Add(amount)
	if err != nil {
		return nil, fmt.Errorf("total funds: %w", err)
	}

	p := &model.Participant{
		EventID:         eventID,
		Account:         account,
		HasPaid:         true,
		AmountPaid:      amount,
		PurchaseReceipt: receiptID,
		PaidAt:          at,
	}
	rec.participants[account] = p
	ev.TotalFunds = total
	ev.ParticipantCount++

	out := *p
	return &out, nil
}

// SetAttendance marks every account present, or rejects the whole batch.
func (l *MemoryLedger) SetAttendance(_ context.Context, eventID string, accounts []string, at time.Time) ([]model.Participant, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.event.AcceptsMutations() {
		return nil, fmt.Errorf("%w: %w", model.ErrEventClosed, rec.event.ClosedError())
	}

	var failures []model.BatchEntryError
	for _, account := range accounts {
		if p, ok := rec.participants[account]; !ok || !p.HasPaid {
			failures = append(failures, model.BatchEntryError{Account: account, Err: model.ErrNotPaid})
		}
	}
	if len(failures) > 0 {
		return nil, &model.BatchError{Entries: failures}
	}

	out := make([]model.Participant, 0, len(accounts))
	for _, account := range accounts {
		p := rec.participants[account]
		if !p.HasAttended {
			t := at
			p.HasAttended = true
			p.AttendedAt = &t
		}
		out = append(out, *p)
	}
	return out, nil
}

// BeginSettlement freezes the partition and moves the event to settling.
func (l *MemoryLedger) BeginSettlement(_ context.Context, eventID string, now time.Time, compute model.SettlementFunc) (*model.Settlement, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ev := &rec.event
	switch {
	case ev.IsFinalized:
		return nil, model.ErrAlreadyFinalized
	case ev.IsCancelled:
		return nil, model.ErrAlreadyCancelled
	case ev.Phase == model.PhaseCancelling:
		return nil, model.ErrCancellationPending
	case ev.Phase == model.PhaseSettling:
		s := *rec.settlement
		return &s, nil
	}

	evCopy := *ev
	s, err := compute(&evCopy, rec.paid(), now)
	if err != nil {
		return nil, err
	}
	rec.settlement = s
	ev.Phase = model.PhaseSettling

	out := *s
	return &out, nil
}

// CompleteSettlement finalizes a settling event.
func (l *MemoryLedger) CompleteSettlement(_ context.Context, eventID, receiptID string, at time.Time) (*model.Event, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ev := &rec.event
	if ev.IsFinalized {
		return nil, model.ErrAlreadyFinalized
	}
	if ev.Phase != model.PhaseSettling || rec.settlement == nil {
		return nil, model.ErrSettlementNotFound
	}
	t := at
	rec.settlement.OrganizerReceipt = receiptID
	rec.settlement.CompletedAt = &t
	ev.IsFinalized = true
	ev.Phase = model.PhaseFinalized

	out := *ev
	return &out, nil
}

// GetSettlement returns the frozen settlement of the event.
func (l *MemoryLedger) GetSettlement(_ context.Context, eventID string) (*model.Settlement, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.settlement == nil {
		return nil, model.ErrSettlementNotFound
	}
	s := *rec.settlement
	return &s, nil
}

// BeginCancellation moves an open event to cancelling.
func (l *MemoryLedger) BeginCancellation(_ context.Context, eventID string) (*model.Event, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ev := &rec.event
	switch {
	case ev.IsFinalized:
		return nil, model.ErrAlreadyFinalized
	case ev.IsCancelled:
		return nil, model.ErrAlreadyCancelled
	case ev.Phase == model.PhaseSettling:
		return nil, model.ErrSettlementPending
	}
	ev.Phase = model.PhaseCancelling
	out := *ev
	return &out, nil
}

// RecordRefund marks account refunded. Repeating it is a no-op.
func (l *MemoryLedger) RecordRefund(_ context.Context, eventID, account, receiptID string) error {
	rec, err := l.record(eventID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.event.Phase != model.PhaseCancelling {
		return fmt.Errorf("%w: refund outside cancellation", model.ErrEventClosed)
	}
	p, ok := rec.participants[account]
	if !ok || !p.HasPaid {
		return model.ErrParticipantNotFound
	}
	if p.Refunded {
		return nil
	}
	p.Refunded = true
	p.RefundReceipt = receiptID
	return nil
}

// CompleteCancellation cancels the event once every paid participant has
// been refunded.
func (l *MemoryLedger) CompleteCancellation(_ context.Context, eventID string) (*model.Event, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ev := &rec.event
	if ev.IsCancelled {
		return nil, model.ErrAlreadyCancelled
	}
	if ev.Phase != model.PhaseCancelling {
		return nil, fmt.Errorf("%w: cancellation not started", model.ErrEventClosed)
	}
	for _, p := range rec.participants {
		if p.HasPaid && !p.Refunded {
			return nil, model.ErrRefundsPending
		}
	}
	ev.IsCancelled = true
	ev.Phase = model.PhaseCancelled
	out := *ev
	return &out, nil
}

// RecordWithdrawal marks an attendee's redistribution as paid out.
func (l *MemoryLedger) RecordWithdrawal(_ context.Context, eventID, account string, amount money.Amount, receiptID string) (*model.Participant, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.event.IsFinalized {
		return nil, model.ErrNotFinalized
	}
	p, ok := rec.participants[account]
	if !ok || !p.HasAttended {
		return nil, model.ErrNotAttended
	}
	if p.HasWithdrawn {
		return nil, model.ErrAlreadyWithdrawn
	}
	p.HasWithdrawn = true
	p.AmountWithdrawn = amount
	p.WithdrawalReceipt = receiptID

	out := *p
	return &out, nil
}

// GetParticipant returns the record of account at eventID.
func (l *MemoryLedger) GetParticipant(_ context.Context, eventID, account string) (*model.Participant, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p, ok := rec.participants[account]
	if !ok {
		return nil, model.ErrParticipantNotFound
	}
	out := *p
	return &out, nil
}

// ListParticipants returns paid participants in purchase order.
func (l *MemoryLedger) ListParticipants(_ context.Context, eventID string) ([]model.Participant, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.paid(), nil
}

// Stats partitions the paid participants of eventID.
func (l *MemoryLedger) Stats(_ context.Context, eventID string) (*model.Tally, error) {
	rec, err := l.record(eventID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return model.TallyOf(rec.paid())
}

// ListPending returns events in the settling or cancelling phase.
func (l *MemoryLedger) ListPending(_ context.Context) ([]model.Event, error) {
	l.mu.RLock()
	recs := make([]*eventRecord, 0, len(l.events))
	for _, rec := range l.events {
		recs = append(recs, rec)
	}
	l.mu.RUnlock()

	var out []model.Event
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.event.Phase == model.PhaseSettling || rec.event.Phase == model.PhaseCancelling {
			out = append(out, rec.event)
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryRegistrar keeps free-event registrations in process. Event state
// is read from the MemoryLedger it was built with.
type MemoryRegistrar struct {
	mu     sync.Mutex
	ledger *MemoryLedger
	byEvt  map[string][]*model.Registration
}

// NewMemoryRegistrar constructs an empty MemoryRegistrar backed by ledger.
func NewMemoryRegistrar(ledger *MemoryLedger) *MemoryRegistrar {
	return &MemoryRegistrar{ledger: ledger, byEvt: make(map[string][]*model.Registration)}
}

// Register books account onto the event, enforcing capacity and
// uniqueness. The event is re-read under its lock, so a registration
// never lands after the event has closed.
func (r *MemoryRegistrar) Register(_ context.Context, ev *model.Event, account string, at time.Time) (*model.Registration, error) {
	rec, err := r.ledger.record(ev.ID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	ev = &rec.event
	if !ev.AcceptsMutations() {
		return nil, fmt.Errorf("%w: %w", model.ErrEventClosed, ev.ClosedError())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byEvt[ev.ID]
	for _, reg := range regs {
		if reg.Account == account {
			return nil, model.ErrAlreadyRegistered
		}
	}
	if ev.IsFull(len(regs)) {
		return nil, model.ErrEventFull
	}
	reg := &model.Registration{
		ID:        uuid.New().String(),
		EventID:   ev.ID,
		Account:   account,
		CreatedAt: at,
	}
	r.byEvt[ev.ID] = append(regs, reg)
	out := *reg
	return &out, nil
}

// CheckIn flags a registration as checked in. Repeating it is a no-op.
func (r *MemoryRegistrar) CheckIn(_ context.Context, eventID, account string, at time.Time) (*model.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.byEvt[eventID] {
		if reg.Account != account {
			continue
		}
		if !reg.CheckedIn {
			t := at
			reg.CheckedIn = true
			reg.CheckedInAt = &t
		}
		out := *reg
		return &out, nil
	}
	return nil, model.ErrNotRegistered
}

// ListRegistrations returns registrations in sign-up order.
func (r *MemoryRegistrar) ListRegistrations(_ context.Context, eventID string) ([]model.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.byEvt[eventID]
	out := make([]model.Registration, len(regs))
	for i, reg := range regs {
		out[i] = *reg
	}
	return out, nil
}
