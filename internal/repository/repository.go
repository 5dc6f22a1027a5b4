// Package repository implements the escrow ledger and free-event
// registrations on PostgreSQL, plus in-memory equivalents.
// It uses pgx directly (no ORM).
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
)

const eventColumns = `id, name, description, organizer, ticket_price, currency, event_end_time,
	redistribution_percentage, max_participants, total_funds, participant_count,
	phase, is_finalized, is_cancelled, created_at`

const participantColumns = `event_id, account, has_paid, amount_paid, has_attended, has_withdrawn,
	amount_withdrawn, refunded, purchase_receipt, withdrawal_receipt, refund_receipt,
	paid_at, attended_at`

const settlementColumns = `event_id, total_funds, attendee_count, absentee_count, no_show_pool,
	redistribution_amount, attendee_refund_total, organizer_share, organizer_receipt,
	computed_at, completed_at`

// PostgresLedger persists events, participants and settlements.
//
// Every mutation starts by locking the event row with SELECT … FOR UPDATE.
// Concurrent purchases, attendance marks, finalization and cancellation of
// one event therefore run one at a time, so counters and phase checks are
// always read and written under the same lock.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a PostgresLedger.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (l *PostgresLedger) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	var price, total int64
	var phase string
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Organizer, &price, &e.Currency, &e.EventEndTime,
		&e.RedistributionPercentage, &e.MaxParticipants, &total, &e.ParticipantCount,
		&phase, &e.IsFinalized, &e.IsCancelled, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrEventNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.TicketPrice = money.Amount(price)
	e.TotalFunds = money.Amount(total)
	e.Phase = model.Phase(phase)
	return &e, nil
}

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var paid, withdrawn int64
	err := row.Scan(&p.EventID, &p.Account, &p.HasPaid, &paid, &p.HasAttended, &p.HasWithdrawn,
		&withdrawn, &p.Refunded, &p.PurchaseReceipt, &p.WithdrawalReceipt, &p.RefundReceipt,
		&p.PaidAt, &p.AttendedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	p.AmountPaid = money.Amount(paid)
	p.AmountWithdrawn = money.Amount(withdrawn)
	return &p, nil
}

func scanSettlement(row pgx.Row) (*model.Settlement, error) {
	var s model.Settlement
	var total, pool, redistribution, refunds, organizer int64
	err := row.Scan(&s.EventID, &total, &s.AttendeeCount, &s.AbsenteeCount, &pool,
		&redistribution, &refunds, &organizer, &s.OrganizerReceipt,
		&s.ComputedAt, &s.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSettlementNotFound
		}
		return nil, fmt.Errorf("scan settlement: %w", err)
	}
	s.TotalFunds = money.Amount(total)
	s.NoShowPool = money.Amount(pool)
	s.RedistributionAmount = money.Amount(redistribution)
	s.AttendeeRefundTotal = money.Amount(refunds)
	s.OrganizerShare = money.Amount(organizer)
	return &s, nil
}

// lockEvent acquires an exclusive row-level lock on the event.
func lockEvent(ctx context.Context, tx pgx.Tx, eventID string) (*model.Event, error) {
	return scanEvent(tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM escrow_events WHERE id = $1 FOR UPDATE`,
		eventID,
	))
}

func listParticipants(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, eventID string) ([]model.Participant, error) {
	rows, err := q.Query(ctx,
		`SELECT `+participantColumns+`
		 FROM escrow_participants
		 WHERE event_id = $1 AND has_paid
		 ORDER BY paid_at ASC, account ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func setPhase(ctx context.Context, tx pgx.Tx, eventID string, phase model.Phase) error {
	_, err := tx.Exec(ctx,
		`UPDATE escrow_events
		 SET phase = $2,
		     is_finalized = ($2 = 'finalized'),
		     is_cancelled = ($2 = 'cancelled')
		 WHERE id = $1`,
		eventID, string(phase),
	)
	if err != nil {
		return fmt.Errorf("set phase %s: %w", phase, err)
	}
	return nil
}

// CreateEvent inserts ev; a reused id fails with ErrDuplicateEvent.
func (l *PostgresLedger) CreateEvent(ctx context.Context, ev *model.Event) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO escrow_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		ev.ID, ev.Name, ev.Description, ev.Organizer, int64(ev.TicketPrice), ev.Currency, ev.EventEndTime,
		ev.RedistributionPercentage, ev.MaxParticipants, int64(ev.TotalFunds), ev.ParticipantCount,
		string(ev.Phase), ev.IsFinalized, ev.IsCancelled, ev.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrDuplicateEvent
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns a single event or ErrEventNotFound.
func (l *PostgresLedger) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return scanEvent(l.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM escrow_events WHERE id = $1`,
		eventID,
	))
}

// ListEvents returns all events ordered by creation time descending.
func (l *PostgresLedger) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := l.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM escrow_events
		 ORDER BY created_at DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// RecordPurchase marks account as paid under the event lock.
func (l *PostgresLedger) RecordPurchase(ctx context.Context, eventID, account string, amount money.Amount, receiptID string, at time.Time) (*model.Participant, error) {
	var out *model.Participant
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !ev.AcceptsMutations() {
			return fmt.Errorf("%w: %w", model.ErrEventClosed, ev.ClosedError())
		}

		var hasPaid bool
		err = tx.QueryRow(ctx,
			`SELECT has_paid FROM escrow_participants WHERE event_id = $1 AND account = $2`,
			eventID, account,
		).Scan(&hasPaid)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if hasPaid {
			return model.ErrAlreadyPaid
		}
		if ev.IsFull(ev.ParticipantCount) {
			return model.ErrEventFull
		}
		if _, err := ev.TotalFunds.Add(amount); err != nil {
			return fmt.Errorf("total funds: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE escrow_events
			 SET total_funds = total_funds + $2, participant_count = participant_count + 1
			 WHERE id = $1`,
			eventID, int64(amount),
		)
		if err != nil {
			return fmt.Errorf("increment totals: %w", err)
		}

		out, err = scanParticipant(tx.QueryRow(ctx,
			`INSERT INTO escrow_participants (event_id, account, has_paid, amount_paid, purchase_receipt, paid_at)
			 VALUES ($1, $2, TRUE, $3, $4, $5)
			 ON CONFLICT (event_id, account) DO UPDATE
			 SET has_paid = TRUE, amount_paid = EXCLUDED.amount_paid,
			     purchase_receipt = EXCLUDED.purchase_receipt, paid_at = EXCLUDED.paid_at
			 RETURNING `+participantColumns,
			eventID, account, int64(amount), receiptID, at,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetAttendance marks every account present, or rejects the whole batch.
func (l *PostgresLedger) SetAttendance(ctx context.Context, eventID string, accounts []string, at time.Time) ([]model.Participant, error) {
	var out []model.Participant
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !ev.AcceptsMutations() {
			return fmt.Errorf("%w: %w", model.ErrEventClosed, ev.ClosedError())
		}

		paid := make(map[string]bool, len(accounts))
		rows, err := tx.Query(ctx,
			`SELECT account FROM escrow_participants
			 WHERE event_id = $1 AND account = ANY($2) AND has_paid`,
			eventID, accounts,
		)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		for rows.Next() {
			var a string
			if err := rows.Scan(&a); err != nil {
				rows.Close()
				return fmt.Errorf("scan batch: %w", err)
			}
			paid[a] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("load batch: %w", err)
		}

		var failures []model.BatchEntryError
		for _, a := range accounts {
			if !paid[a] {
				failures = append(failures, model.BatchEntryError{Account: a, Err: model.ErrNotPaid})
			}
		}
		if len(failures) > 0 {
			return &model.BatchError{Entries: failures}
		}

		rows, err = tx.Query(ctx,
			`UPDATE escrow_participants
			 SET has_attended = TRUE, attended_at = COALESCE(attended_at, $3)
			 WHERE event_id = $1 AND account = ANY($2)
			 RETURNING `+participantColumns,
			eventID, accounts, at,
		)
		if err != nil {
			return fmt.Errorf("mark attendance: %w", err)
		}
		defer rows.Close()
		byAccount := make(map[string]model.Participant, len(accounts))
		for rows.Next() {
			p, err := scanParticipant(rows)
			if err != nil {
				return err
			}
			byAccount[p.Account] = *p
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("mark attendance: %w", err)
		}
		for _, a := range accounts {
			out = append(out, byAccount[a])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BeginSettlement freezes the partition and moves the event to settling.
func (l *PostgresLedger) BeginSettlement(ctx context.Context, eventID string, now time.Time, compute model.SettlementFunc) (*model.Settlement, error) {
	var out *model.Settlement
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		switch {
		case ev.IsFinalized:
			return model.ErrAlreadyFinalized
		case ev.IsCancelled:
			return model.ErrAlreadyCancelled
		case ev.Phase == model.PhaseCancelling:
			return model.ErrCancellationPending
		case ev.Phase == model.PhaseSettling:
			out, err = scanSettlement(tx.QueryRow(ctx,
				`SELECT `+settlementColumns+` FROM escrow_settlements WHERE event_id = $1`,
				eventID,
			))
			return err
		}

		participants, err := listParticipants(ctx, tx, eventID)
		if err != nil {
			return err
		}
		s, err := compute(ev, participants, now)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO escrow_settlements (`+settlementColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			s.EventID, int64(s.TotalFunds), s.AttendeeCount, s.AbsenteeCount, int64(s.NoShowPool),
			int64(s.RedistributionAmount), int64(s.AttendeeRefundTotal), int64(s.OrganizerShare),
			s.OrganizerReceipt, s.ComputedAt, s.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
		if err := setPhase(ctx, tx, eventID, model.PhaseSettling); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteSettlement finalizes a settling event.
func (l *PostgresLedger) CompleteSettlement(ctx context.Context, eventID, receiptID string, at time.Time) (*model.Event, error) {
	var out *model.Event
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if ev.IsFinalized {
			return model.ErrAlreadyFinalized
		}
		if ev.Phase != model.PhaseSettling {
			return model.ErrSettlementNotFound
		}
		_, err = tx.Exec(ctx,
			`UPDATE escrow_settlements SET organizer_receipt = $2, completed_at = $3 WHERE event_id = $1`,
			eventID, receiptID, at,
		)
		if err != nil {
			return fmt.Errorf("complete settlement: %w", err)
		}
		if err := setPhase(ctx, tx, eventID, model.PhaseFinalized); err != nil {
			return err
		}
		ev.Phase = model.PhaseFinalized
		ev.IsFinalized = true
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSettlement returns the frozen settlement of the event.
func (l *PostgresLedger) GetSettlement(ctx context.Context, eventID string) (*model.Settlement, error) {
	return scanSettlement(l.db.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM escrow_settlements WHERE event_id = $1`,
		eventID,
	))
}

// BeginCancellation moves an open event to cancelling.
func (l *PostgresLedger) BeginCancellation(ctx context.Context, eventID string) (*model.Event, error) {
	var out *model.Event
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		switch {
		case ev.IsFinalized:
			return model.ErrAlreadyFinalized
		case ev.IsCancelled:
			return model.ErrAlreadyCancelled
		case ev.Phase == model.PhaseSettling:
			return model.ErrSettlementPending
		}
		if err := setPhase(ctx, tx, eventID, model.PhaseCancelling); err != nil {
			return err
		}
		ev.Phase = model.PhaseCancelling
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordRefund marks account refunded. Repeating it is a no-op.
func (l *PostgresLedger) RecordRefund(ctx context.Context, eventID, account, receiptID string) error {
	return l.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if ev.Phase != model.PhaseCancelling {
			return fmt.Errorf("%w: refund outside cancellation", model.ErrEventClosed)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE escrow_participants
			 SET refunded = TRUE,
			     refund_receipt = CASE WHEN refunded THEN refund_receipt ELSE $3 END
			 WHERE event_id = $1 AND account = $2 AND has_paid`,
			eventID, account, receiptID,
		)
		if err != nil {
			return fmt.Errorf("record refund: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrParticipantNotFound
		}
		return nil
	})
}

// CompleteCancellation cancels the event once every paid participant has
// been refunded.
func (l *PostgresLedger) CompleteCancellation(ctx context.Context, eventID string) (*model.Event, error) {
	var out *model.Event
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if ev.IsCancelled {
			return model.ErrAlreadyCancelled
		}
		if ev.Phase != model.PhaseCancelling {
			return fmt.Errorf("%w: cancellation not started", model.ErrEventClosed)
		}
		var pending int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM escrow_participants WHERE event_id = $1 AND has_paid AND NOT refunded`,
			eventID,
		).Scan(&pending)
		if err != nil {
			return fmt.Errorf("count pending refunds: %w", err)
		}
		if pending > 0 {
			return model.ErrRefundsPending
		}
		if err := setPhase(ctx, tx, eventID, model.PhaseCancelled); err != nil {
			return err
		}
		ev.Phase = model.PhaseCancelled
		ev.IsCancelled = true
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordWithdrawal marks an attendee's redistribution as paid out.
//
// The participant row is locked rather than the event: withdrawals never
// change event totals, and a finalized event never leaves that state.
func (l *PostgresLedger) RecordWithdrawal(ctx context.Context, eventID, account string, amount money.Amount, receiptID string) (*model.Participant, error) {
	var out *model.Participant
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		var finalized bool
		err := tx.QueryRow(ctx,
			`SELECT is_finalized FROM escrow_events WHERE id = $1`,
			eventID,
		).Scan(&finalized)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrEventNotFound
			}
			return fmt.Errorf("load event: %w", err)
		}
		if !finalized {
			return model.ErrNotFinalized
		}

		p, err := scanParticipant(tx.QueryRow(ctx,
			`SELECT `+participantColumns+`
			 FROM escrow_participants WHERE event_id = $1 AND account = $2
			 FOR UPDATE`,
			eventID, account,
		))
		if errors.Is(err, model.ErrParticipantNotFound) {
			return model.ErrNotAttended
		}
		if err != nil {
			return err
		}
		if !p.HasAttended {
			return model.ErrNotAttended
		}
		if p.HasWithdrawn {
			return model.ErrAlreadyWithdrawn
		}

		out, err = scanParticipant(tx.QueryRow(ctx,
			`UPDATE escrow_participants
			 SET has_withdrawn = TRUE, amount_withdrawn = $3, withdrawal_receipt = $4
			 WHERE event_id = $1 AND account = $2
			 RETURNING `+participantColumns,
			eventID, account, int64(amount), receiptID,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetParticipant returns the record of account at eventID.
func (l *PostgresLedger) GetParticipant(ctx context.Context, eventID, account string) (*model.Participant, error) {
	return scanParticipant(l.db.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM escrow_participants WHERE event_id = $1 AND account = $2`,
		eventID, account,
	))
}

// ListParticipants returns paid participants in purchase order.
func (l *PostgresLedger) ListParticipants(ctx context.Context, eventID string) ([]model.Participant, error) {
	return listParticipants(ctx, l.db, eventID)
}

// Stats aggregates the paid participants of eventID in one query.
func (l *PostgresLedger) Stats(ctx context.Context, eventID string) (*model.Tally, error) {
	var t model.Tally
	var attended, absent, withdrawn int64
	err := l.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE has_attended),
		        COUNT(*) FILTER (WHERE NOT has_attended),
		        COALESCE(SUM(amount_paid) FILTER (WHERE has_attended), 0)::BIGINT,
		        COALESCE(SUM(amount_paid) FILTER (WHERE NOT has_attended), 0)::BIGINT,
		        COUNT(*) FILTER (WHERE has_withdrawn),
		        COALESCE(SUM(amount_withdrawn) FILTER (WHERE has_withdrawn), 0)::BIGINT,
		        COUNT(*) FILTER (WHERE refunded)
		 FROM escrow_participants
		 WHERE event_id = $1 AND has_paid`,
		eventID,
	).Scan(&t.TotalParticipants, &t.AttendeeCount, &t.AbsenteeCount, &attended, &absent,
		&t.WithdrawnCount, &withdrawn, &t.RefundedCount)
	if err != nil {
		return nil, fmt.Errorf("tally participants: %w", err)
	}
	t.AttendedFunds = money.Amount(attended)
	t.AbsentFunds = money.Amount(absent)
	t.WithdrawnFunds = money.Amount(withdrawn)
	return &t, nil
}

// ListPending returns events in the settling or cancelling phase.
func (l *PostgresLedger) ListPending(ctx context.Context) ([]model.Event, error) {
	rows, err := l.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM escrow_events
		 WHERE phase IN ('settling', 'cancelling')
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
