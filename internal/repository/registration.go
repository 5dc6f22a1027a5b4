package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
)

const registrationColumns = `id, event_id, account, checked_in, checked_in_at, created_at`

// RegistrationRepository handles persistence for free-event registrations.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(&reg.ID, &reg.EventID, &reg.Account, &reg.CheckedIn, &reg.CheckedInAt, &reg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotRegistered
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	return &reg, nil
}

// Register books account onto ev inside a serialised transaction.
//
// A naive read-then-write lets two sign-ups both see the last free seat:
//
//	A: SELECT COUNT(*) … → 9      B: SELECT COUNT(*) … → 9
//	A: 9 < 10, INSERT              B: 9 < 10, INSERT     → 11 seats taken
//
// Locking the event row with SELECT … FOR UPDATE first makes the second
// transaction wait until the first commits, so it counts 10 and stops.
func (r *RegistrationRepository) Register(ctx context.Context, ev *model.Event, account string, at time.Time) (reg *model.Registration, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Step 1: lock the event and re-read its state.
	locked, err := lockEvent(ctx, tx, ev.ID)
	if err != nil {
		return nil, err
	}
	if !locked.AcceptsMutations() {
		err = fmt.Errorf("%w: %w", model.ErrEventClosed, locked.ClosedError())
		return nil, err
	}

	// Step 2: reject duplicates and count seats.
	var dupCount, booked int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE account = $2), COUNT(*)
		 FROM registrations WHERE event_id = $1`,
		ev.ID, account,
	).Scan(&dupCount, &booked)
	if err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}
	if dupCount > 0 {
		err = model.ErrAlreadyRegistered
		return nil, err
	}

	// Step 3: guard against overbooking.
	if locked.IsFull(booked) {
		err = model.ErrEventFull
		return nil, err
	}

	// Step 4: create the registration record.
	reg = &model.Registration{
		ID:        uuid.New().String(),
		EventID:   ev.ID,
		Account:   account,
		CreatedAt: at,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO registrations (id, event_id, account, created_at)
		 VALUES ($1, $2, $3, $4)`,
		reg.ID, reg.EventID, reg.Account, reg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert registration: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return reg, nil
}

// CheckIn flags a registration as checked in. Repeating it is a no-op.
func (r *RegistrationRepository) CheckIn(ctx context.Context, eventID, account string, at time.Time) (*model.Registration, error) {
	return scanRegistration(r.db.QueryRow(ctx,
		`UPDATE registrations
		 SET checked_in = TRUE, checked_in_at = COALESCE(checked_in_at, $3)
		 WHERE event_id = $1 AND account = $2
		 RETURNING `+registrationColumns,
		eventID, account, at,
	))
}

// ListRegistrations returns all registrations for a given event.
func (r *RegistrationRepository) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}
