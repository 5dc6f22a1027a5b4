package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers deciding whether to retry.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindRail       Kind = "rail"
	KindInternal   Kind = "internal"
)

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

// Validation errors: bad input, no side effects.
var (
	ErrInvalidPrice      = newError(KindValidation, "invalid_price", "ticket price must be a non-negative amount")
	ErrInvalidPercentage = newError(KindValidation, "invalid_percentage", "redistribution percentage must be between 0 and 100")
	ErrInvalidEndTime    = newError(KindValidation, "invalid_end_time", "event end time must be in the future")
	ErrInvalidCapacity   = newError(KindValidation, "invalid_capacity", "max participants must be zero or positive")
	ErrInvalidAccount    = newError(KindValidation, "invalid_account", "account identifier is required")
	ErrInvalidAmount     = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrDuplicateEvent    = newError(KindValidation, "duplicate_event", "an event with this id already exists")
	ErrFreeEvent         = newError(KindValidation, "free_event", "free events do not sell tickets")
	ErrPaidEvent         = newError(KindValidation, "paid_event", "paid events require a ticket purchase")
	ErrEmptyBatch        = newError(KindValidation, "empty_batch", "at least one participant is required")
	ErrInvalidToken      = newError(KindValidation, "invalid_token", "check-in token is invalid")
	ErrInvalidEventID    = newError(KindValidation, "invalid_event_id", "event id may only contain letters, digits, '-' and '_' (max 64)")
	ErrMissingCaller     = newError(KindValidation, "missing_caller", "X-Account-ID header is required")
	ErrFaucetDisabled    = newError(KindValidation, "faucet_disabled", "test deposits are disabled")
)

// Not-found errors.
var (
	ErrEventNotFound       = newError(KindNotFound, "event_not_found", "event not found")
	ErrParticipantNotFound = newError(KindNotFound, "participant_not_found", "participant not found")
	ErrSettlementNotFound  = newError(KindNotFound, "settlement_not_found", "settlement not found")
)

// State errors: a precondition does not hold.
var (
	ErrAlreadyPaid         = newError(KindState, "already_paid", "participant has already paid")
	ErrEventClosed         = newError(KindState, "event_closed", "event no longer accepts purchases or attendance")
	ErrEventFull           = newError(KindState, "event_full", "event is fully booked")
	ErrAlreadyRegistered   = newError(KindState, "already_registered", "account already registered for this event")
	ErrNotRegistered       = newError(KindState, "not_registered", "account is not registered for this event")
	ErrNotPaid             = newError(KindState, "not_paid", "participant has not paid")
	ErrAlreadyFinalized    = newError(KindState, "already_finalized", "event is already finalized")
	ErrAlreadyCancelled    = newError(KindState, "already_cancelled", "event is already cancelled")
	ErrAlreadyWithdrawn    = newError(KindState, "already_withdrawn", "redistribution already withdrawn")
	ErrNotFinalized        = newError(KindState, "not_finalized", "event is not finalized")
	ErrNotAttended         = newError(KindState, "not_attended", "participant did not attend")
	ErrNotOrganizer        = newError(KindState, "not_organizer", "only the organizer can perform this action")
	ErrEventNotYetEnded    = newError(KindState, "event_not_yet_ended", "event has not ended yet")
	ErrSettlementPending   = newError(KindState, "settlement_pending", "finalization is in progress")
	ErrCancellationPending = newError(KindState, "cancellation_pending", "cancellation is in progress")
	ErrBatchRejected       = newError(KindState, "batch_rejected", "attendance batch rejected")
	ErrRefundsPending      = newError(KindRail, "refunds_pending", "some refunds did not complete")
)

// Rail errors: raised by the payment rail.
var (
	ErrInsufficientFunds   = newError(KindRail, "insufficient_funds", "insufficient funds")
	ErrTransferRejected    = newError(KindRail, "transfer_rejected", "transfer rejected")
	ErrTransferTimeout     = newError(KindRail, "transfer_timeout", "transfer timed out")
	ErrTransferFailed      = newError(KindRail, "transfer_failed", "transfer failed")
	ErrIdempotencyConflict = newError(KindRail, "idempotency_conflict", "idempotency key reused with different parameters")
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or "internal_error".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal_error"
}

// Causes lists every coded error wrapped in err, outermost first.
func Causes(err error) []*Error {
	var out []*Error
	var walk func(error)
	walk = func(e error) {
		if de, ok := e.(*Error); ok {
			out = append(out, de)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := u.Unwrap(); inner != nil {
				walk(inner)
			}
		}
	}
	if err != nil {
		walk(err)
	}
	return out
}

// Retryable reports whether repeating the whole operation may succeed
// without the caller changing anything.
func Retryable(err error) bool {
	if errors.Is(err, ErrInsufficientFunds) {
		return false
	}
	return KindOf(err) == KindRail
}

// BatchEntryError is one rejected element of an attendance batch.
type BatchEntryError struct {
	Account string
	Err     error
}

// BatchError rejects a whole attendance batch and lists every offender.
type BatchError struct {
	Entries []BatchEntryError
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Entries))
	for _, en := range e.Entries {
		parts = append(parts, fmt.Sprintf("%s: %v", en.Account, en.Err))
	}
	return fmt.Sprintf("%s (%d invalid): %s", ErrBatchRejected.msg, len(e.Entries), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() error { return ErrBatchRejected }

// RefundEntryError is one refund that did not complete during cancellation.
type RefundEntryError struct {
	Account string
	Err     error
}

// RefundError reports the refunds still outstanding after a cancellation run.
type RefundError struct {
	Entries []RefundEntryError
}

func (e *RefundError) Error() string {
	parts := make([]string, 0, len(e.Entries))
	for _, en := range e.Entries {
		parts = append(parts, fmt.Sprintf("%s: %v", en.Account, en.Err))
	}
	return fmt.Sprintf("%s (%d pending): %s", ErrRefundsPending.msg, len(e.Entries), strings.Join(parts, "; "))
}

func (e *RefundError) Unwrap() error { return ErrRefundsPending }
