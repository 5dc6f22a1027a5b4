// Package rail implements the payment rail that moves stablecoin value
// between accounts. Every transfer carries an idempotency key; replaying a
// key with the same parameters returns the original receipt and never moves
// value twice.
package rail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
)

func validateTransfer(from, to string, amount money.Amount, key string) error {
	switch {
	case strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "":
		return fmt.Errorf("%w: missing account", model.ErrTransferRejected)
	case from == to:
		return fmt.Errorf("%w: source and destination are the same account", model.ErrTransferRejected)
	case amount <= 0:
		return fmt.Errorf("%w: amount must be positive", model.ErrTransferRejected)
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: missing idempotency key", model.ErrTransferRejected)
	}
	return nil
}

// replay returns the stored receipt when it matches the requested transfer.
func replay(r *model.TransferReceipt, from, to string, amount money.Amount) (*model.TransferReceipt, error) {
	if r.From != from || r.To != to || r.Amount != amount {
		return nil, fmt.Errorf("%w: key %q was used for %s -> %s (%d)",
			model.ErrIdempotencyConflict, r.IdempotencyKey, r.From, r.To, r.Amount)
	}
	cp := *r
	return &cp, nil
}

// classify maps transport and context failures onto rail error sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", model.ErrTransferTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrTransferFailed, err)
}
