package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
)

// ResumePending completes settlements and cancellations that an organizer
// started but that did not finish, for example after a rail timeout or a
// restart. It never starts a transition. It returns the number of events
// that reached a terminal phase.
func (s *EscrowService) ResumePending(ctx context.Context) (int, error) {
	pending, err := s.ledger.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	var settling, cancelling int
	for _, ev := range pending {
		switch ev.Phase {
		case model.PhaseSettling:
			settling++
		case model.PhaseCancelling:
			cancelling++
		}
	}
	s.metrics.SetPending(string(model.PhaseSettling), settling)
	s.metrics.SetPending(string(model.PhaseCancelling), cancelling)

	done := 0
	for i := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		ev := &pending[i]
		log := s.log.With().Str("event_id", ev.ID).Str("phase", string(ev.Phase)).Logger()

		switch ev.Phase {
		case model.PhaseSettling:
			settlement, err := s.ledger.GetSettlement(ctx, ev.ID)
			if err != nil {
				log.Error().Err(err).Msg("load frozen settlement")
				continue
			}
			if _, err := s.completeSettlement(ctx, ev, settlement); err != nil {
				log.Warn().Err(err).Msg("settlement still pending")
				continue
			}
		case model.PhaseCancelling:
			if _, err := s.processRefunds(ctx, ev); err != nil {
				var refundErr *model.RefundError
				if errors.As(err, &refundErr) {
					log.Warn().Int("pending", len(refundErr.Entries)).Msg("refunds still pending")
				} else {
					log.Error().Err(err).Msg("resume cancellation")
				}
				continue
			}
		default:
			continue
		}
		log.Info().Msg("pending transition completed")
		done++
	}
	return done, nil
}

// Reconciler periodically calls ResumePending.
type Reconciler struct {
	svc      *EscrowService
	interval time.Duration
}

// NewReconciler returns a Reconciler ticking every interval.
func NewReconciler(svc *EscrowService, interval time.Duration) *Reconciler {
	return &Reconciler{svc: svc, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.svc.ResumePending(ctx); err != nil && ctx.Err() == nil {
			r.svc.log.Error().Err(err).Msg("reconcile sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
