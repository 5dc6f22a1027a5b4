package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrInvalidPrice, KindValidation},
		{fmt.Errorf("purchase: %w", ErrAlreadyPaid), KindState},
		{ErrEventNotFound, KindNotFound},
		{fmt.Errorf("transfer: %w", ErrTransferTimeout), KindRail},
		{errors.New("boom"), KindInternal},
		{&BatchError{Entries: []BatchEntryError{{Account: "a", Err: ErrNotPaid}}}, KindState},
		{&RefundError{}, KindRail},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(ErrInsufficientFunds) {
		t.Error("insufficient funds needs caller action, not a retry")
	}
	if !Retryable(fmt.Errorf("x: %w", ErrTransferTimeout)) {
		t.Error("timeout should be retryable")
	}
	if Retryable(ErrAlreadyPaid) {
		t.Error("state errors are not retryable")
	}
}

func TestBatchError(t *testing.T) {
	err := error(&BatchError{Entries: []BatchEntryError{
		{Account: "alice", Err: ErrNotPaid},
		{Account: "bob", Err: ErrParticipantNotFound},
	}})
	if !errors.Is(err, ErrBatchRejected) {
		t.Fatal("BatchError should match ErrBatchRejected")
	}
	if CodeOf(err) != "batch_rejected" {
		t.Errorf("CodeOf = %q", CodeOf(err))
	}
	var be *BatchError
	if !errors.As(err, &be) || len(be.Entries) != 2 {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !strings.Contains(err.Error(), "alice") || !strings.Contains(err.Error(), "2 invalid") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestEventClosedError(t *testing.T) {
	e := &Event{Phase: PhaseOpen}
	if !e.AcceptsMutations() || e.ClosedError() != nil {
		t.Fatal("open event should accept mutations")
	}
	e.Phase = PhaseSettling
	if e.AcceptsMutations() || !errors.Is(e.ClosedError(), ErrSettlementPending) {
		t.Errorf("settling: %v", e.ClosedError())
	}
	e.Phase, e.IsFinalized = PhaseFinalized, true
	if !errors.Is(e.ClosedError(), ErrAlreadyFinalized) {
		t.Errorf("finalized: %v", e.ClosedError())
	}
	e.Phase, e.IsFinalized, e.IsCancelled = PhaseCancelled, false, true
	if !errors.Is(e.ClosedError(), ErrAlreadyCancelled) {
		t.Errorf("cancelled: %v", e.ClosedError())
	}
}

func TestCauses(t *testing.T) {
	closed := fmt.Errorf("%w: %w", ErrEventClosed, ErrAlreadyCancelled)
	causes := Causes(fmt.Errorf("purchase: %w", closed))
	if len(causes) != 2 || causes[0] != ErrEventClosed || causes[1] != ErrAlreadyCancelled {
		t.Errorf("causes = %v", causes)
	}
	if got := Causes(errors.New("plain")); len(got) != 0 {
		t.Errorf("plain error causes = %v", got)
	}
	if got := Causes(nil); got != nil {
		t.Errorf("nil causes = %v", got)
	}
}
