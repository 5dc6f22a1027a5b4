package rail

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
)

func fundedRail(t *testing.T, account string, amount money.Amount) *MemoryRail {
	t.Helper()
	r := NewMemoryRail()
	if _, err := r.Fund(context.Background(), account, amount); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return r
}

func TestMemoryRail_Transfer(t *testing.T) {
	ctx := context.Background()
	r := fundedRail(t, "alice", 100)

	receipt, err := r.Transfer(ctx, "alice", "escrow:e1", 40, "purchase:e1:alice")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.Amount != 40 || receipt.ID == "" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if b, _ := r.Balance(ctx, "alice"); b != 60 {
		t.Errorf("alice balance = %d, want 60", b)
	}
	if b, _ := r.Balance(ctx, "escrow:e1"); b != 40 {
		t.Errorf("escrow balance = %d, want 40", b)
	}
}

func TestMemoryRail_ReplaySameKey(t *testing.T) {
	ctx := context.Background()
	r := fundedRail(t, "alice", 100)

	first, err := r.Transfer(ctx, "alice", "bob", 30, "k1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Transfer(ctx, "alice", "bob", 30, "k1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("replay returned a new receipt: %s != %s", first.ID, second.ID)
	}
	if b, _ := r.Balance(ctx, "alice"); b != 70 {
		t.Errorf("value moved twice: alice = %d", b)
	}

	_, err = r.Transfer(ctx, "alice", "bob", 31, "k1")
	if !errors.Is(err, model.ErrIdempotencyConflict) {
		t.Errorf("expected idempotency conflict, got %v", err)
	}
}

func TestMemoryRail_Rejections(t *testing.T) {
	ctx := context.Background()
	r := fundedRail(t, "alice", 10)

	cases := []struct {
		name          string
		from, to, key string
		amount        money.Amount
		want          error
	}{
		{"insufficient", "alice", "bob", "k", 11, model.ErrInsufficientFunds},
		{"zero", "alice", "bob", "k", 0, model.ErrTransferRejected},
		{"self", "alice", "alice", "k", 1, model.ErrTransferRejected},
		{"no key", "alice", "bob", "", 1, model.ErrTransferRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Transfer(ctx, tc.from, tc.to, tc.amount, tc.key)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMemoryRail_CancelledContext(t *testing.T) {
	r := fundedRail(t, "alice", 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Transfer(ctx, "alice", "bob", 1, "k")
	if !errors.Is(err, model.ErrTransferTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestMemoryRail_FaultAfterCommit(t *testing.T) {
	ctx := context.Background()
	r := fundedRail(t, "escrow:e1", 100)
	r.Inject(Fault{KeyPrefix: "finalize:", Err: model.ErrTransferTimeout, AfterCommit: true})

	_, err := r.Transfer(ctx, "escrow:e1", "org", 50, "finalize:e1")
	if !errors.Is(err, model.ErrTransferTimeout) {
		t.Fatalf("expected injected timeout, got %v", err)
	}
	if b, _ := r.Balance(ctx, "org"); b != 50 {
		t.Fatalf("transfer should have landed, org = %d", b)
	}
	landed, err := r.Lookup(ctx, "finalize:e1")
	if err != nil || landed == nil || landed.Amount != 50 {
		t.Fatalf("lookup after timeout = %+v, %v", landed, err)
	}
	if missing, err := r.Lookup(ctx, "finalize:e2"); err != nil || missing != nil {
		t.Errorf("lookup of unused key = %+v, %v", missing, err)
	}

	receipt, err := r.Transfer(ctx, "escrow:e1", "org", 50, "finalize:e1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if receipt.Amount != 50 {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if b, _ := r.Balance(ctx, "org"); b != 50 {
		t.Errorf("retry moved value again, org = %d", b)
	}
}

func TestMemoryRail_FaultBeforeCommit(t *testing.T) {
	ctx := context.Background()
	r := fundedRail(t, "alice", 100)
	r.Inject(Fault{KeyPrefix: "purchase:", Err: model.ErrTransferFailed, Times: 2})

	for i := 0; i < 2; i++ {
		if _, err := r.Transfer(ctx, "alice", "escrow:e1", 10, "purchase:e1:alice"); !errors.Is(err, model.ErrTransferFailed) {
			t.Fatalf("attempt %d: expected failure, got %v", i, err)
		}
	}
	if _, err := r.Transfer(ctx, "alice", "escrow:e1", 10, "purchase:e1:alice"); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if got := len(r.Transfers()); got != 1 {
		t.Errorf("transfers = %d, want 1", got)
	}
}

func TestMemoryRail_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	r := fundedRail(t, "alice", 100)

	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := r.Transfer(ctx, "alice", "escrow:e1", 25, "purchase:e1:alice")
			if err != nil {
				t.Errorf("transfer: %v", err)
				return
			}
			ids <- receipt.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected one receipt id, got %d", len(seen))
	}
	if b, _ := r.Balance(ctx, "alice"); b != 75 {
		t.Errorf("alice = %d, want 75", b)
	}
}
