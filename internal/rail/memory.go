package rail

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
)

// Fault is an injected failure for MemoryRail. It fires on transfers whose
// idempotency key starts with KeyPrefix, at most Times times.
type Fault struct {
	KeyPrefix string
	Err       error
	// AfterCommit applies the transfer before returning Err, the way a
	// timed-out call that actually landed looks to the caller.
	AfterCommit bool
	Times       int
}

// MemoryRail is an in-process rail for tests and the memory storage mode.
type MemoryRail struct {
	mu        sync.Mutex
	balances  map[string]money.Amount
	transfers map[string]*model.TransferReceipt
	log       []*model.TransferReceipt
	faults    []*Fault
	attempts  int
	now       func() time.Time
}

// NewMemoryRail returns an empty rail.
func NewMemoryRail() *MemoryRail {
	return &MemoryRail{
		balances:  make(map[string]money.Amount),
		transfers: make(map[string]*model.TransferReceipt),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Inject queues a fault. Faults are matched in insertion order.
func (r *MemoryRail) Inject(f Fault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Times <= 0 {
		f.Times = 1
	}
	r.faults = append(r.faults, &f)
}

// Transfer moves amount from one account to another exactly once per key.
func (r *MemoryRail) Transfer(ctx context.Context, from, to string, amount money.Amount, key string) (*model.TransferReceipt, error) {
	if err := validateTransfer(from, to, amount, key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++

	fault := r.takeFault(key)
	if fault != nil && !fault.AfterCommit {
		return nil, fault.Err
	}

	if existing, ok := r.transfers[key]; ok {
		receipt, err := replay(existing, from, to, amount)
		if err == nil && fault != nil {
			return nil, fault.Err
		}
		return receipt, err
	}

	if r.balances[from] < amount {
		return nil, fmt.Errorf("%w: %s holds %d, needs %d", model.ErrInsufficientFunds, from, r.balances[from], amount)
	}
	credited, err := r.balances[to].Add(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrTransferRejected, err)
	}
	r.balances[from] -= amount
	r.balances[to] = credited

	receipt := &model.TransferReceipt{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		From:           from,
		To:             to,
		Amount:         amount,
		CreatedAt:      r.now(),
	}
	r.transfers[key] = receipt
	r.log = append(r.log, receipt)

	if fault != nil {
		return nil, fault.Err
	}
	cp := *receipt
	return &cp, nil
}

func (r *MemoryRail) takeFault(key string) *Fault {
	for i, f := range r.faults {
		if !strings.HasPrefix(key, f.KeyPrefix) {
			continue
		}
		f.Times--
		if f.Times == 0 {
			r.faults = append(r.faults[:i], r.faults[i+1:]...)
		}
		return f
	}
	return nil
}

// Lookup returns the committed transfer stored under key, or nil.
func (r *MemoryRail) Lookup(_ context.Context, key string) (*model.TransferReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[key]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// Fund mints amount into account. It backs the development faucet.
func (r *MemoryRail) Fund(_ context.Context, account string, amount money.Amount) (money.Amount, error) {
	if strings.TrimSpace(account) == "" || amount <= 0 {
		return 0, fmt.Errorf("%w: fund needs an account and a positive amount", model.ErrTransferRejected)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.balances[account].Add(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrTransferRejected, err)
	}
	r.balances[account] = next
	return next, nil
}

// Balance returns the current balance of account.
func (r *MemoryRail) Balance(_ context.Context, account string) (money.Amount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[account], nil
}

// Transfers returns every committed transfer in commit order.
func (r *MemoryRail) Transfers() []model.TransferReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TransferReceipt, len(r.log))
	for i, t := range r.log {
		out[i] = *t
	}
	return out
}

// Attempts returns how many Transfer calls passed validation.
func (r *MemoryRail) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
