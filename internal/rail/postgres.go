package rail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
	"github.com/Shivanand-hulikatti/event-escrow/internal/observability"
)

// PostgresRail keeps balances and the transfer journal in PostgreSQL.
type PostgresRail struct {
	db      *pgxpool.Pool
	cache   *ReceiptCache
	metrics *observability.Metrics
}

// NewPostgresRail constructs a PostgresRail with a receipt cache of
// cacheSize entries. metrics may be nil.
func NewPostgresRail(db *pgxpool.Pool, cacheSize int, metrics *observability.Metrics) *PostgresRail {
	return &PostgresRail{db: db, cache: NewReceiptCache(cacheSize), metrics: metrics}
}

// Transfer debits from and credits to inside one transaction.
//
// Both account rows are locked with SELECT … FOR UPDATE in account order
// before the journal is consulted, so concurrent calls with the same key
// serialize and the loser sees the winner's committed receipt.
func (r *PostgresRail) Transfer(ctx context.Context, from, to string, amount money.Amount, key string) (*model.TransferReceipt, error) {
	if err := validateTransfer(from, to, amount, key); err != nil {
		return nil, err
	}
	if cached, ok := r.cache.Get(key); ok {
		r.metrics.CacheHit()
		return replay(cached, from, to, amount)
	}

	receipt, err := r.transfer(ctx, from, to, amount, key)
	if err != nil {
		return nil, classify(err)
	}
	r.cache.Put(receipt)
	return receipt, nil
}

func (r *PostgresRail) transfer(ctx context.Context, from, to string, amount money.Amount, key string) (receipt *model.TransferReceipt, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO rail_accounts (account) VALUES ($1), ($2)
		 ON CONFLICT (account) DO NOTHING`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure accounts: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT account, balance FROM rail_accounts
		 WHERE account = ANY($1)
		 ORDER BY account
		 FOR UPDATE`,
		[]string{from, to},
	)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	balances := make(map[string]money.Amount, 2)
	for rows.Next() {
		var account string
		var balance int64
		if err = rows.Scan(&account, &balance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan account: %w", err)
		}
		balances[account] = money.Amount(balance)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}

	existing, err := lookupTransfer(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_ = tx.Rollback(ctx)
		return replay(existing, from, to, amount)
	}

	if balances[from] < amount {
		err = fmt.Errorf("%w: %s holds %d, needs %d", model.ErrInsufficientFunds, from, balances[from], amount)
		return nil, err
	}
	if _, err = balances[to].Add(amount); err != nil {
		err = fmt.Errorf("%w: %v", model.ErrTransferRejected, err)
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE rail_accounts SET balance = balance - $2, updated_at = NOW() WHERE account = $1`,
		from, int64(amount),
	)
	if err != nil {
		return nil, fmt.Errorf("debit %s: %w", from, err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE rail_accounts SET balance = balance + $2, updated_at = NOW() WHERE account = $1`,
		to, int64(amount),
	)
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", to, err)
	}

	receipt = &model.TransferReceipt{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		From:           from,
		To:             to,
		Amount:         amount,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO rail_transfers (idempotency_key, id, from_account, to_account, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		receipt.IdempotencyKey, receipt.ID, receipt.From, receipt.To, int64(receipt.Amount), receipt.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transfer: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return receipt, nil
}

// Lookup returns the journaled transfer for key, or nil when none committed.
func (r *PostgresRail) Lookup(ctx context.Context, key string) (*model.TransferReceipt, error) {
	if cached, ok := r.cache.Get(key); ok {
		r.metrics.CacheHit()
		return cached, nil
	}
	t, err := lookupTransfer(ctx, r.db, key)
	if err != nil {
		return nil, classify(err)
	}
	if t != nil {
		r.cache.Put(t)
	}
	return t, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lookupTransfer(ctx context.Context, q rowQuerier, key string) (*model.TransferReceipt, error) {
	var t model.TransferReceipt
	var amount int64
	err := q.QueryRow(ctx,
		`SELECT idempotency_key, id, from_account, to_account, amount, created_at
		 FROM rail_transfers WHERE idempotency_key = $1`,
		key,
	).Scan(&t.IdempotencyKey, &t.ID, &t.From, &t.To, &amount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup transfer: %w", err)
	}
	t.Amount = money.Amount(amount)
	return &t, nil
}

// Fund mints amount into account and returns the new balance.
func (r *PostgresRail) Fund(ctx context.Context, account string, amount money.Amount) (money.Amount, error) {
	if account == "" || amount <= 0 {
		return 0, fmt.Errorf("%w: fund needs an account and a positive amount", model.ErrTransferRejected)
	}
	var balance int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO rail_accounts (account, balance) VALUES ($1, $2)
		 ON CONFLICT (account) DO UPDATE
		 SET balance = rail_accounts.balance + EXCLUDED.balance, updated_at = NOW()
		 RETURNING balance`,
		account, int64(amount),
	).Scan(&balance)
	if err != nil {
		return 0, classify(fmt.Errorf("fund %s: %w", account, err))
	}
	return money.Amount(balance), nil
}

// Balance returns the balance of account; unknown accounts hold zero.
func (r *PostgresRail) Balance(ctx context.Context, account string) (money.Amount, error) {
	var balance int64
	err := r.db.QueryRow(ctx,
		`SELECT balance FROM rail_accounts WHERE account = $1`,
		account,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, classify(fmt.Errorf("balance %s: %w", account, err))
	}
	return money.Amount(balance), nil
}
