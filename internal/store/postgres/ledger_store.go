package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Escrow and
// Settle run inside a single transaction so a trade row and its balance
// mutation commit or roll back together.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const tradeSelectCols = `id, user_id, pair, stake, direction, duration_seconds,
	entry_price, exit_price, state, outcome, profit, created_at, expires_at, settled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.FlashTrade, error) {
	var (
		t         domain.FlashTrade
		exitPrice *float64
		outcome   *string
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.Pair, &t.Stake, &t.Direction, &t.DurationSeconds,
		&t.EntryPrice, &exitPrice, &t.State, &outcome, &t.Profit,
		&t.CreatedAt, &t.ExpiresAt, &t.SettledAt,
	)
	if err != nil {
		return domain.FlashTrade{}, err
	}
	if exitPrice != nil {
		t.ExitPrice = *exitPrice
	}
	if outcome != nil {
		o := domain.Outcome(*outcome)
		t.Outcome = &o
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.FlashTrade, error) {
	var trades []domain.FlashTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Escrow implements domain.LedgerStore. The debit is a conditional UPDATE
// (balance >= stake in the WHERE clause), so two concurrent escrows can never
// both pass a check only one can satisfy.
func (s *LedgerStore) Escrow(ctx context.Context, trade domain.FlashTrade) (domain.FlashTrade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.FlashTrade{}, fmt.Errorf("postgres: begin escrow tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var before, after float64
	err = tx.QueryRow(ctx, `
		UPDATE users
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance + $2, balance`,
		trade.UserID, trade.Stake,
	).Scan(&before, &after)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", trade.UserID,
		).Scan(&exists); checkErr != nil {
			return domain.FlashTrade{}, fmt.Errorf("postgres: check user: %w", checkErr)
		}
		if !exists {
			return domain.FlashTrade{}, domain.ErrUserNotFound
		}
		return domain.FlashTrade{}, domain.ErrInsufficientBalance
	}
	if err != nil {
		return domain.FlashTrade{}, fmt.Errorf("postgres: escrow debit: %w", err)
	}

	trade.State = domain.TradeActive
	trade.Outcome = nil
	trade.SettledAt = nil

	err = scanInsertedTrade(tx.QueryRow(ctx, `
		INSERT INTO flash_trades (
			id, user_id, pair, stake, direction, duration_seconds,
			entry_price, state, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8, $9)
		RETURNING `+tradeSelectCols,
		trade.ID, trade.UserID, trade.Pair, trade.Stake, trade.Direction,
		trade.DurationSeconds, trade.EntryPrice, trade.CreatedAt, trade.ExpiresAt,
	), &trade)
	if err != nil {
		return domain.FlashTrade{}, fmt.Errorf("postgres: insert trade: %w", err)
	}

	if err := insertTransaction(ctx, tx, trade.UserID, domain.TxFlashTradeEscrow,
		trade.Stake, before, after, trade.ID); err != nil {
		return domain.FlashTrade{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.FlashTrade{}, fmt.Errorf("postgres: commit escrow: %w", err)
	}
	return trade, nil
}

func scanInsertedTrade(row rowScanner, out *domain.FlashTrade) error {
	t, err := scanTrade(row)
	if err != nil {
		return err
	}
	*out = t
	return nil
}

// Settle implements domain.LedgerStore. The state transition is a conditional
// UPDATE keyed on state = 'active'; concurrent settlements race on that
// predicate and exactly one wins, the rest see ErrAlreadySettled.
func (s *LedgerStore) Settle(ctx context.Context, tradeID string, outcome domain.Outcome, profit float64, exitPrice float64) (domain.SettleResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.SettleResult{}, fmt.Errorf("postgres: begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	trade, err := scanTrade(tx.QueryRow(ctx, `
		UPDATE flash_trades
		SET state = 'settled', outcome = $2, profit = $3, exit_price = $4, settled_at = NOW()
		WHERE id = $1 AND state = 'active'
		RETURNING `+tradeSelectCols,
		tradeID, string(outcome), profit, exitPrice,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM flash_trades WHERE id = $1)", tradeID,
		).Scan(&exists); checkErr != nil {
			return domain.SettleResult{}, fmt.Errorf("postgres: check trade: %w", checkErr)
		}
		if !exists {
			return domain.SettleResult{}, domain.ErrTradeNotFound
		}
		return domain.SettleResult{}, domain.ErrAlreadySettled
	}
	if err != nil {
		return domain.SettleResult{}, fmt.Errorf("postgres: settle trade: %w", err)
	}

	// Credit stake+profit back. On a loss profit is -stake, so the credit is
	// zero but the transaction record still lands.
	credit := trade.Stake + profit
	var before, after float64
	err = tx.QueryRow(ctx, `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance - $2, balance`,
		trade.UserID, credit,
	).Scan(&before, &after)
	if err != nil {
		return domain.SettleResult{}, fmt.Errorf("postgres: settle credit: %w", err)
	}

	txType := domain.TxFlashTradeWin
	if outcome == domain.OutcomeLose {
		txType = domain.TxFlashTradeLoss
	}
	if err := insertTransaction(ctx, tx, trade.UserID, txType, credit, before, after, trade.ID); err != nil {
		return domain.SettleResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SettleResult{}, fmt.Errorf("postgres: commit settle: %w", err)
	}
	return domain.SettleResult{Trade: trade, NewBalance: after}, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, userID string, typ domain.TransactionType, amount, before, after float64, reference string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (user_id, type, amount, balance_before, balance_after, reference)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, string(typ), amount, before, after, reference,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transaction: %w", err)
	}
	return nil
}

// GetTrade implements domain.LedgerStore.
func (s *LedgerStore) GetTrade(ctx context.Context, tradeID string) (domain.FlashTrade, error) {
	trade, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM flash_trades WHERE id = $1`, tradeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FlashTrade{}, domain.ErrTradeNotFound
	}
	if err != nil {
		return domain.FlashTrade{}, fmt.Errorf("postgres: get trade: %w", err)
	}
	return trade, nil
}

// ListActive implements domain.LedgerStore.
func (s *LedgerStore) ListActive(ctx context.Context) ([]domain.FlashTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM flash_trades WHERE state = 'active' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active trades: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// ListActiveByUser implements domain.LedgerStore.
func (s *LedgerStore) ListActiveByUser(ctx context.Context, userID string) ([]domain.FlashTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM flash_trades
		WHERE state = 'active' AND user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active trades by user: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// History implements domain.LedgerStore.
func (s *LedgerStore) History(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.FlashTrade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM flash_trades WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade history: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// GetBalance implements domain.LedgerStore.
func (s *LedgerStore) GetBalance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx,
		"SELECT balance FROM users WHERE id = $1", userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get balance: %w", err)
	}
	return balance, nil
}

// AdjustBalance implements domain.LedgerStore. Debits that would take the
// balance negative fail on the conditional UPDATE.
func (s *LedgerStore) AdjustBalance(ctx context.Context, userID string, amount float64, reference string) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin adjust tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var before, after float64
	err = tx.QueryRow(ctx, `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance - $2, balance`,
		userID, amount,
	).Scan(&before, &after)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID,
		).Scan(&exists); checkErr != nil {
			return 0, fmt.Errorf("postgres: check user: %w", checkErr)
		}
		if !exists {
			return 0, domain.ErrUserNotFound
		}
		return 0, domain.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: adjust balance: %w", err)
	}

	txType := domain.TxAdminCredit
	if amount < 0 {
		txType = domain.TxAdminDebit
	}
	if err := insertTransaction(ctx, tx, userID, txType, amount, before, after, reference); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit adjust: %w", err)
	}
	return after, nil
}

// ListSettledBefore implements domain.LedgerStore.
func (s *LedgerStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.FlashTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM flash_trades
		WHERE state = 'settled' AND settled_at < $1 ORDER BY settled_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled trades: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteSettledBefore implements domain.LedgerStore.
func (s *LedgerStore) DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM flash_trades WHERE state = 'settled' AND settled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settled trades: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SeedUser inserts a user with a starting balance if one does not already
// exist. Account provisioning proper is owned by the platform; this covers
// local runs and demos.
func (s *LedgerStore) SeedUser(ctx context.Context, userID string, balance float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, userID, balance)
	if err != nil {
		return fmt.Errorf("postgres: seed user: %w", err)
	}
	return nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
