package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ssa-exchange/settlement-engine/internal/accounting"
	"github.com/ssa-exchange/settlement-engine/internal/config"
	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts are NUMERIC and scanned straight into decimal.Decimal.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPool opens a bounded pool and verifies connectivity.
func NewPool(ctx context.Context, cfg config.Database) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.IdleTimeout > 0 {
		pcfg.MaxConnIdleTime = cfg.IdleTimeout
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	pcfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

func (s *PostgresStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT wallet_address, base_currency, created_at, updated_at
		 FROM users WHERE wallet_address = $1`, address).
		Scan(&a.Address, &a.BaseCurrency, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, classify(fmt.Errorf("get account %s: %w", address, err))
	}
	return &a, nil
}

func (s *PostgresStore) RecordTrade(ctx context.Context, tx *model.Transaction, baseCurrency string) (*model.Position, error) {
	if !tx.IsTrade() {
		return nil, fmt.Errorf("%w: %s", accounting.ErrNotPositionEvent, tx.Type)
	}

	var out model.Position
	err := pgx.BeginFunc(ctx, s.pool, func(dbtx pgx.Tx) error {
		userID, err := upsertAccount(ctx, dbtx, tx.Account, baseCurrency)
		if err != nil {
			return err
		}
		if tx.Type == model.TxBuy {
			// A row must exist before FOR UPDATE can serialize concurrent first buys.
			if _, err := dbtx.Exec(ctx,
				`INSERT INTO portfolio_positions (user_id, symbol, market, last_updated)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (user_id, symbol) DO NOTHING`,
				userID, tx.Symbol, string(tx.Market), tx.Timestamp); err != nil {
				return fmt.Errorf("seed position: %w", err)
			}
		}

		prev, err := lockPosition(ctx, dbtx, userID, tx.Account, tx.Symbol)
		if err != nil {
			return err
		}
		next, err := accounting.Apply(prev, tx)
		if err != nil {
			return err
		}
		if err := insertTransaction(ctx, dbtx, userID, tx); err != nil {
			return err
		}
		if _, err := dbtx.Exec(ctx,
			`UPDATE portfolio_positions
			 SET current_quantity = $3, total_cost_basis = $4, average_cost_per_share = $5,
			     realized_profit_loss = $6, last_updated = $7
			 WHERE user_id = $1 AND symbol = $2`,
			userID, tx.Symbol,
			next.CurrentQuantity, next.TotalCostBasis, next.AverageCostPerShare,
			next.RealizedProfitLoss, next.UpdatedAt); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return &out, nil
}

func (s *PostgresStore) RecordCurrency(ctx context.Context, tx *model.Transaction, baseCurrency string) (*model.CurrencyBalance, error) {
	delta, err := currencyDelta(tx)
	if err != nil {
		return nil, err
	}

	var out model.CurrencyBalance
	err = pgx.BeginFunc(ctx, s.pool, func(dbtx pgx.Tx) error {
		userID, err := upsertAccount(ctx, dbtx, tx.Account, baseCurrency)
		if err != nil {
			return err
		}
		if err := insertTransaction(ctx, dbtx, userID, tx); err != nil {
			return err
		}
		out = model.CurrencyBalance{Account: tx.Account, Currency: tx.Symbol}
		return dbtx.QueryRow(ctx,
			`INSERT INTO currency_balances (user_id, currency, balance, last_updated)
			 VALUES ($1, $2, GREATEST($3::NUMERIC, 0), $4)
			 ON CONFLICT (user_id, currency) DO UPDATE
			 SET balance = GREATEST(currency_balances.balance + $3::NUMERIC, 0), last_updated = $4
			 RETURNING balance, last_updated`,
			userID, tx.Symbol, delta, tx.Timestamp).
			Scan(&out.Balance, &out.UpdatedAt)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &out, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, account, sym string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT p.symbol, p.market, p.current_quantity, p.total_cost_basis,
		        p.average_cost_per_share, p.realized_profit_loss, p.last_updated
		 FROM portfolio_positions p JOIN users u ON u.id = p.user_id
		 WHERE u.wallet_address = $1 AND p.symbol = $2`, account, sym), account)
	if err != nil {
		return nil, classify(fmt.Errorf("get position %s/%s: %w", account, sym, err))
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, account string, market symbol.Market) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.symbol, p.market, p.current_quantity, p.total_cost_basis,
		        p.average_cost_per_share, p.realized_profit_loss, p.last_updated
		 FROM portfolio_positions p JOIN users u ON u.id = p.user_id
		 WHERE u.wallet_address = $1 AND ($2 = '' OR p.market = $2)
		 ORDER BY p.symbol`, account, string(market))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows, account)
		if err != nil {
			return nil, classify(err)
		}
		positions = append(positions, *p)
	}
	return positions, classify(rows.Err())
}

func (s *PostgresStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error) {
	var (
		where = []string{"u.wallet_address = $1"}
		args  = []any{f.Account}
	)
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		where = append(where, fmt.Sprintf("t.symbol = $%d", len(args)))
	}
	if f.Market != "" {
		args = append(args, string(f.Market))
		where = append(where, fmt.Sprintf("t.market = $%d", len(args)))
	}
	q := `SELECT t.id, t.transaction_type, t.market, t.symbol, t.currency, t.quantity,
	             t.price_per_unit, t.total_value, t.realized_pnl, t.fee_amount,
	             t.tx_hash, t.status, t.created_at
	      FROM transactions t JOIN users u ON u.id = t.user_id
	      WHERE ` + strings.Join(where, " AND ") + `
	      ORDER BY t.created_at DESC, t.seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		t := model.Transaction{Account: f.Account}
		var typ, market string
		if err := rows.Scan(&t.ID, &typ, &market, &t.Symbol, &t.Currency, &t.Quantity,
			&t.UnitPrice, &t.TotalValue, &t.RealizedPnL, &t.FeeAmount,
			&t.TxHash, &t.Status, &t.Timestamp); err != nil {
			return nil, classify(err)
		}
		t.Type = model.TxType(typ)
		t.Market = symbol.Market(market)
		txs = append(txs, t)
	}
	return txs, classify(rows.Err())
}

func (s *PostgresStore) ListCurrencyBalances(ctx context.Context, account string) ([]model.CurrencyBalance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.currency, c.balance, c.last_updated
		 FROM currency_balances c JOIN users u ON u.id = c.user_id
		 WHERE u.wallet_address = $1 ORDER BY c.currency`, account)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.CurrencyBalance
	for rows.Next() {
		b := model.CurrencyBalance{Account: account}
		if err := rows.Scan(&b.Currency, &b.Balance, &b.UpdatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, b)
	}
	return out, classify(rows.Err())
}

func upsertAccount(ctx context.Context, dbtx pgx.Tx, address, baseCurrency string) (int64, error) {
	if baseCurrency == "" {
		baseCurrency = symbol.DefaultBaseCurrency
	}
	var id int64
	err := dbtx.QueryRow(ctx,
		`INSERT INTO users (wallet_address, base_currency) VALUES ($1, $2)
		 ON CONFLICT (wallet_address) DO UPDATE SET updated_at = now()
		 RETURNING id`, address, baseCurrency).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert account %s: %w", address, err)
	}
	return id, nil
}

func lockPosition(ctx context.Context, dbtx pgx.Tx, userID int64, account, sym string) (*model.Position, error) {
	p, err := scanPosition(dbtx.QueryRow(ctx,
		`SELECT symbol, market, current_quantity, total_cost_basis,
		        average_cost_per_share, realized_profit_loss, last_updated
		 FROM portfolio_positions WHERE user_id = $1 AND symbol = $2
		 FOR UPDATE`, userID, sym), account)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock position: %w", err)
	}
	return p, nil
}

func insertTransaction(ctx context.Context, dbtx pgx.Tx, userID int64, t *model.Transaction) error {
	_, err := dbtx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, transaction_type, market, symbol, currency,
		        quantity, price_per_unit, total_value, realized_pnl, fee_amount,
		        tx_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, userID, string(t.Type), string(t.Market), t.Symbol, t.Currency,
		t.Quantity, t.UnitPrice, t.TotalValue, t.RealizedPnL, t.FeeAmount,
		t.TxHash, t.Status, t.Timestamp)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.TxHash, err)
	}
	return nil
}

func scanPosition(row pgx.Row, account string) (*model.Position, error) {
	p := model.Position{Account: account}
	var market string
	if err := row.Scan(&p.Symbol, &market, &p.CurrentQuantity, &p.TotalCostBasis,
		&p.AverageCostPerShare, &p.RealizedProfitLoss, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Market = symbol.Market(market)
	return &p, nil
}

// currencyDelta is the signed balance change of a MINT or BURN.
func currencyDelta(tx *model.Transaction) (decimal.Decimal, error) {
	switch tx.Type {
	case model.TxMint:
		return tx.Quantity, nil
	case model.TxBurn:
		return tx.Quantity.Neg(), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is not a currency event", accounting.ErrInvalidFill, tx.Type)
	}
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err),
		errors.As(err, &connErr):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
