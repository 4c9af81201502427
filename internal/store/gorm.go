package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ssa-exchange/settlement-engine/internal/accounting"
	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// GormStore implements Store on SQLite for single-node deployments.
// Decimals are stored as TEXT so no precision is lost to REAL affinity.
// SQLite has no row locks; a single connection serializes every write.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

type userRow struct {
	ID            uint   `gorm:"primaryKey"`
	WalletAddress string `gorm:"uniqueIndex;not null"`
	BaseCurrency  string `gorm:"not null;default:INR"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (userRow) TableName() string { return "users" }

type transactionRow struct {
	ID              string              `gorm:"primaryKey"`
	UserID          uint                `gorm:"index:idx_transactions_user_symbol;not null"`
	TransactionType string              `gorm:"not null"`
	Market          string              `gorm:"not null;default:''"`
	Symbol          string              `gorm:"index:idx_transactions_user_symbol;not null"`
	Currency        string              `gorm:"not null"`
	Quantity        decimal.Decimal     `gorm:"type:text;not null"`
	PricePerUnit    decimal.NullDecimal `gorm:"type:text"`
	TotalValue      decimal.Decimal     `gorm:"type:text;not null"`
	RealizedPnl     decimal.NullDecimal `gorm:"type:text"`
	FeeAmount       decimal.Decimal     `gorm:"type:text;not null"`
	TxHash          string              `gorm:"uniqueIndex;not null"`
	Status          string              `gorm:"not null"`
	CreatedAt       time.Time           `gorm:"autoCreateTime:false"`
}

func (transactionRow) TableName() string { return "transactions" }

type positionRow struct {
	UserID              uint            `gorm:"primaryKey;autoIncrement:false"`
	Symbol              string          `gorm:"primaryKey"`
	Market              string          `gorm:"not null"`
	CurrentQuantity     decimal.Decimal `gorm:"type:text;not null"`
	TotalCostBasis      decimal.Decimal `gorm:"type:text;not null"`
	AverageCostPerShare decimal.Decimal `gorm:"type:text;not null"`
	RealizedProfitLoss  decimal.Decimal `gorm:"type:text;not null"`
	LastUpdated         time.Time
}

func (positionRow) TableName() string { return "portfolio_positions" }

type balanceRow struct {
	UserID      uint            `gorm:"primaryKey;autoIncrement:false"`
	Currency    string          `gorm:"primaryKey"`
	Balance     decimal.Decimal `gorm:"type:text;not null"`
	LastUpdated time.Time
}

func (balanceRow) TableName() string { return "currency_balances" }

// OpenSQLite opens (creating if needed) the database at path and migrates it.
// Use "file::memory:" for a throwaway database.
func OpenSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRow{}, &transactionRow{}, &positionRow{}, &balanceRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return classifyGorm(sqlDB.PingContext(ctx))
}

func (s *GormStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	var u userRow
	if err := s.db.WithContext(ctx).Where("wallet_address = ?", address).First(&u).Error; err != nil {
		return nil, classifyGorm(fmt.Errorf("get account %s: %w", address, err))
	}
	return &model.Account{
		Address:      u.WalletAddress,
		BaseCurrency: u.BaseCurrency,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}, nil
}

func (s *GormStore) RecordTrade(ctx context.Context, tx *model.Transaction, baseCurrency string) (*model.Position, error) {
	if !tx.IsTrade() {
		return nil, fmt.Errorf("%w: %s", accounting.ErrNotPositionEvent, tx.Type)
	}

	var out model.Position
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		u, err := gormUpsertAccount(db, tx, baseCurrency)
		if err != nil {
			return err
		}

		var prev *model.Position
		var row positionRow
		err = db.Where("user_id = ? AND symbol = ?", u.ID, tx.Symbol).First(&row).Error
		switch {
		case err == nil:
			p := row.toModel(tx.Account)
			prev = &p
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		next, err := accounting.Apply(prev, tx)
		if err != nil {
			return err
		}
		if err := db.Create(newTransactionRow(u.ID, tx)).Error; err != nil {
			return err
		}
		row = positionRow{
			UserID:              u.ID,
			Symbol:              next.Symbol,
			Market:              string(next.Market),
			CurrentQuantity:     next.CurrentQuantity,
			TotalCostBasis:      next.TotalCostBasis,
			AverageCostPerShare: next.AverageCostPerShare,
			RealizedProfitLoss:  next.RealizedProfitLoss,
			LastUpdated:         next.UpdatedAt,
		}
		if err := db.Save(&row).Error; err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, classifyGorm(err)
	}
	return &out, nil
}

func (s *GormStore) RecordCurrency(ctx context.Context, tx *model.Transaction, baseCurrency string) (*model.CurrencyBalance, error) {
	delta, err := currencyDelta(tx)
	if err != nil {
		return nil, err
	}

	var out model.CurrencyBalance
	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		u, err := gormUpsertAccount(db, tx, baseCurrency)
		if err != nil {
			return err
		}
		if err := db.Create(newTransactionRow(u.ID, tx)).Error; err != nil {
			return err
		}

		row := balanceRow{UserID: u.ID, Currency: tx.Symbol}
		if err := db.Where(&balanceRow{UserID: u.ID, Currency: tx.Symbol}).
			Attrs(balanceRow{Balance: decimal.Zero}).
			FirstOrInit(&row).Error; err != nil {
			return err
		}
		row.Balance = decimal.Max(row.Balance.Add(delta), decimal.Zero)
		row.LastUpdated = tx.Timestamp
		if err := db.Save(&row).Error; err != nil {
			return err
		}
		out = model.CurrencyBalance{
			Account:   tx.Account,
			Currency:  row.Currency,
			Balance:   row.Balance,
			UpdatedAt: row.LastUpdated,
		}
		return nil
	})
	if err != nil {
		return nil, classifyGorm(err)
	}
	return &out, nil
}

func (s *GormStore) GetPosition(ctx context.Context, account, sym string) (*model.Position, error) {
	var row positionRow
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = portfolio_positions.user_id").
		Where("users.wallet_address = ? AND portfolio_positions.symbol = ?", account, sym).
		First(&row).Error
	if err != nil {
		return nil, classifyGorm(fmt.Errorf("get position %s/%s: %w", account, sym, err))
	}
	p := row.toModel(account)
	return &p, nil
}

func (s *GormStore) ListPositions(ctx context.Context, account string, market symbol.Market) ([]model.Position, error) {
	q := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = portfolio_positions.user_id").
		Where("users.wallet_address = ?", account)
	if market != "" {
		q = q.Where("portfolio_positions.market = ?", string(market))
	}
	var rows []positionRow
	if err := q.Order("portfolio_positions.symbol").Find(&rows).Error; err != nil {
		return nil, classifyGorm(err)
	}
	out := make([]model.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel(account))
	}
	return out, nil
}

func (s *GormStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]model.Transaction, error) {
	q := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = transactions.user_id").
		Where("users.wallet_address = ?", f.Account)
	if f.Symbol != "" {
		q = q.Where("transactions.symbol = ?", f.Symbol)
	}
	if f.Market != "" {
		q = q.Where("transactions.market = ?", string(f.Market))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []transactionRow
	if err := q.Order("transactions.created_at DESC, transactions.rowid DESC").Find(&rows).Error; err != nil {
		return nil, classifyGorm(err)
	}
	out := make([]model.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Transaction{
			ID:          r.ID,
			Account:     f.Account,
			Type:        model.TxType(r.TransactionType),
			Market:      symbol.Market(r.Market),
			Symbol:      r.Symbol,
			Currency:    r.Currency,
			Quantity:    r.Quantity,
			UnitPrice:   r.PricePerUnit,
			TotalValue:  r.TotalValue,
			RealizedPnL: r.RealizedPnl,
			FeeAmount:   r.FeeAmount,
			TxHash:      r.TxHash,
			Status:      r.Status,
			Timestamp:   r.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) ListCurrencyBalances(ctx context.Context, account string) ([]model.CurrencyBalance, error) {
	var rows []balanceRow
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = currency_balances.user_id").
		Where("users.wallet_address = ?", account).
		Order("currency_balances.currency").
		Find(&rows).Error
	if err != nil {
		return nil, classifyGorm(err)
	}
	out := make([]model.CurrencyBalance, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.CurrencyBalance{
			Account:   account,
			Currency:  r.Currency,
			Balance:   r.Balance,
			UpdatedAt: r.LastUpdated,
		})
	}
	return out, nil
}

func gormUpsertAccount(db *gorm.DB, tx *model.Transaction, baseCurrency string) (*userRow, error) {
	if baseCurrency == "" {
		baseCurrency = symbol.DefaultBaseCurrency
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&userRow{
		WalletAddress: tx.Account,
		BaseCurrency:  baseCurrency,
		CreatedAt:     tx.Timestamp,
		UpdatedAt:     tx.Timestamp,
	}).Error; err != nil {
		return nil, fmt.Errorf("upsert account %s: %w", tx.Account, err)
	}
	var u userRow
	if err := db.Where("wallet_address = ?", tx.Account).First(&u).Error; err != nil {
		return nil, fmt.Errorf("load account %s: %w", tx.Account, err)
	}
	return &u, nil
}

func newTransactionRow(userID uint, t *model.Transaction) *transactionRow {
	return &transactionRow{
		ID:              t.ID,
		UserID:          userID,
		TransactionType: string(t.Type),
		Market:          string(t.Market),
		Symbol:          t.Symbol,
		Currency:        t.Currency,
		Quantity:        t.Quantity,
		PricePerUnit:    t.UnitPrice,
		TotalValue:      t.TotalValue,
		RealizedPnl:     t.RealizedPnL,
		FeeAmount:       t.FeeAmount,
		TxHash:          t.TxHash,
		Status:          t.Status,
		CreatedAt:       t.Timestamp,
	}
}

func (r positionRow) toModel(account string) model.Position {
	return model.Position{
		Account:             account,
		Symbol:              r.Symbol,
		Market:              symbol.Market(r.Market),
		CurrentQuantity:     r.CurrentQuantity,
		TotalCostBasis:      r.TotalCostBasis,
		AverageCostPerShare: r.AverageCostPerShare,
		RealizedProfitLoss:  r.RealizedProfitLoss,
		UpdatedAt:           r.LastUpdated,
	}
}

func classifyGorm(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
