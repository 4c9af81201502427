package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ssa-exchange/settlement-engine/internal/api"
	"github.com/ssa-exchange/settlement-engine/internal/display"
	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
	"github.com/ssa-exchange/settlement-engine/internal/model"
	"github.com/ssa-exchange/settlement-engine/internal/sizing"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// SupplyRequest is the body of the mint and burn endpoints.
type SupplyRequest struct {
	Currency    string          `json:"currency"`
	UserAddress string          `json:"userAddress"`
	Amount      decimal.Decimal `json:"amount"`
}

type SupplyResult struct {
	Success  bool            `json:"success"`
	TxHash   string          `json:"txHash"`
	Type     model.TxType    `json:"type"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Warning  string          `json:"warning,omitempty"`
}

// BalanceView is a ledger balance in ledger units and in display form.
type BalanceView struct {
	Address   string            `json:"address"`
	Asset     string            `json:"asset"`
	Balance   decimal.Decimal   `json:"balance"`
	Raw       fixedpoint.Amount `json:"raw"`
	Formatted string            `json:"formatted"`
}

// Mint credits a fiat coin to an account.
func (s *Service) Mint(ctx context.Context, req SupplyRequest) (*SupplyResult, error) {
	return s.supply(ctx, model.TxMint, req)
}

// Burn debits a fiat coin from an account.
func (s *Service) Burn(ctx context.Context, req SupplyRequest) (*SupplyResult, error) {
	return s.supply(ctx, model.TxBurn, req)
}

func (s *Service) supply(ctx context.Context, typ model.TxType, req SupplyRequest) (*SupplyResult, error) {
	start := time.Now()
	account := model.NormalizeAddress(req.UserAddress)
	if account == "" || symbol.Normalize(req.Currency) == "" || req.Amount.IsZero() {
		return nil, api.ErrInvalidRequest
	}
	cur, err := s.mintable(req.Currency)
	if err != nil {
		return nil, err
	}
	amount := fixedpoint.Truncate(req.Amount)
	if !amount.IsPositive() {
		return nil, sizing.ErrInvalidAmount
	}
	units, err := fixedpoint.ToFixedPoint(amount)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(account + "|" + cur.Code)
	defer unlock()
	_, release, err := s.claimAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	defer release()

	op := "mint"
	call := s.ledger.Mint
	if typ == model.TxBurn {
		op, call = "burn", s.ledger.Burn
	}
	hash, err := s.settle(ctx, op, func(ctx context.Context) (string, error) {
		return call(ctx, account, cur.Code, units)
	})
	if err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		ID:         uuid.NewString(),
		Account:    account,
		Type:       typ,
		Symbol:     cur.Code,
		Currency:   cur.Code,
		Quantity:   amount,
		TotalValue: amount,
		FeeAmount:  decimal.Zero,
		TxHash:     hash,
		Status:     model.StatusSuccess,
		Timestamp:  s.now(),
	}
	base := cur.Code
	if cur.Stable {
		base = symbol.DefaultBaseCurrency
	}
	warning := s.record(ctx, tx, base)
	s.settled(tx, start)

	return &SupplyResult{
		Success:  true,
		TxHash:   hash,
		Type:     typ,
		Currency: cur.Code,
		Amount:   amount,
		Warning:  warning,
	}, nil
}

func (s *Service) mintable(code string) (symbol.Currency, error) {
	if s.cfg.MintStable {
		if c, err := symbol.LookupCurrency(code); err == nil && c.Stable {
			return c, nil
		}
	}
	return symbol.LookupFiat(code)
}

// Balance reads the ledger balance of a currency or ticker.
func (s *Service) Balance(ctx context.Context, address, asset string) (*BalanceView, error) {
	account := model.NormalizeAddress(address)
	if account == "" || symbol.Normalize(asset) == "" {
		return nil, api.ErrInvalidRequest
	}
	code := symbol.Normalize(asset)
	if _, err := symbol.Module(code); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	raw, err := s.ledger.Balance(ctx, account, code)
	if err != nil {
		return nil, err
	}
	bal := raw.Decimal()
	formatted := bal.String() + " " + code
	if _, err := symbol.LookupCurrency(code); err == nil {
		formatted = display.Money(bal, code)
	}
	return &BalanceView{
		Address:   account,
		Asset:     code,
		Balance:   bal,
		Raw:       raw,
		Formatted: formatted,
	}, nil
}

// Balances reads the ledger balance of every fiat coin and USDC.
func (s *Service) Balances(ctx context.Context, address string) ([]BalanceView, error) {
	codes := []string{}
	for _, c := range symbol.Fiat() {
		codes = append(codes, c.Code)
	}
	codes = append(codes, symbol.USDC)

	out := make([]BalanceView, 0, len(codes))
	for _, code := range codes {
		b, err := s.Balance(ctx, address, code)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}
