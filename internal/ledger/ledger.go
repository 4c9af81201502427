// Package ledger is the settlement boundary. A Ledger moves balances of
// stock and currency assets between accounts and reports a transaction hash
// once the movement is final. Amounts are fixed-point with six decimals.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrRejected          = errors.New("ledger: settlement rejected")
	ErrUnavailable       = errors.New("ledger: unavailable")
	ErrInvalidOrder      = errors.New("ledger: invalid order")
)

// Ledger is implemented by Simulated and GatewayClient.
// Assets are addressed by ticker or currency code.
type Ledger interface {
	// SettleBuy debits Quantity*UnitPrice+Fee of Currency from Account,
	// credits Fee to FeeWallet and credits Quantity of Symbol to Account.
	SettleBuy(ctx context.Context, o Order) (string, error)
	// SettleSell debits Quantity of Symbol from Account and credits
	// Quantity*UnitPrice-Fee of Currency to Account and Fee to FeeWallet.
	SettleSell(ctx context.Context, o Order) (string, error)
	Mint(ctx context.Context, account, asset string, amount fixedpoint.Amount) (string, error)
	Burn(ctx context.Context, account, asset string, amount fixedpoint.Amount) (string, error)
	Balance(ctx context.Context, account, asset string) (fixedpoint.Amount, error)
}

// Order is a settlement instruction in ledger units.
type Order struct {
	Account   string
	Symbol    string
	Currency  string
	Quantity  fixedpoint.Amount
	UnitPrice fixedpoint.Amount
	Fee       fixedpoint.Amount
	FeeWallet string
}

// Gross is Quantity*UnitPrice, floored to ledger resolution.
func (o Order) Gross() (fixedpoint.Amount, error) {
	return fixedpoint.ToFixedPoint(o.Quantity.Decimal().Mul(o.UnitPrice.Decimal()))
}

func (o Order) validate() error {
	switch {
	case o.Account == "" || o.Symbol == "" || o.Currency == "":
		return fmt.Errorf("%w: account, symbol and currency are required", ErrInvalidOrder)
	case o.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d", ErrInvalidOrder, o.Quantity)
	case o.UnitPrice <= 0:
		return fmt.Errorf("%w: unit price %d", ErrInvalidOrder, o.UnitPrice)
	case o.Fee < 0:
		return fmt.Errorf("%w: fee %d", ErrInvalidOrder, o.Fee)
	case o.Fee > 0 && o.FeeWallet == "":
		return fmt.Errorf("%w: fee wallet required", ErrInvalidOrder)
	}
	return nil
}
