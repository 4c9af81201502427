package ledger

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ssa-exchange/settlement-engine/internal/fixedpoint"
	"github.com/ssa-exchange/settlement-engine/internal/symbol"
)

// GatewayClient settles through an HTTP signing gateway that submits the
// entry-function calls on chain and waits for finality before answering.
// Settlement calls are never retried here: a timed-out submission may still
// have landed.
type GatewayClient struct {
	client        *resty.Client
	moduleAddress string
	limiter       *rate.Limiter
	log           *zap.Logger
}

var _ Ledger = (*GatewayClient)(nil)

func NewGatewayClient(baseURL, moduleAddress string, rps float64, log *zap.Logger) *GatewayClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &GatewayClient{
		client:        resty.New().SetBaseURL(baseURL),
		moduleAddress: moduleAddress,
		limiter:       rate.NewLimiter(limit, 1),
		log:           log,
	}
}

type settleRequest struct {
	ModuleAddress  string            `json:"moduleAddress"`
	Account        string            `json:"account"`
	SymbolModule   string            `json:"symbolModule"`
	CurrencyModule string            `json:"currencyModule"`
	Quantity       fixedpoint.Amount `json:"quantity"`
	UnitPrice      fixedpoint.Amount `json:"unitPrice"`
	Fee            fixedpoint.Amount `json:"fee"`
	FeeWallet      string            `json:"feeWallet"`
}

type supplyRequest struct {
	ModuleAddress string            `json:"moduleAddress"`
	Account       string            `json:"account"`
	Module        string            `json:"module"`
	Amount        fixedpoint.Amount `json:"amount"`
}

type txResponse struct {
	TxHash   string `json:"txHash"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vmStatus"`
}

type balanceResponse struct {
	Balance fixedpoint.Amount `json:"balance"`
}

type gatewayError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *GatewayClient) SettleBuy(ctx context.Context, o Order) (string, error) {
	return c.settle(ctx, "/v1/settle/buy", o)
}

func (c *GatewayClient) SettleSell(ctx context.Context, o Order) (string, error) {
	return c.settle(ctx, "/v1/settle/sell", o)
}

func (c *GatewayClient) settle(ctx context.Context, path string, o Order) (string, error) {
	if err := o.validate(); err != nil {
		return "", err
	}
	symModule, err := symbol.Module(o.Symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	curModule, err := symbol.Module(o.Currency)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return c.submit(ctx, path, settleRequest{
		ModuleAddress:  c.moduleAddress,
		Account:        o.Account,
		SymbolModule:   symModule,
		CurrencyModule: curModule,
		Quantity:       o.Quantity,
		UnitPrice:      o.UnitPrice,
		Fee:            o.Fee,
		FeeWallet:      o.FeeWallet,
	})
}

func (c *GatewayClient) Mint(ctx context.Context, account, asset string, amount fixedpoint.Amount) (string, error) {
	return c.supply(ctx, "/v1/mint", account, asset, amount)
}

func (c *GatewayClient) Burn(ctx context.Context, account, asset string, amount fixedpoint.Amount) (string, error) {
	return c.supply(ctx, "/v1/burn", account, asset, amount)
}

func (c *GatewayClient) supply(ctx context.Context, path, account, asset string, amount fixedpoint.Amount) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount %d", ErrInvalidOrder, amount)
	}
	module, err := symbol.Module(asset)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return c.submit(ctx, path, supplyRequest{
		ModuleAddress: c.moduleAddress,
		Account:       account,
		Module:        module,
		Amount:        amount,
	})
}

func (c *GatewayClient) submit(ctx context.Context, path string, body any) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	c.log.Debug("submitting to gateway", zap.String("path", path))
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&txResponse{}).
		SetError(&gatewayError{}).
		Post(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	if resp.IsError() {
		return "", c.classify(path, resp)
	}

	out := resp.Result().(*txResponse)
	if !out.Success || out.TxHash == "" {
		return "", fmt.Errorf("%w: %s: vm status %q", ErrRejected, path, out.VMStatus)
	}
	return out.TxHash, nil
}

func (c *GatewayClient) classify(path string, resp *resty.Response) error {
	msg := resp.Status()
	if e, ok := resp.Error().(*gatewayError); ok && e.Error != "" {
		msg = e.Error
		if e.Code == "INSUFFICIENT_BALANCE" {
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, msg)
		}
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, path, msg)
	}
	return fmt.Errorf("%w: %s: %s", ErrRejected, path, msg)
}

func (c *GatewayClient) Balance(ctx context.Context, account, asset string) (fixedpoint.Amount, error) {
	module, err := symbol.Module(asset)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&balanceResponse{}).
		Get("/v1/balance/" + url.PathEscape(account) + "/" + url.PathEscape(module))
	if err != nil {
		return 0, fmt.Errorf("%w: balance: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return 0, nil
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: balance: %s", ErrUnavailable, resp.Status())
	}
	return resp.Result().(*balanceResponse).Balance, nil
}
