package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/ssa-exchange/settlement-engine/internal/app"
	"github.com/ssa-exchange/settlement-engine/internal/display"
	"github.com/ssa-exchange/settlement-engine/internal/oracle"
	"github.com/ssa-exchange/settlement-engine/internal/sizing"
)

type quoteCmd struct{}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "print the current price of a symbol" }
func (*quoteCmd) Usage() string {
	return `exchangectl quote <symbol> [currency]

  Quotes a symbol in a settlement currency (INR by default, USDC for
  private-market symbols).
`
}

func (*quoteCmd) SetFlags(*flag.FlagSet) {}

func (*quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		fmt.Fprintln(os.Stderr, "Error: quote takes a symbol and an optional currency")
		return subcommands.ExitUsageError
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	defer log.Sync()

	q, err := app.NewOracle(cfg, nil, log).Price(ctx, f.Arg(0), f.Arg(1))
	if err != nil {
		return fail(err)
	}
	printMarkdown(quoteMarkdown(q))
	return subcommands.ExitSuccess
}

func quoteMarkdown(q oracle.Quote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", q.Symbol)
	fmt.Fprintf(&b, "| Price | USD | FX rate | Source |\n|---:|---:|---:|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", display.Money(q.Price, q.Currency), q.USD.StringFixed(2), q.FXRate, q.Source)
	return b.String()
}

type sizeCmd struct {
	spend    string
	shares   string
	currency string
}

func (*sizeCmd) Name() string     { return "size" }
func (*sizeCmd) Synopsis() string { return "preview the fill of a buy or sell without settling it" }
func (*sizeCmd) Usage() string {
	return `exchangectl size -spend <amount> | -shares <quantity> [-currency <code>] <symbol>

  Sizes an order at the current price and the configured fee schedule.
`
}

func (c *sizeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.spend, "spend", "", "currency amount to spend on a buy")
	f.StringVar(&c.shares, "shares", "", "number of shares to sell")
	f.StringVar(&c.currency, "currency", "", "settlement currency")
}

func (c *sizeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || (c.spend == "") == (c.shares == "") {
		fmt.Fprintln(os.Stderr, "Error: size takes one symbol and exactly one of -spend or -shares")
		return subcommands.ExitUsageError
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	defer log.Sync()

	q, err := app.NewOracle(cfg, nil, log).Price(ctx, f.Arg(0), c.currency)
	if err != nil {
		return fail(err)
	}
	fees := sizing.FeeSchedule{Rate: cfg.FeeRate, Precision: cfg.Fee.Precision}
	md, err := sizeMarkdown(q, fees, c.spend, c.shares)
	if err != nil {
		return fail(err)
	}
	printMarkdown(md)
	return subcommands.ExitSuccess
}

func sizeMarkdown(q oracle.Quote, fees sizing.FeeSchedule, spend, shares string) (string, error) {
	sq := sizing.Quote{Symbol: q.Symbol, Currency: q.Currency, UnitPrice: q.Price}
	money := func(d decimal.Decimal) string { return display.Money(d, q.Currency) }

	var b strings.Builder
	if spend != "" {
		amt, err := decimal.NewFromString(spend)
		if err != nil {
			return "", fmt.Errorf("invalid -spend %q", spend)
		}
		fill, err := sizing.Buy(sq, amt, fees)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "# Buy %s %s\n\n", fill.Quantity, q.Symbol)
		fmt.Fprintf(&b, "| | |\n|---|---:|\n")
		fmt.Fprintf(&b, "| Unit price | %s |\n", money(fill.UnitPrice))
		fmt.Fprintf(&b, "| Gross cost | %s |\n", money(fill.GrossCost))
		fmt.Fprintf(&b, "| Fee | %s |\n", money(fill.Fee))
		fmt.Fprintf(&b, "| Total debit | %s |\n", money(fill.TotalDebit))
		fmt.Fprintf(&b, "| Change | %s |\n", money(fill.Change))
		return b.String(), nil
	}

	qty, err := decimal.NewFromString(shares)
	if err != nil {
		return "", fmt.Errorf("invalid -shares %q", shares)
	}
	fill, err := sizing.Sell(sq, qty, fees)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "# Sell %s %s\n\n", fill.Quantity, q.Symbol)
	fmt.Fprintf(&b, "| | |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Unit price | %s |\n", money(fill.UnitPrice))
	fmt.Fprintf(&b, "| Gross proceeds | %s |\n", money(fill.GrossProceeds))
	fmt.Fprintf(&b, "| Fee | %s |\n", money(fill.Fee))
	fmt.Fprintf(&b, "| Net proceeds | %s |\n", money(fill.NetProceeds))
	return b.String(), nil
}
