package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/subcommands"

	"github.com/ssa-exchange/settlement-engine/internal/display"
	"github.com/ssa-exchange/settlement-engine/internal/model"
)

type portfolioCmd struct {
	server  string
	private bool
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "render an account's portfolio from a running engine" }
func (*portfolioCmd) Usage() string {
	return `exchangectl portfolio [-server <url>] [-private] <address>

  Fetches the valued portfolio of an address and renders it as a table.
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.server, "server", "http://localhost:8080", "engine base URL")
	f.BoolVar(&c.private, "private", false, "show the private-market portfolio")
}

func (c *portfolioCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: portfolio takes one address")
		return subcommands.ExitUsageError
	}
	p, err := fetchPortfolio(ctx, resty.New().SetBaseURL(c.server).SetTimeout(30*time.Second), f.Arg(0), c.private)
	if err != nil {
		return fail(err)
	}
	printMarkdown(portfolioMarkdown(p))
	return subcommands.ExitSuccess
}

type portfolioResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	model.Portfolio
}

func fetchPortfolio(ctx context.Context, client *resty.Client, address string, private bool) (*model.Portfolio, error) {
	p := "/portfolio/" + url.PathEscape(address)
	if private {
		p = "/private" + p
	}
	var out portfolioResponse
	resp, err := client.R().SetContext(ctx).SetResult(&out).SetError(&out).Get(p)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", p, err)
	}
	if resp.IsError() || !out.Success {
		if out.Error != "" {
			return nil, fmt.Errorf("engine returned %d: %s", resp.StatusCode(), out.Error)
		}
		return nil, fmt.Errorf("engine returned %d", resp.StatusCode())
	}
	return &out.Portfolio, nil
}

func portfolioMarkdown(p *model.Portfolio) string {
	cur := p.BaseCurrency
	var b strings.Builder
	fmt.Fprintf(&b, "# Portfolio %s (%s)\n\n", p.Address, p.Market)
	if len(p.Positions) == 0 {
		b.WriteString("No holdings.\n")
		return b.String()
	}

	b.WriteString("| Symbol | Quantity | Price | Value | Cost basis | Unrealized | % | Realized |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, v := range p.Positions {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s%% | %s |\n",
			v.Symbol,
			v.CurrentQuantity,
			display.Money(v.CurrentPrice, cur),
			display.Money(v.CurrentValue, cur),
			display.Money(v.TotalCostBasis, cur),
			display.Money(v.UnrealizedPnL, cur),
			v.UnrealizedPnLPercent.StringFixed(2),
			display.Money(v.RealizedPnL, cur),
		)
	}

	s := p.Summary
	fmt.Fprintf(&b, "\n**Total value** %s, **cost basis** %s, **P&L** %s (%s%%)\n",
		display.Money(s.TotalValue, cur),
		display.Money(s.TotalCostBasis, cur),
		display.Money(s.TotalPnL, cur),
		s.TotalPnLPercent.StringFixed(2),
	)
	return b.String()
}
