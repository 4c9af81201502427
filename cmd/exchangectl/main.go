// Command exchangectl quotes prices, previews order sizing, renders
// portfolios from a running engine and drains the reconcile queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/config"
	"github.com/ssa-exchange/settlement-engine/internal/logger"
)

var commands = []subcommands.Command{
	&quoteCmd{},
	&sizeCmd{},
	&portfolioCmd{},
	&reconcileCmd{},
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// loadConfig reads configuration from the working directory. The CLI logs
// to stderr in console format unless configured otherwise.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg.Logger.Level, "console")
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func printMarkdown(md string) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err == nil {
		if out, err := r.Render(md); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Print(md)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}
