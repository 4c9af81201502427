package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/app"
	"github.com/ssa-exchange/settlement-engine/internal/reconcile"
)

type reconcileCmd struct{}

func (*reconcileCmd) Name() string { return "reconcile" }
func (*reconcileCmd) Synopsis() string {
	return "replay settled operations missing from the store"
}
func (*reconcileCmd) Usage() string {
	return `exchangectl reconcile

  Drains the reconcile queue into the configured store once. Requires
  redis.url: the in-process queue of a running server is not reachable.
`
}

func (*reconcileCmd) SetFlags(*flag.FlagSet) {}

func (*reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, log, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	defer log.Sync()
	if cfg.Redis.URL == "" {
		return fail(fmt.Errorf("redis.url is not set; nothing to drain"))
	}

	deps, err := app.New(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	defer deps.Close()

	res, err := reconcile.NewReplayer(deps.Queue, deps.Store, log).Drain(ctx)
	if err != nil {
		return fail(err)
	}
	log.Info("reconcile finished",
		zap.Int("replayed", res.Replayed),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("requeued", res.Requeued),
		zap.Int("dropped", res.Dropped),
	)
	fmt.Printf("replayed %d, duplicates %d, requeued %d, dropped %d\n",
		res.Replayed, res.Duplicates, res.Requeued, res.Dropped)
	if res.Dropped > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
