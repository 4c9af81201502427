package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ssa-exchange/settlement-engine/internal/api"
	"github.com/ssa-exchange/settlement-engine/internal/app"
	"github.com/ssa-exchange/settlement-engine/internal/config"
	"github.com/ssa-exchange/settlement-engine/internal/exchange"
	"github.com/ssa-exchange/settlement-engine/internal/logger"
	"github.com/ssa-exchange/settlement-engine/internal/metrics"
	"github.com/ssa-exchange/settlement-engine/internal/portfolio"
	"github.com/ssa-exchange/settlement-engine/internal/reconcile"
)

const reconcileInterval = 30 * time.Second

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pool errors at startup are fatal; later ones surface per request.
	deps, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer deps.Close()

	hub := exchange.NewWSHub(log)
	go hub.Run(ctx)

	exchangeSvc := exchange.NewService(exchange.Config{
		Fees:          deps.Fees(),
		FeeWallet:     cfg.Fee.Wallet,
		LedgerTimeout: cfg.Ledger.Timeout,
		Queue:         deps.Queue,
		Hub:           hub,
		MintStable:    cfg.Ledger.Driver == "simulated",
	}, deps.Store, deps.Ledger, deps.Oracle, log)
	portfolioSvc := portfolio.NewService(deps.Store, deps.Ledger, deps.Oracle, cfg.Ledger.Timeout, log)

	go reconcile.NewReplayer(deps.Queue, deps.Store, log).Run(ctx, reconcileInterval)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.AllowAll().Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(pctx); err != nil {
			api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "degraded", "service": "settlement-engine", "error": err.Error(),
			})
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "settlement-engine"})
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", hub.HandleWS)

	// Settlement can legitimately take as long as the ledger timeout.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Ledger.Timeout + 10*time.Second))
		exchangeSvc.RegisterRoutes(r)
		portfolioSvc.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Ledger.Timeout + 20*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("settlement-engine listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Database.Driver),
			zap.String("ledger", cfg.Ledger.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info("shutting down settlement-engine")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
