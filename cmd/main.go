// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/event-escrow/internal/checkin"
	"github.com/Shivanand-hulikatti/event-escrow/internal/config"
	"github.com/Shivanand-hulikatti/event-escrow/internal/database"
	"github.com/Shivanand-hulikatti/event-escrow/internal/handler"
	"github.com/Shivanand-hulikatti/event-escrow/internal/i18n"
	"github.com/Shivanand-hulikatti/event-escrow/internal/notify"
	"github.com/Shivanand-hulikatti/event-escrow/internal/observability"
	"github.com/Shivanand-hulikatti/event-escrow/internal/rail"
	"github.com/Shivanand-hulikatti/event-escrow/internal/repository"
	"github.com/Shivanand-hulikatti/event-escrow/internal/service"
)

const receiptCacheSize = 4096

func main() {
	log := observability.NewLogger("main")
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("escrow service stopped")
	}
}

func run(log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.EphemeralSecret {
		log.Warn().Msg("ESCROW_CHECKIN_SECRET not set; check-in tokens will not survive a restart")
	}

	// ── 1. Metrics ────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// ── 2. Storage and payment rail ───────────────────────────────────────
	var (
		ledger   service.Ledger
		regs     service.Registrar
		payments interface {
			service.PaymentRail
			handler.Accounts
		}
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := database.NewPool(ctx, cfg.Database, observability.NewLogger("database"))
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		log.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.Name).Msg("connected to postgres")

		if err := database.RunMigrations(cfg.Database.URL(), observability.NewLogger("migrate")); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		ledger = repository.NewPostgresLedger(pool)
		regs = repository.NewRegistrationRepository(pool)
		payments = rail.NewPostgresRail(pool, receiptCacheSize, metrics)
	case config.StorageMemory:
		log.Warn().Msg("using in-memory storage; state is lost on exit")
		memLedger := repository.NewMemoryLedger()
		ledger = memLedger
		regs = repository.NewMemoryRegistrar(memLedger)
		payments = rail.NewMemoryRail()
	}

	// ── 3. Domain event stream ────────────────────────────────────────────
	var emitter service.Emitter = notify.Noop{}
	if cfg.NATSURL != "" {
		nc, js, err := notify.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := notify.EnsureStream(ctx, js); err != nil {
			return err
		}
		worker := notify.NewWorker(notify.NewJetStreamSink(js), 1024, observability.NewLogger("notify"), metrics)
		worker.Start()
		defer worker.Shutdown()
		emitter = worker
		log.Info().Str("url", cfg.NATSURL).Str("stream", notify.StreamName).Msg("publishing domain events")
	}

	// ── 4. Wire up layers ─────────────────────────────────────────────────
	svc := service.NewEscrowService(ledger, regs, payments, checkin.NewSigner(cfg.CheckInSecret),
		service.Config{
			Currency:       cfg.Currency,
			CreationMargin: cfg.CreationMargin,
			FinalizeBuffer: cfg.FinalizeBuffer,
			RailTimeout:    cfg.RailTimeout,
		},
		service.WithEmitter(emitter),
		service.WithMetrics(metrics),
		service.WithLogger(observability.NewLogger("engine")),
	)
	translator := i18n.NewTranslator(cfg.Locale, observability.NewLogger("i18n"))
	eventHandler := handler.NewEventHandler(svc, payments, translator, observability.NewLogger("handler"),
		handler.Options{Decimals: cfg.CurrencyDecimals, Faucet: cfg.Faucet})

	reconcileCtx, stopReconcile := context.WithCancel(ctx)
	defer stopReconcile()
	go service.NewReconciler(svc, cfg.ReconcileInterval).Run(reconcileCtx)

	// ── 5. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger(observability.NewLogger("http")))
	r.Use(handler.Metrics(metrics))
	r.Use(handler.CORS)
	r.Use(handler.Identify)

	r.Get("/health", handler.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	eventHandler.Routes(r)

	// ── 6. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RailTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("storage", cfg.Storage).
			Str("currency", cfg.Currency).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	stopReconcile()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
