package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/broker"
	"github.com/josh-kwaku/tutor-settlement/internal/config"
	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/handler"
	"github.com/josh-kwaku/tutor-settlement/internal/logging"
	"github.com/josh-kwaku/tutor-settlement/internal/outbox"
	"github.com/josh-kwaku/tutor-settlement/internal/repository"
	"github.com/josh-kwaku/tutor-settlement/internal/settlement"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "settlement-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Init("settlement-api", cfg.LogLevel, cfg.AppEnv)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  30,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	txRunner := repository.NewDB(db)
	bookings := repository.NewBookingRepository(db)
	referrals := repository.NewReferralRepository(db)
	ledger := repository.NewLedgerRepository(db)
	events := repository.NewSettlementEventRepository(db)
	processingErrors := repository.NewProcessingErrorRepository(db)

	engine := settlement.NewEngine(
		txRunner, bookings, referrals, ledger, events, processingErrors,
		settlement.Rates{
			PlatformFeePct: cfg.PlatformFeePct,
			ReferralPct:    cfg.ReferralCommissionPct,
			AgentPct:       cfg.AgentCommissionPct,
			ClearingWindow: cfg.ClearingWindow,
		},
		domain.Currency(cfg.SettlementCurrency),
		logger.Named("engine"),
	)

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	relay := outbox.NewRelay(txRunner, events, publisher, outbox.RelayConfig{
		Interval:    cfg.OutboxPollInterval,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, logger.Named("outbox"))

	scheduler := outbox.NewScheduler(events, cfg.OutboxRetention, logger.Named("outbox"))
	if err := scheduler.Start(ctx, cfg.OutboxPurgeSchedule); err != nil {
		return err
	}
	defer scheduler.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Start(ctx)
	}()

	health := handler.NewHealthHandler(
		handler.HealthCheck{Name: "database", Critical: true, Probe: db},
		handler.HealthCheck{Name: "broker", Probe: publisher},
	)

	router := newRouter(routerDeps{
		logger:      logger,
		tokenSecret: cfg.ServiceTokenSecret,
		allowed:     cfg.AllowedServices,
		health:      health,
		settlements: handler.NewSettlementHandler(engine, ledger, processingErrors),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	wg.Wait()
	logger.Info("server stopped")
	return nil
}

// newPublisher connects to RabbitMQ when a URL is configured. Without one,
// outbox events are dispatched to a logging no-op.
func newPublisher(cfg *config.Config, logger *zap.Logger) (broker.Publisher, error) {
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set, settlement events are marked dispatched without being published")
		return broker.NewNoopPublisher(logger.Named("broker")), nil
	}

	p, err := broker.NewRabbitPublisher(cfg.RabbitMQURL, cfg.SettlementExchange, logger.Named("broker"))
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return p, nil
}
