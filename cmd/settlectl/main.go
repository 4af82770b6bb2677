package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josh-kwaku/tutor-settlement/internal/auth"
	"github.com/josh-kwaku/tutor-settlement/internal/config"
	"github.com/josh-kwaku/tutor-settlement/internal/domain"
	"github.com/josh-kwaku/tutor-settlement/internal/logging"
	"github.com/josh-kwaku/tutor-settlement/internal/repository"
	"github.com/josh-kwaku/tutor-settlement/internal/settlement"
)

func main() {
	var (
		action  = flag.String("action", "", "Action to perform: settle, token")
		booking = flag.String("booking", "", "Booking ID to settle")
		ref     = flag.String("ref", "", "External payment reference")
		service = flag.String("service", "", "Service name for the token")
		expiry  = flag.Duration("expiry", 24*time.Hour, "Token lifetime")
	)
	flag.Parse()

	if *action == "" {
		fmt.Println("Usage: settlectl -action=<action> [options]")
		fmt.Println("Actions:")
		fmt.Println("  settle - Run settlement for -booking with -ref (safe to repeat)")
		fmt.Println("  token  - Print a service token for -service")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "settlectl: %v\n", err)
		os.Exit(1)
	}

	switch *action {
	case "settle":
		err = settle(cfg, *booking, *ref)
	case "token":
		err = printToken(cfg, *service, *expiry)
	default:
		err = fmt.Errorf("unknown action %q", *action)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "settlectl: %v\n", err)
		os.Exit(1)
	}
}

func settle(cfg *config.Config, bookingArg, ref string) error {
	bookingID, err := uuid.Parse(bookingArg)
	if err != nil {
		return fmt.Errorf("-booking: %w", err)
	}

	logger := logging.Init("settlectl", cfg.LogLevel, cfg.AppEnv)
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnectAttempts: 3,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := settlement.NewEngine(
		repository.NewDB(db),
		repository.NewBookingRepository(db),
		repository.NewReferralRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewSettlementEventRepository(db),
		repository.NewProcessingErrorRepository(db),
		settlement.Rates{
			PlatformFeePct: cfg.PlatformFeePct,
			ReferralPct:    cfg.ReferralCommissionPct,
			AgentPct:       cfg.AgentCommissionPct,
			ClearingWindow: cfg.ClearingWindow,
		},
		domain.Currency(cfg.SettlementCurrency),
		logger.Named("engine"),
	)

	outcome, err := engine.SettlePayment(ctx, bookingID, ref)
	if err != nil {
		var f *settlement.Failure
		if errors.As(err, &f) {
			logger.Info("settlement rolled back", zap.String("kind", string(f.Kind)), zap.Bool("retryable", f.Retryable()))
		}
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(outcome)
}

func printToken(cfg *config.Config, service string, expiry time.Duration) error {
	token, err := auth.GenerateToken(service, cfg.ServiceTokenSecret, expiry)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
