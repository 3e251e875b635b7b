package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kausenergy/settlement/infra"
	"github.com/kausenergy/settlement/infra/provider/mockpayment"
	"github.com/kausenergy/settlement/infra/provider/paypalpayment"
	"github.com/kausenergy/settlement/infra/provider/tosspayment"
	"github.com/kausenergy/settlement/infra/repository"
	"github.com/kausenergy/settlement/pkg/audit"
	"github.com/kausenergy/settlement/pkg/config"
	"github.com/kausenergy/settlement/pkg/eventbus"
	"github.com/kausenergy/settlement/pkg/logging"
	"github.com/kausenergy/settlement/pkg/metrics"
	"github.com/kausenergy/settlement/pkg/notify"
	"github.com/kausenergy/settlement/pkg/provider/payment"
	referralsvc "github.com/kausenergy/settlement/pkg/service/referral"
	settlementsvc "github.com/kausenergy/settlement/pkg/service/settlement"
	withdrawalsvc "github.com/kausenergy/settlement/pkg/service/withdrawal"
	"github.com/kausenergy/settlement/webapi"
)

// @title KAUS Settlement API
// @version 1.0.0
// @description Settlement core for the KAUS energy token: wallet top-ups, token purchases, withdrawals and referrals.
// @host localhost:3000
// @BasePath /
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description "Enter your Bearer token in the format: `Bearer {token}`"
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	bootLogger := slog.Default()
	cfg, err := config.Load(bootLogger)
	if err != nil {
		return fmt.Errorf("failed to load application configuration: %w", err)
	}
	logger := logging.New(cfg.Log)

	db, err := infra.NewDBConnection(cfg.DB.Url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := infra.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	uow := repository.NewUoW(db)
	sink := audit.NewBufferedSink(repository.NewAuditStore(db), logger)

	bus := eventbus.New(logger)
	notify.NewWebhookNotifier(cfg.Notify.WebhookUrl, cfg.Notify.Timeout, logger).Register(bus)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	gateways := map[string]payment.Gateway{
		"toss":   tosspayment.New(cfg.Toss.SecretKey, cfg.Toss.BaseUrl, cfg.Toss.Timeout, logger),
		"paypal": paypalpayment.New(cfg.Paypal.ClientID, cfg.Paypal.Secret, cfg.Paypal.BaseUrl, cfg.Paypal.Timeout, logger),
	}
	if cfg.Env == "development" {
		gateways["mock"] = &mockpayment.Provider{}
	}

	settlement := settlementsvc.New(uow, gateways, sink, bus, m, logger, settlementsvc.Config{
		MinAmountKRW:     cfg.Settlement.MinAmountKRW,
		MaxAmountKRW:     cfg.Settlement.MaxAmountKRW,
		KausPriceKRW:     cfg.Settlement.KausPriceKRW,
		PurchaseBonusBps: cfg.Settlement.PurchaseBonusBps,
		GatewayRetries:   cfg.Settlement.GatewayRetries,
		RetryBackoff:     cfg.Settlement.RetryBackoff,
		StuckAfter:       cfg.Settlement.StuckAfter,
	})
	withdrawal := withdrawalsvc.New(uow, sink, bus, m, logger, withdrawalsvc.Config{
		MinAmountKRW: cfg.Withdrawal.MinAmountKRW,
		MaxAmountKRW: cfg.Withdrawal.MaxAmountKRW,
	})
	referral := referralsvc.New(uow, sink, bus, m, logger, referralsvc.Config{
		RefereeBonus:  cfg.Referral.RefereeBonus,
		ReferrerBonus: cfg.Referral.ReferrerBonus,
	})

	app := webapi.SetupApp(webapi.Deps{
		Settlement: settlement,
		Withdrawal: withdrawal,
		Referral:   referral,
		Registry:   registry,
	}, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "env", cfg.Env, "address", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	bus.Wait()
	if err := sink.Close(); err != nil {
		logger.Error("audit sink close failed", "error", err)
	}
	return nil
}
