// Command datagate runs the pay-per-access data gateway: an HTTP API whose
// endpoints are priced per request and gated behind x402 payments.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/datagate-io/datagate/config"
	"github.com/datagate-io/datagate/facilitator/cdp"
	gatehttp "github.com/datagate-io/datagate/http"
	"github.com/datagate-io/datagate/ledger"
	"github.com/datagate-io/datagate/logger"
	"github.com/datagate-io/datagate/metrics"
	"github.com/datagate-io/datagate/server"
	"github.com/datagate-io/datagate/storage"
	"github.com/datagate-io/datagate/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "datagate:", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment itself may be configured.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.NewZapLogger(cfg.LogLevel)

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(registry)

	table, err := cfg.PricingTable()
	if err != nil {
		return fmt.Errorf("pricing table: %w", err)
	}

	fac := gatehttp.NewFacilitatorClient(cfg.FacilitatorURL)
	if cfg.CDPAPIKeyName != "" && cfg.CDPAPIKeySecret != "" {
		host, err := facilitatorHost(cfg.FacilitatorURL)
		if err != nil {
			return err
		}
		auth, err := cdp.NewAuth(cfg.CDPAPIKeyName, cfg.CDPAPIKeySecret, host)
		if err != nil {
			return fmt.Errorf("cdp auth: %w", err)
		}
		fac.AuthorizationProvider = auth.Provider()
	}

	walletHandle := wallet.NewHandle(cfg.Wallet, log, rec)
	defer walletHandle.Close()

	led := ledger.New(store, log, rec)

	srv := server.New(&server.Config{
		Store:  store,
		Ledger: led,
		Wallet: walletHandle,
		Gate: &gatehttp.Config{
			Pricing:     table,
			PayTo:       cfg.PayTo,
			Facilitator: fac,
			VerifyOnly:  cfg.VerifyOnly,
			Logger:      log,
			Metrics:     rec,
		},
		Registry: registry,
		Logger:   log,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", map[string]any{
			"addr":        cfg.ListenAddr,
			"network":     cfg.Network,
			"facilitator": cfg.FacilitatorURL,
		})
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		log.Info("shutting down", map[string]any{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func facilitatorHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("facilitator url: %w", err)
	}
	return u.Host, nil
}
