package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/govind123143/changecalculator/internal/chain"
	"github.com/govind123143/changecalculator/internal/config"
	"github.com/govind123143/changecalculator/internal/gateway"
	"github.com/govind123143/changecalculator/internal/hmacauth"
	"github.com/govind123143/changecalculator/internal/idempotency"
	"github.com/govind123143/changecalculator/internal/logger"
	"github.com/govind123143/changecalculator/internal/metrics"
	"github.com/govind123143/changecalculator/internal/panel"
	"github.com/govind123143/changecalculator/internal/units"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	os.Exit(serve())
}

// serve returns the process exit code so deferred cleanup runs before exit.
func serve() int {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Stage: cfg.Log.Stage, JSON: cfg.Log.JSON})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Error("panel stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.AppConfig, zl *zap.Logger) error {
	store, closeStore, err := openStore(ctx, cfg.Service)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	defer closeStore()

	client, closeClient, err := openChain(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}
	defer closeClient()

	reg := metrics.New()
	gw := gateway.New(client, gateway.Config{
		Decimals:    cfg.Chain.Decimals,
		ReadTimeout: cfg.Chain.ReadTimeout,
		Logger:      zl.Named("gateway"),
		Metrics:     reg,
	})
	defer gw.Close()

	if _, err := gw.Refresh(ctx); err != nil {
		zl.Warn("initial snapshot incomplete", zap.Error(err))
	}

	var rpc chain.HealthChecker
	if hc, ok := client.(chain.HealthChecker); ok {
		rpc = hc
	}

	srv, err := panel.New(panel.Config{
		Addr:              cfg.Service.HTTPAddr,
		Network:           cfg.Chain.Network,
		NativeSymbol:      cfg.Chain.NativeSymbol,
		ContractAddress:   cfg.Chain.ContractAddress,
		IdempotencyWindow: cfg.Service.IdempotencyWindow,
		HMAC: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		SubmitRate:  rate.Limit(cfg.Service.SubmitRatePerSecond),
		SubmitBurst: cfg.Service.SubmitBurst,
		Logger:      zl.Named("panel"),
		Metrics:     reg,
	}, gw, store, rpc)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, svc config.ServiceConfig) (idempotency.Store, func(), error) {
	if svc.IdempotencyDSN != "" {
		pg, err := idempotency.NewPostgresStore(ctx, svc.IdempotencyDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	fs, err := idempotency.NewFileStore(svc.IdempotencyStorePath)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func openChain(ctx context.Context, cfg *config.AppConfig, zl *zap.Logger) (chain.Client, func(), error) {
	if cfg.Chain.UseDevChain() {
		return devChain(cfg, zl)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	eth, err := chain.NewEthClient(dialCtx, chain.EthClientConfig{
		RPCURL:          cfg.Chain.RPCURL,
		PrivateKeyHex:   cfg.Chain.PrivateKey,
		ContractAddress: cfg.Chain.ContractAddress,
		ExpectedChainID: cfg.Chain.ChainID,
		Confirmations:   cfg.Chain.Confirmations,
		PollInterval:    cfg.Chain.PollInterval,
		Logger:          zl.Named("chain"),
	})
	if err != nil {
		return nil, nil, err
	}
	if _, ok := eth.Account(); !ok {
		zl.Warn("no signer key configured, panel is read-only")
	}
	return eth, eth.Close, nil
}

func devChain(cfg *config.AppConfig, zl *zap.Logger) (chain.Client, func(), error) {
	if !common.IsHexAddress(cfg.Dev.Owner) {
		return nil, nil, fmt.Errorf("invalid dev chain owner %q", cfg.Dev.Owner)
	}
	price, err := units.ParseNonNegative(cfg.Dev.Price, cfg.Chain.Decimals)
	if err != nil {
		return nil, nil, fmt.Errorf("dev chain price: %w", err)
	}

	var account *common.Address
	if cfg.Dev.Account != "" {
		if !common.IsHexAddress(cfg.Dev.Account) {
			return nil, nil, fmt.Errorf("invalid dev chain account %q", cfg.Dev.Account)
		}
		a := common.HexToAddress(cfg.Dev.Account)
		account = &a
	}

	zl.Warn("no CHAIN_RPC_URL configured, using the in-memory dev chain",
		zap.String("owner", cfg.Dev.Owner),
		zap.String("price", cfg.Dev.Price),
	)
	return chain.NewFakeClient(common.HexToAddress(cfg.Dev.Owner), price, account), func() {}, nil
}
