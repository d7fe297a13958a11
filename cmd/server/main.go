package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vetsmint/internal/config"
	"vetsmint/internal/ledger"
	"vetsmint/internal/mint"
	"vetsmint/internal/pricing"
	"vetsmint/internal/recorder"
	"vetsmint/internal/server"
	"vetsmint/internal/verifier"
	"vetsmint/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}
	if err := cfg.ConfigureLogging(); err != nil {
		log.WithError(err).Fatal("logging config error")
	}

	ctx := context.Background()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	resolver, err := cfg.Resolver()
	if err != nil {
		log.WithError(err).Fatal("chain profile error")
	}

	var oracle pricing.Oracle
	if cfg.Service.OracleURL != "" {
		oracle = pricing.NewHTTPOracle(cfg.Service.OracleURL, cfg.Service.OraclePath, cfg.Service.OracleTimeout)
	}

	var (
		provider wallet.Provider
		caller   bind.ContractCaller
	)
	switch {
	case cfg.Chain.PrivateKey != "":
		keyed, err := wallet.DialKeyed(ctx, wallet.KeyedConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
			PollInterval:  cfg.Chain.PollInterval,
		})
		if err != nil {
			log.WithError(err).Fatal("wallet error")
		}
		defer keyed.Close()
		provider, caller = keyed, keyed.Caller()
		log.WithFields(log.Fields{"address": keyed.Address().Hex(), "chain_id": keyed.ChainID()}).Info("custodial checkout enabled")
	case cfg.Chain.RPCURL != "":
		client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			log.WithError(err).Fatal("rpc dial error")
		}
		defer client.Close()
		caller = client
	default:
		log.Warn("no CHAIN_RPC_URL set; quotes only")
	}

	var rec mint.Recorder = recorder.StoreRecorder{Store: store}
	if cfg.Service.RecorderURL != "" {
		rec = recorder.New(cfg.Service.RecorderURL, cfg.Service.RecorderSecret, cfg.Service.RecordTimeout)
	}

	orch := mint.New(mint.Config{
		Profiles:      resolver,
		Prices:        pricing.NewConverter(oracle, pricing.DefaultFallbackRates, cfg.Service.OracleTimeout),
		Verifier:      verifier.New(cfg.Backoff()),
		Caller:        caller,
		Recorder:      rec,
		RecordTimeout: cfg.Service.RecordTimeout,
	})

	apiServer := server.NewServer(cfg, orch, store, provider)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.WithError(err).Info("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	orch.Wait()
}

func openStore(ctx context.Context, cfg *config.AppConfig) (ledger.Store, func()) {
	if cfg.Service.LedgerDatabaseURL != "" {
		pg, err := ledger.NewPostgresStore(ctx, cfg.Service.LedgerDatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("ledger database error")
		}
		log.Info("ledger backed by postgres")
		return pg, pg.Close
	}
	fs, err := ledger.NewFileStore(cfg.Service.LedgerStorePath)
	if err != nil {
		log.WithError(err).Fatal("ledger store error")
	}
	log.WithField("path", cfg.Service.LedgerStorePath).Info("ledger backed by file")
	return fs, func() {}
}
