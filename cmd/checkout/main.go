package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"vetsmint/internal/config"
	"vetsmint/internal/ledger"
	"vetsmint/internal/mint"
	"vetsmint/internal/pricing"
	"vetsmint/internal/recorder"
	"vetsmint/internal/verifier"
	"vetsmint/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const programName = "checkout"

var (
	globalFlags = struct {
		debug bool
		chain string
	}{}
	appConfig *config.AppConfig
)

// runtime holds the collaborators a command needs. Fields a command did not ask for stay nil.
type runtime struct {
	cfg    *config.AppConfig
	orch   *mint.Orchestrator
	wallet *wallet.KeyedWallet
	caller bind.ContractCaller
	close  func()
}

// setup builds the orchestrator. needRPC dials the configured endpoint for contract reads;
// needWallet additionally requires a signing key.
func setup(ctx context.Context, needRPC, needWallet bool) (*runtime, error) {
	cfg := appConfig
	rt := &runtime{cfg: cfg, close: func() {}}

	resolver, err := cfg.Resolver()
	if err != nil {
		return nil, err
	}

	switch {
	case needWallet:
		if cfg.Chain.PrivateKey == "" {
			return nil, errors.New("CHAIN_PRIVATE_KEY is required")
		}
		keyed, err := wallet.DialKeyed(ctx, wallet.KeyedConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
			PollInterval:  cfg.Chain.PollInterval,
		})
		if err != nil {
			return nil, err
		}
		rt.wallet, rt.caller, rt.close = keyed, keyed.Caller(), keyed.Close
	case needRPC:
		if cfg.Chain.RPCURL == "" {
			return nil, errors.New("CHAIN_RPC_URL is required")
		}
		client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		rt.caller, rt.close = client, client.Close
	}

	var oracle pricing.Oracle
	if cfg.Service.OracleURL != "" {
		oracle = pricing.NewHTTPOracle(cfg.Service.OracleURL, cfg.Service.OraclePath, cfg.Service.OracleTimeout)
	}

	var rec mint.Recorder
	switch {
	case cfg.Service.RecorderURL != "":
		rec = recorder.New(cfg.Service.RecorderURL, cfg.Service.RecorderSecret, cfg.Service.RecordTimeout)
	case needWallet:
		store, err := ledger.NewFileStore(cfg.Service.LedgerStorePath)
		if err != nil {
			rt.close()
			return nil, err
		}
		rec = recorder.StoreRecorder{Store: store}
	}

	rt.orch = mint.New(mint.Config{
		Profiles:      resolver,
		Prices:        pricing.NewConverter(oracle, pricing.DefaultFallbackRates, cfg.Service.OracleTimeout),
		Verifier:      verifier.New(cfg.Backoff()),
		Caller:        rt.caller,
		Recorder:      rec,
		RecordTimeout: cfg.Service.RecordTimeout,
	})
	return rt, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Buy, verify and price campaign editions on-chain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVarP(&globalFlags.chain, "chain", "c", "", "chain profile key (default from CHAIN_DEFAULT_PROFILE)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if globalFlags.debug {
			cfg.Log.Level = "debug"
		}
		if err := cfg.ConfigureLogging(); err != nil {
			return err
		}
		log.SetOutput(os.Stderr)
		appConfig = cfg
		return nil
	}

	rootCmd.AddCommand(buyCommand())
	rootCmd.AddCommand(verifyCommand())
	rootCmd.AddCommand(quoteCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
