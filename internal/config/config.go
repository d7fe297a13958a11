package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vetsmint/internal/backoff"
	"vetsmint/internal/chain"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// AppConfig ties together environment settings and the chain profile table.
type AppConfig struct {
	Service  ServiceConfig
	Chain    ChainConfig
	Retry    RetryConfig
	Log      LogConfig
	Profiles []chain.Profile
}

type ServiceConfig struct {
	HTTPPort      int           `env:"API_HTTP_PORT" envDefault:"3000"`
	HMACSecret    string        `env:"API_HMAC_SECRET"`
	HMACClockSkew time.Duration `env:"HMAC_CLOCK_SKEW" envDefault:"60s"`

	// LedgerDatabaseURL selects the Postgres ledger; otherwise LedgerStorePath is used.
	LedgerDatabaseURL string `env:"LEDGER_DATABASE_URL"`
	LedgerStorePath   string `env:"LEDGER_STORE_PATH"`

	// RecorderURL is the ledger the orchestrator mirrors to. Empty means this service's own store.
	RecorderURL    string        `env:"LEDGER_API_URL"`
	RecorderSecret string        `env:"LEDGER_API_SECRET"`
	RecordTimeout  time.Duration `env:"LEDGER_RECORD_TIMEOUT" envDefault:"15s"`

	OracleURL     string        `env:"PRICE_ORACLE_URL"`
	OraclePath    string        `env:"PRICE_ORACLE_PATH" envDefault:"/api/price"`
	OracleTimeout time.Duration `env:"PRICE_ORACLE_TIMEOUT" envDefault:"3s"`
}

type ChainConfig struct {
	RPCURL          string        `env:"CHAIN_RPC_URL"`
	PrivateKey      string        `env:"CHAIN_PRIVATE_KEY"`
	DefaultProfile  string        `env:"CHAIN_DEFAULT_PROFILE" envDefault:"blockdag-v6"`
	ContractAddress string        `env:"CONTRACT_ADDRESS"`
	ProfilesPath    string        `env:"CHAIN_PROFILES_PATH" envDefault:"profiles.json"`
	PollInterval    time.Duration `env:"CHAIN_POLL_INTERVAL" envDefault:"2s"`
}

type RetryConfig struct {
	MaxAttempts       int           `env:"VERIFY_MAX_ATTEMPTS" envDefault:"5"`
	InitialBackoff    time.Duration `env:"VERIFY_INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff        time.Duration `env:"VERIFY_MAX_BACKOFF" envDefault:"8s"`
	BackoffMultiplier float64       `env:"VERIFY_BACKOFF_MULTIPLIER" envDefault:"2"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// ProfileFile models profiles.json. Entries override the built-in profile with the same key
// or add a new one.
type ProfileFile struct {
	Profiles []ProfileEntry `json:"profiles"`
}

type ProfileEntry struct {
	Key             string `json:"key"`
	Name            string `json:"name"`
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	Variant         string `json:"variant"`
	CurrencySymbol  string `json:"currencySymbol"`
	Confirmations   uint64 `json:"confirmations"`
	GasCeiling      uint64 `json:"gasCeiling"`
	ExplorerURL     string `json:"explorerUrl"`
}

// Load aggregates configuration from .env, the environment and the profiles file.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg AppConfig
	if err := env.Parse(&cfg.Service); err != nil {
		return nil, fmt.Errorf("parse service env: %w", err)
	}
	if err := env.Parse(&cfg.Chain); err != nil {
		return nil, fmt.Errorf("parse chain env: %w", err)
	}
	if err := env.Parse(&cfg.Retry); err != nil {
		return nil, fmt.Errorf("parse retry env: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parse log env: %w", err)
	}
	if cfg.Service.LedgerStorePath == "" {
		cfg.Service.LedgerStorePath = filepath.Join(os.TempDir(), "vetsmint-ledger.json")
	}

	profiles, err := LoadProfiles(cfg.Chain.ProfilesPath)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	cfg.Profiles = profiles
	return &cfg, nil
}

// LoadProfiles merges path over the built-in profiles. A missing file yields the built-ins.
func LoadProfiles(path string) ([]chain.Profile, error) {
	profiles := chain.DefaultProfiles()
	if path == "" {
		return profiles, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return profiles, nil
	}
	if err != nil {
		return nil, err
	}
	var file ProfileFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(profiles))
	for i, p := range profiles {
		index[p.Key] = i
	}
	for _, entry := range file.Profiles {
		if entry.Key == "" {
			return nil, errors.New("profile entry without key")
		}
		i, ok := index[entry.Key]
		if !ok {
			profiles = append(profiles, chain.Profile{Key: entry.Key})
			i = len(profiles) - 1
			index[entry.Key] = i
		}
		if err := entry.apply(&profiles[i]); err != nil {
			return nil, fmt.Errorf("profile %s: %w", entry.Key, err)
		}
	}
	return profiles, nil
}

func (e ProfileEntry) apply(p *chain.Profile) error {
	if e.Name != "" {
		p.Name = e.Name
	}
	if e.ChainID != 0 {
		p.ChainID = e.ChainID
	}
	if e.ContractAddress != "" {
		if !common.IsHexAddress(e.ContractAddress) {
			return fmt.Errorf("invalid contract address %q", e.ContractAddress)
		}
		p.ContractAddress = common.HexToAddress(e.ContractAddress)
	}
	if e.Variant != "" {
		p.Variant = chain.Variant(strings.ToLower(e.Variant))
	}
	if e.CurrencySymbol != "" {
		p.CurrencySymbol = strings.ToUpper(e.CurrencySymbol)
	}
	if e.Confirmations != 0 {
		p.Confirmations = e.Confirmations
	}
	if e.GasCeiling != 0 {
		p.GasCeiling = e.GasCeiling
	}
	if e.ExplorerURL != "" {
		p.ExplorerURL = e.ExplorerURL
	}
	if p.ChainID == 0 || p.Variant == "" || p.CurrencySymbol == "" {
		return errors.New("chainId, variant and currencySymbol are required")
	}
	if p.Name == "" {
		p.Name = p.Key
	}
	if p.Confirmations == 0 {
		p.Confirmations = 1
	}
	return nil
}

// Backoff is the campaign verification retry policy.
func (c *AppConfig) Backoff() backoff.Config {
	return backoff.Config{
		MaxAttempts:       c.Retry.MaxAttempts,
		InitialDelay:      c.Retry.InitialBackoff,
		MaxDelay:          c.Retry.MaxBackoff,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
	}
}

// Resolver builds the chain profile resolver from the loaded profiles.
func (c *AppConfig) Resolver() (*chain.Resolver, error) {
	return chain.NewResolver(c.Profiles, c.Chain.DefaultProfile, c.Chain.ContractAddress)
}

// ConfigureLogging applies the log level and format to the standard logrus logger.
func (c *AppConfig) ConfigureLogging() error {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	switch strings.ToLower(c.Log.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	log.SetOutput(os.Stdout)
	return nil
}
