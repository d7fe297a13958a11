package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vetsmint/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfiles(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("API_HTTP_PORT", "8081")
	t.Setenv("VERIFY_MAX_ATTEMPTS", "3")
	t.Setenv("CHAIN_PROFILES_PATH", writeProfiles(t, `{"profiles":[{"key":"sepolia-v6","contractAddress":"0x2222222222222222222222222222222222222222"}]}`))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Service.HTTPPort)
	assert.Equal(t, time.Minute, cfg.Service.HMACClockSkew)
	assert.Equal(t, "blockdag-v6", cfg.Chain.DefaultProfile)
	assert.NotEmpty(t, cfg.Service.LedgerStorePath)

	b := cfg.Backoff()
	assert.Equal(t, 3, b.MaxAttempts)
	assert.Equal(t, time.Second, b.InitialDelay)
	assert.Equal(t, 8*time.Second, b.MaxDelay)
	assert.Equal(t, 2.0, b.BackoffMultiplier)

	r, err := cfg.Resolver()
	require.NoError(t, err)
	p, err := r.Resolve("", "sepolia-v6")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), p.ContractAddress)
	assert.Equal(t, uint64(2), p.Confirmations)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("VERIFY_MAX_BACKOFF=4s\nPRICE_ORACLE_URL=http://oracle.local\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("VERIFY_MAX_BACKOFF")
		os.Unsetenv("PRICE_ORACLE_URL")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, "http://oracle.local", cfg.Service.OracleURL)
}

func TestLoadProfilesAddsNewNetwork(t *testing.T) {
	path := writeProfiles(t, `{"profiles":[
		{"key":"holesky-v6","name":"Holesky","chainId":17000,"variant":"V6","currencySymbol":"eth","gasCeiling":450000}
	]}`)

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, len(chain.DefaultProfiles())+1)

	added := profiles[len(profiles)-1]
	assert.Equal(t, "holesky-v6", added.Key)
	assert.Equal(t, chain.VariantV6, added.Variant)
	assert.Equal(t, "ETH", added.CurrencySymbol)
	assert.Equal(t, uint64(1), added.Confirmations)
	assert.False(t, added.Configured())
}

func TestLoadProfilesRejectsIncompleteEntry(t *testing.T) {
	_, err := LoadProfiles(writeProfiles(t, `{"profiles":[{"key":"mystery"}]}`))
	assert.ErrorContains(t, err, "profile mystery")

	_, err = LoadProfiles(writeProfiles(t, `{"profiles":[{"key":"blockdag-v6","contractAddress":"0x12"}]}`))
	assert.ErrorContains(t, err, "invalid contract address")
}

func TestLoadProfilesMissingFile(t *testing.T) {
	profiles, err := LoadProfiles(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, chain.DefaultProfiles(), profiles)
}

func TestConfigureLogging(t *testing.T) {
	cfg := &AppConfig{Log: LogConfig{Level: "warn", Format: "json"}}
	assert.NoError(t, cfg.ConfigureLogging())

	cfg.Log.Format = "xml"
	assert.Error(t, cfg.ConfigureLogging())

	cfg.Log = LogConfig{Level: "loud"}
	assert.Error(t, cfg.ConfigureLogging())
}
