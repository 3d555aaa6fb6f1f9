package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.InfuraProjectID = "abc123"
	cfg.Wallet.AccountAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	cfg.Wallet.PrivateKey = testKey
	return cfg
}

func TestValidateDefaultsWithCredentials(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://mainnet.infura.io/v3/abc123", cfg.Chain.Endpoint())
}

func TestValidateRejectsMissingRequiredValues(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url or infura_project_id")
	assert.Contains(t, err.Error(), "account_address must be set")
	assert.Contains(t, err.Error(), "either private_key or encrypted_key_path")
}

func TestValidatePrivateKeyFormat(t *testing.T) {
	tests := []struct {
		name string
		key  string
		ok   bool
	}{
		{"bare hex", testKey, true},
		{"0x prefixed", "0x" + testKey, true},
		{"upper case", "0x4C0883A69102937D6231471B5DBB6204FE5129617082792AE468D01A3F362318", true},
		{"too short", testKey[:62], false},
		{"too long", testKey + "00", false},
		{"non hex", "zz" + testKey[2:], false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Wallet.PrivateKey = tc.key
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "private_key must be 64 hexadecimal characters")
			}
		})
	}
}

func TestValidateContractAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.Contracts.Reward = "not-an-address"
	cfg.Contracts.Comptroller = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `contracts: reward "not-an-address" is not a hex address`)
	assert.Contains(t, err.Error(), "contracts: comptroller must be set")
}

func TestValidateSeedAmount(t *testing.T) {
	cfg := validConfig()
	cfg.Farming.SeedAmount = "-1"
	require.ErrorContains(t, cfg.Validate(), "seed_amount must be >= 0")

	cfg.Farming.SeedAmount = "ten"
	require.ErrorContains(t, cfg.Validate(), "is not a decimal")

	cfg.Farming.SeedAmount = ""
	seed, err := cfg.Farming.Seed()
	require.NoError(t, err)
	assert.True(t, seed.IsZero())
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("INFURA_PROJECT_ID", "from-env")
	t.Setenv("ACCOUNT_ADDRESS", "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("COMPFARM_FARMING_SCHEDULE", "30 6 * * *")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Chain.InfuraProjectID)
	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)
	assert.Equal(t, "30 6 * * *", cfg.Farming.Schedule)
	assert.Equal(t, int64(2_102_400), cfg.Farming.BlocksPerYear)
	require.NoError(t, cfg.Validate())
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
mode = "once"

[chain]
rpc_url = "http://localhost:8545"
chain_id = 1337
confirm_timeout = "45s"

[farming]
seed_amount = "2.5"
blocks_per_year = 2628000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "once", cfg.Mode)
	assert.Equal(t, "http://localhost:8545", cfg.Chain.Endpoint())
	assert.Equal(t, int64(1337), cfg.Chain.ChainID)
	assert.Equal(t, "45s", cfg.Chain.ConfirmTimeout.String())
	assert.Equal(t, int64(2_628_000), cfg.Farming.BlocksPerYear)
	assert.Equal(t, "0 0 * * *", cfg.Farming.Schedule)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	out := RedactedConfig(&cfg)

	assert.Equal(t, redacted, out.Wallet.PrivateKey)
	assert.Equal(t, redacted, out.Chain.InfuraProjectID)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, testKey, cfg.Wallet.PrivateKey, "original must be untouched")
	assert.Equal(t, cfg.Wallet.AccountAddress, out.Wallet.AccountAddress)
}

func TestWalletLogValueOmitsKey(t *testing.T) {
	cfg := validConfig()
	v := cfg.Wallet.LogValue().String()
	assert.NotContains(t, v, testKey)
	assert.Contains(t, v, cfg.Wallet.AccountAddress)
}

func TestValidateSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.Farming.Schedule = "61 * * * *"
	require.ErrorContains(t, cfg.Validate(), `farming: schedule "61 * * * *"`)

	cfg.Farming.Schedule = "@every 6h"
	require.NoError(t, cfg.Validate())

	cfg.Farming.Timezone = "Mars/Olympus"
	require.ErrorContains(t, cfg.Validate(), "unknown timezone")
}
