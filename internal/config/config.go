// Package config defines the top-level configuration for the reward
// reinvestment bot and provides validation helpers.
package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/yllvar/Compound-Explorer/internal/scheduler"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COMPFARM_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Wallet    WalletConfig    `toml:"wallet"`
	Contracts ContractsConfig `toml:"contracts"`
	Farming   FarmingConfig   `toml:"farming"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig holds the node endpoint and transaction confirmation settings.
type ChainConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	InfuraProjectID    string   `toml:"infura_project_id"`
	ChainID            int64    `toml:"chain_id"`
	ConfirmTimeout     duration `toml:"confirm_timeout"`
	ReceiptPoll        duration `toml:"receipt_poll_interval"`
	CallTimeout        duration `toml:"call_timeout"`
	GasLimitMultiplier float64  `toml:"gas_limit_multiplier"`
}

// Endpoint returns the RPC URL, building an Infura mainnet URL from the
// project ID when no explicit URL is configured.
func (c ChainConfig) Endpoint() string {
	if strings.TrimSpace(c.RPCURL) != "" {
		return c.RPCURL
	}
	if c.InfuraProjectID != "" {
		return "https://mainnet.infura.io/v3/" + c.InfuraProjectID
	}
	return ""
}

// WalletConfig holds the single account and its signing credential.
type WalletConfig struct {
	AccountAddress   string `toml:"account_address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LogValue keeps the signing credential out of every log line.
func (w WalletConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account_address", w.AccountAddress),
		slog.Bool("private_key_set", w.PrivateKey != ""),
		slog.String("encrypted_key_path", w.EncryptedKeyPath),
	)
}

// ContractsConfig holds the fixed protocol contract addresses.
type ContractsConfig struct {
	Comptroller      string `toml:"comptroller"`
	CToken           string `toml:"ctoken"`
	Underlying       string `toml:"underlying"`
	Reward           string `toml:"reward"`
	UnderlyingSymbol string `toml:"underlying_symbol"`
	RewardSymbol     string `toml:"reward_symbol"`
}

// FarmingConfig holds the reinvestment schedule and the startup seed deposit.
type FarmingConfig struct {
	SeedAmount    string         `toml:"seed_amount"`
	Schedule      string         `toml:"schedule"`
	Timezone      string         `toml:"timezone"`
	BlocksPerYear int64          `toml:"blocks_per_year"`
	RunLockTTL    duration       `toml:"run_lock_ttl"`
	TokenDecimals map[string]int `toml:"token_decimals"`
}

// Seed parses SeedAmount. An empty value means no seed deposit.
func (f FarmingConfig) Seed() (decimal.Decimal, error) {
	if strings.TrimSpace(f.SeedAmount) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(f.SeedAmount)
}

// Location resolves Timezone, defaulting to UTC.
func (f FarmingConfig) Location() (*time.Location, error) {
	if f.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(f.Timezone)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Channel    string `toml:"channel"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the run report
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the Compound v2 mainnet deployment
// (DAI market, COMP rewards) and a daily midnight schedule.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:            1,
			ConfirmTimeout:     duration{10 * time.Minute},
			ReceiptPoll:        duration{3 * time.Second},
			CallTimeout:        duration{30 * time.Second},
			GasLimitMultiplier: 1.2,
		},
		Contracts: ContractsConfig{
			Comptroller:      "0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B",
			CToken:           "0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643",
			Underlying:       "0x6B175474E89094C44Da98b954EedeAC495271d0F",
			Reward:           "0xc00e94Cb662C07889123658ff3BC9de462497c29",
			UnderlyingSymbol: "DAI",
			RewardSymbol:     "COMP",
		},
		Farming: FarmingConfig{
			SeedAmount:    "100",
			Schedule:      "0 0 * * *",
			Timezone:      "UTC",
			BlocksPerYear: 2_102_400,
			RunLockTTL:    duration{30 * time.Minute},
			TokenDecimals: map[string]int{},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   5,
			MaxRetries: 3,
			Channel:    "compfarm:runs",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "compfarm-runs",
			Prefix:         "runs",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"reinvest_success", "reinvest_failed", "seed_failed"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":       true,
	"once":      true,
	"positions": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// privateKeyPattern is 32 bytes of hex with an optional 0x prefix.
var privateKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// ValidPrivateKey reports whether key has the fixed-length hex format.
func ValidPrivateKey(key string) bool {
	return privateKeyPattern.MatchString(key)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, once, positions)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.Endpoint() == "" {
		errs = append(errs, "chain: rpc_url or infura_project_id must be set")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be > 0")
	}
	if c.Chain.ReceiptPoll.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll_interval must be > 0")
	}
	if c.Chain.GasLimitMultiplier < 1 {
		errs = append(errs, "chain: gas_limit_multiplier must be >= 1")
	}

	// Wallet
	if c.Wallet.AccountAddress == "" {
		errs = append(errs, "wallet: account_address must be set")
	} else if !common.IsHexAddress(c.Wallet.AccountAddress) {
		errs = append(errs, fmt.Sprintf("wallet: account_address %q is not a hex address", c.Wallet.AccountAddress))
	}
	switch {
	case c.Wallet.PrivateKey != "":
		if !ValidPrivateKey(c.Wallet.PrivateKey) {
			errs = append(errs, "wallet: private_key must be 64 hexadecimal characters (32 bytes), optionally 0x-prefixed")
		}
	case c.Wallet.EncryptedKeyPath != "":
		if c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	default:
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}

	// Contracts
	for _, ca := range []struct{ name, addr string }{
		{"comptroller", c.Contracts.Comptroller},
		{"ctoken", c.Contracts.CToken},
		{"underlying", c.Contracts.Underlying},
		{"reward", c.Contracts.Reward},
	} {
		name, addr := ca.name, ca.addr
		if addr == "" {
			errs = append(errs, fmt.Sprintf("contracts: %s must be set", name))
		} else if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("contracts: %s %q is not a hex address", name, addr))
		}
	}
	if c.Contracts.UnderlyingSymbol == "" || c.Contracts.RewardSymbol == "" {
		errs = append(errs, "contracts: underlying_symbol and reward_symbol must be set")
	}

	// Farming
	if seed, err := c.Farming.Seed(); err != nil {
		errs = append(errs, fmt.Sprintf("farming: seed_amount %q is not a decimal: %v", c.Farming.SeedAmount, err))
	} else if seed.IsNegative() {
		errs = append(errs, "farming: seed_amount must be >= 0")
	}
	loc, err := c.Farming.Location()
	if err != nil {
		errs = append(errs, fmt.Sprintf("farming: unknown timezone %q", c.Farming.Timezone))
		loc = time.UTC
	}
	if strings.TrimSpace(c.Farming.Schedule) == "" {
		errs = append(errs, "farming: schedule must not be empty")
	} else if _, err := scheduler.Parse(c.Farming.Schedule, loc); err != nil {
		errs = append(errs, fmt.Sprintf("farming: schedule %q: %v", c.Farming.Schedule, err))
	}
	if c.Farming.BlocksPerYear <= 0 {
		errs = append(errs, "farming: blocks_per_year must be > 0")
	}
	for sym, d := range c.Farming.TokenDecimals {
		if d < 0 || d > 36 {
			errs = append(errs, fmt.Sprintf("farming: token_decimals[%s] must be 0-36, got %d", sym, d))
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
