package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COMPFARM_* environment variable overrides, and
// returns the final Config. A missing file is not an error so the bot can be
// configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COMPFARM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.InfuraProjectID, "INFURA_PROJECT_ID") // compatibility alias
	setStr(&cfg.Chain.InfuraProjectID, "COMPFARM_CHAIN_INFURA_PROJECT_ID")
	setStr(&cfg.Chain.RPCURL, "COMPFARM_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "COMPFARM_CHAIN_ID")
	setDuration(&cfg.Chain.ConfirmTimeout, "COMPFARM_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.ReceiptPoll, "COMPFARM_CHAIN_RECEIPT_POLL_INTERVAL")
	setDuration(&cfg.Chain.CallTimeout, "COMPFARM_CHAIN_CALL_TIMEOUT")
	setFloat64(&cfg.Chain.GasLimitMultiplier, "COMPFARM_CHAIN_GAS_LIMIT_MULTIPLIER")

	// ── Wallet ──
	setStr(&cfg.Wallet.AccountAddress, "ACCOUNT_ADDRESS") // compatibility alias
	setStr(&cfg.Wallet.AccountAddress, "COMPFARM_WALLET_ACCOUNT_ADDRESS")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.PrivateKey, "COMPFARM_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "COMPFARM_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "COMPFARM_WALLET_KEY_PASSWORD")

	// ── Contracts ──
	setStr(&cfg.Contracts.Comptroller, "COMPFARM_CONTRACTS_COMPTROLLER")
	setStr(&cfg.Contracts.CToken, "COMPFARM_CONTRACTS_CTOKEN")
	setStr(&cfg.Contracts.Underlying, "COMPFARM_CONTRACTS_UNDERLYING")
	setStr(&cfg.Contracts.Reward, "COMPFARM_CONTRACTS_REWARD")
	setStr(&cfg.Contracts.UnderlyingSymbol, "COMPFARM_CONTRACTS_UNDERLYING_SYMBOL")
	setStr(&cfg.Contracts.RewardSymbol, "COMPFARM_CONTRACTS_REWARD_SYMBOL")

	// ── Farming ──
	setStr(&cfg.Farming.SeedAmount, "COMPFARM_FARMING_SEED_AMOUNT")
	setStr(&cfg.Farming.Schedule, "COMPFARM_FARMING_SCHEDULE")
	setStr(&cfg.Farming.Timezone, "COMPFARM_FARMING_TIMEZONE")
	setInt64(&cfg.Farming.BlocksPerYear, "COMPFARM_FARMING_BLOCKS_PER_YEAR")
	setDuration(&cfg.Farming.RunLockTTL, "COMPFARM_FARMING_RUN_LOCK_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COMPFARM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COMPFARM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COMPFARM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COMPFARM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COMPFARM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COMPFARM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COMPFARM_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Channel, "COMPFARM_REDIS_CHANNEL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COMPFARM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COMPFARM_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "COMPFARM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COMPFARM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COMPFARM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COMPFARM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COMPFARM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COMPFARM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COMPFARM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COMPFARM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COMPFARM_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COMPFARM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COMPFARM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COMPFARM_S3_REGION")
	setStr(&cfg.S3.Bucket, "COMPFARM_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "COMPFARM_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "COMPFARM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COMPFARM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COMPFARM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COMPFARM_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COMPFARM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COMPFARM_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "COMPFARM_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COMPFARM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COMPFARM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COMPFARM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COMPFARM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COMPFARM_MODE")
	setStr(&cfg.LogLevel, "COMPFARM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
