package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/yllvar/Compound-Explorer/internal/blob/s3"
	"github.com/yllvar/Compound-Explorer/internal/cache/redis"
	"github.com/yllvar/Compound-Explorer/internal/chain"
	"github.com/yllvar/Compound-Explorer/internal/config"
	"github.com/yllvar/Compound-Explorer/internal/crypto"
	"github.com/yllvar/Compound-Explorer/internal/domain"
	"github.com/yllvar/Compound-Explorer/internal/notify"
	"github.com/yllvar/Compound-Explorer/internal/pipeline"
	"github.com/yllvar/Compound-Explorer/internal/registry"
	"github.com/yllvar/Compound-Explorer/internal/report"
	"github.com/yllvar/Compound-Explorer/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. It is constructed
// by Wire and torn down by the returned cleanup function. Optional
// infrastructure fields stay nil when their section is disabled.
type Dependencies struct {
	Account  common.Address
	Gateway  *chain.Gateway
	Registry *registry.Registry
	Pipeline *pipeline.Pipeline
	Reporter *report.Reporter

	// Optional infrastructure
	AuditStore  domain.AuditStore
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	EventBus    domain.EventBus
	BlobWriter  domain.BlobWriter
	Notifier    *notify.Notifier
}

// Wire constructs all concrete implementations from cfg and returns them with
// a cleanup function that releases connections in reverse order. Any error
// here is fatal: nothing has touched the chain's state yet.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Account: common.HexToAddress(cfg.Wallet.AccountAddress)}

	// --- Signing credential ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: signing key: %w", err))
	}
	signer, err := crypto.NewSigner(key, cfg.Chain.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}
	if err := signer.MatchesAccount(cfg.Wallet.AccountAddress); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Chain gateway ---
	client, err := chain.Dial(ctx, cfg.Chain.Endpoint())
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, client.Close)

	gw, err := chain.NewGateway(client, signer, gatewayTokens(cfg), gatewayOptions(cfg), logger)
	if err != nil {
		return fail(fmt.Errorf("wire: gateway: %w", err))
	}
	if err := gw.VerifyChainID(ctx); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Gateway = gw

	// --- PostgreSQL audit log ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Redis run lock, rate limiter and run bus ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.EventBus = redis.NewRunBus(redisClient)
	}

	// --- S3 run report archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable; archive writes may fail",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client, cfg.S3.Prefix)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Core ---
	deps.Reporter = report.New(logger, reportSinks(deps, cfg.Redis.Channel)...)
	deps.Registry = registry.New(gw, common.HexToAddress(cfg.Contracts.Comptroller), cfg.Farming.BlocksPerYear, logger)

	opts := []pipeline.Option{pipeline.WithReporter(deps.Reporter)}
	if deps.LockManager != nil {
		opts = append(opts, pipeline.WithLockManager(deps.LockManager))
	}
	deps.Pipeline = pipeline.New(gw, pipelineConfig(cfg), logger, opts...)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("account", deps.Account.Hex()),
		slog.Int64("chain_id", cfg.Chain.ChainID),
		slog.Any("report_sinks", deps.Reporter.Sinks()),
		slog.Bool("run_lock", deps.LockManager != nil),
	)
	return deps, cleanup, nil
}

// gatewayTokens lists the symbols ToBaseUnits resolves.
func gatewayTokens(cfg *config.Config) []chain.Token {
	return []chain.Token{
		{Symbol: cfg.Contracts.UnderlyingSymbol, Address: common.HexToAddress(cfg.Contracts.Underlying)},
		{Symbol: cfg.Contracts.RewardSymbol, Address: common.HexToAddress(cfg.Contracts.Reward)},
	}
}

func gatewayOptions(cfg *config.Config) chain.Options {
	return chain.Options{
		ConfirmTimeout:     cfg.Chain.ConfirmTimeout.Duration,
		ReceiptPoll:        cfg.Chain.ReceiptPoll.Duration,
		CallTimeout:        cfg.Chain.CallTimeout.Duration,
		GasLimitMultiplier: cfg.Chain.GasLimitMultiplier,
		DecimalsOverride:   cfg.Farming.TokenDecimals,
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Account:          common.HexToAddress(cfg.Wallet.AccountAddress),
		Comptroller:      common.HexToAddress(cfg.Contracts.Comptroller),
		CToken:           common.HexToAddress(cfg.Contracts.CToken),
		Underlying:       common.HexToAddress(cfg.Contracts.Underlying),
		Reward:           common.HexToAddress(cfg.Contracts.Reward),
		UnderlyingSymbol: cfg.Contracts.UnderlyingSymbol,
		LockTTL:          cfg.Farming.RunLockTTL.Duration,
	}
}

// reportSinks returns a sink for every wired backend. Interface fields are
// only ever assigned non-nil values, so a nil check is sufficient.
func reportSinks(deps *Dependencies, channel string) []report.Sink {
	var sinks []report.Sink
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		sinks = append(sinks, report.NewNotifySink(deps.Notifier))
	}
	if deps.AuditStore != nil {
		sinks = append(sinks, report.NewAuditSink(deps.AuditStore))
	}
	if deps.BlobWriter != nil {
		sinks = append(sinks, report.NewBlobSink(deps.BlobWriter))
	}
	if deps.EventBus != nil && channel != "" {
		sinks = append(sinks, report.NewBusSink(deps.EventBus, channel))
	}
	return sinks
}
