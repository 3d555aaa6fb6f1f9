// Command compfarm is the entry point for the reward reinvestment bot. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yllvar/Compound-Explorer/internal/app"
	"github.com/yllvar/Compound-Explorer/internal/config"
	"github.com/yllvar/Compound-Explorer/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.String("encrypt-key", "",
		"write COMPFARM_WALLET_PRIVATE_KEY encrypted with COMPFARM_WALLET_KEY_PASSWORD to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptKey != "" {
		if err := writeEncryptedKey(*encryptKey); err != nil {
			logger.Error("encrypt key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted key written", slog.String("path", *encryptKey))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("compfarm starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("compfarm stopped")
}

// writeEncryptedKey reads the key and password from the environment (or a
// .env file) so neither appears in shell history.
func writeEncryptedKey(path string) error {
	_ = godotenv.Load()

	key := os.Getenv("COMPFARM_WALLET_PRIVATE_KEY")
	if !config.ValidPrivateKey(key) {
		return errors.New("COMPFARM_WALLET_PRIVATE_KEY must be set to a 64 character hex key")
	}
	blob, err := crypto.EncryptKey(key, os.Getenv("COMPFARM_WALLET_KEY_PASSWORD"))
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
