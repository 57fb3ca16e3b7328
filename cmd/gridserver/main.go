// Command gridserver runs the grid/trailing order-generation engine as a
// control-plane HTTP service: one ticker.Driver per configured symbol,
// backed by Redis state snapshots, a Postgres order-emission audit log, and
// Vault-held exchange credentials.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gridtrader/internal/api"
	"gridtrader/internal/auth"
	"gridtrader/internal/config"
	"gridtrader/internal/secrets"
	"gridtrader/internal/snapshot"
	"gridtrader/internal/store"
	"gridtrader/internal/ticker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Logging.Level))
	var logger zerolog.Logger
	if cfg.Logging.JSONFormat {
		logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "gridserver").Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("component", "gridserver").Logger()
	}

	snapStore, err := snapshot.New(snapshot.RedisConfig{
		Enabled:  cfg.Redis.Enabled,
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize snapshot store")
	}

	var auditStore *store.Store
	if cfg.Database.Enabled {
		auditStore, err = store.New(store.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to audit database")
		}
		defer auditStore.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := auditStore.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to run audit database migrations")
		}
		cancel()
	}

	secretsClient, err := secrets.New(secrets.Config{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		TLSEnabled: cfg.Vault.TLSEnabled,
		CACert:     cfg.Vault.CACert,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize secrets client")
	}

	if len(cfg.Symbols) == 0 {
		logger.Fatal().Msg("no symbols configured")
	}

	registry := ticker.NewRegistry()
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	for _, sym := range cfg.Symbols {
		driver := ticker.NewDriver(rootCtx, ticker.Config{
			Symbol:       sym.Symbol,
			ExchangeName: sym.Exchange,
			TestNet:      sym.TestNet,
			Exchange:     sym.ExchangeParams,
			Long:         sym.Long,
			Short:        sym.Short,
		}, snapStore, auditStore, secretsClient, logger)
		registry.Add(driver)
		logger.Info().Str("symbol", sym.Symbol).Msg("registered symbol driver")
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenDuration, cfg.Auth.RefreshTokenDuration)
	passwordManager := auth.NewPasswordManager(auth.DefaultBcryptCost, cfg.Auth.MinPasswordLength)

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.Server.Port,
		Host:           cfg.Server.Host,
		ProductionMode: cfg.Server.ProductionMode,
		CORSOrigins:    cfg.Server.CORSOrigins,
	}, jwtManager, registry)

	server.SetLoginVerifier(func(username, password string) bool {
		if username != cfg.Auth.OperatorUsername {
			return false
		}
		return passwordManager.VerifyPassword(password, cfg.Auth.OperatorPasswordHash)
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("starting control-plane server")
		errCh <- server.Start(sigCtx)
	}()

	select {
	case <-sigCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited with error")
		}
	}

	cancelRoot()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
