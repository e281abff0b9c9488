package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/lingochat/internal/api"
	"github.com/nidhogg/lingochat/internal/cache"
	"github.com/nidhogg/lingochat/internal/chat"
	"github.com/nidhogg/lingochat/internal/command"
	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/config"
	"github.com/nidhogg/lingochat/internal/events"
	"github.com/nidhogg/lingochat/internal/gateway"
	"github.com/nidhogg/lingochat/internal/provider"
	msgrouter "github.com/nidhogg/lingochat/internal/router"
	"github.com/nidhogg/lingochat/internal/session"
	pgstore "github.com/nidhogg/lingochat/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	sweepInterval  = time.Minute
	eventStreamLen = 1000
)

func newServeCmd() *cobra.Command {
	var migrations string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and chat platform gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg, migrations)
		},
	}
	cmd.Flags().StringVar(&migrations, "migrations", "migrations", "directory of *.up.sql files")
	return cmd
}

func serve(cfg *config.Config, migrationsDir string) error {
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting lingochat...", zap.String("config", configPath))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize provider router
	completer := provider.NewRouter(logger)
	for _, pc := range cfg.ProviderConfigs() {
		if pc.APIKey == "" {
			logger.Warn("provider has no api key, skipping", zap.String("id", pc.ID))
			continue
		}
		switch pc.Type {
		case "openai":
			completer.Register(provider.NewOpenAIProvider(pc, logger))
		case "anthropic":
			completer.Register(provider.NewAnthropicProvider(pc, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Redis backs the compression cache and the turn event stream
	var rdb *redis.Client
	var publisher events.Publisher = events.Nop{}
	var history api.EventHistory
	var memo compressor.Cache
	if cfg.Database.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Database.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unavailable, running without events and cache", zap.Error(err))
			rdb.Close()
			rdb = nil
		} else {
			bus := events.NewBus(rdb, eventStreamLen, logger)
			publisher, history = bus, bus
			if cfg.Cache.Enabled {
				memo = cache.New(rdb, cfg.CacheTTL(), logger)
			}
			logger.Info("Redis connected")
		}
	}

	// Initialize PostgreSQL turn ledger
	var pg *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without turn ledger", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, migrationsDir); mErr != nil {
				ps.Close()
				return fmt.Errorf("migrate: %w", mErr)
			}
			pg = ps
			defer pg.Close()
		}
	}

	comp, err := compressor.New(cfg.CompressorSettings(), memo, logger)
	if err != nil {
		return err
	}

	sessCfg := session.Config{
		Compressor: comp,
		Completer:  completer,
		Chat: chat.Options{
			Model:     cfg.Completion.Model,
			MaxTokens: cfg.Completion.MaxTokens,
		},
		Defaults: chat.Settings{
			CompressionStrength: cfg.Defaults.CompressionStrength,
			Temperature:         cfg.Defaults.Temperature,
			SystemMessage:       cfg.Defaults.SystemMessage,
			AllowUncompressed:   cfg.Defaults.AllowUncompressed,
		},
		Events: publisher,
	}
	// Leave Ledger as a nil interface when Postgres is off.
	var ledger api.TurnLedger
	if pg != nil {
		sessCfg.Ledger = pg
		ledger = pg
	}
	sessions := session.NewManager(sessCfg, logger)
	go sessions.Run(ctx, sweepInterval, cfg.IdleTimeout())

	// Initialize gateway; wire the router before registering adapters
	gw := gateway.NewGateway(logger)
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, comp, gw)
	gw.SetHandler(msgrouter.New(sessions, gw, commands, logger).Handle)

	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	// Build HTTP handler
	handler := api.NewHandler(sessions, comp, ledger, history, gw, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("lingochat listening",
			zap.String("addr", srv.Addr),
			zap.String("compressor", comp.Backend()),
			zap.String("model", cfg.Completion.Model))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	logger.Info("Shutting down lingochat...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gw.Close()
	if rdb != nil {
		rdb.Close()
	}
	return nil
}
