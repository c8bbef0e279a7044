package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tgscan-bot/tgscan/internal/app"
	"github.com/tgscan-bot/tgscan/internal/bot"
	"github.com/tgscan-bot/tgscan/internal/config"
	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/http/router"
	"github.com/tgscan-bot/tgscan/internal/observability"
	"github.com/tgscan-bot/tgscan/internal/repository"
	"github.com/tgscan-bot/tgscan/internal/service"
	"github.com/tgscan-bot/tgscan/internal/statestore"
	"github.com/tgscan-bot/tgscan/internal/transport"
	"github.com/tgscan-bot/tgscan/internal/verifier"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tgscan",
		Short:        "Multi-account phone number verification bot for Telegram",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, liveness server and background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		log.Fatalf("observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := runtime.Shutdown(shutdownCtx); err != nil {
			logger.Error("observability shutdown failed", "error", err)
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("open database failed", "error", err)
		return err
	}
	if err := db.AutoMigrate(&domain.AccountSession{}, &domain.PendingAuth{}, &domain.KnownUser{}); err != nil {
		logger.Error("migrate failed", "error", err)
		return err
	}
	if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
		logger.Error("create session dir failed", "dir", cfg.SessionDir, "error", err)
		return err
	}

	var states statestore.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("redis ping failed", "addr", cfg.RedisAddr, "error", err)
			return fmt.Errorf("redis: %w", err)
		}
		states = statestore.NewRedisStore(rdb, "")
		logger.Info("using redis conversation store", "addr", cfg.RedisAddr)
	} else {
		states = statestore.NewInMemoryStore()
	}

	dialer := transport.NewGotdDialer(cfg.SessionDir, logger)
	sessionRepo := repository.NewSessionRepository(db)
	pendingRepo := repository.NewPendingAuthRepository(db)
	pool := service.NewSessionPoolService(sessionRepo, cfg.SessionDir, logger)
	flows := service.NewAuthFlowService(pool, pendingRepo, dialer, states, logger,
		cfg.ConversationTTL, cfg.AuthFlowIdleTimeout, cfg.PendingAuthTTL)
	prober := verifier.NewTransportProber(dialer, logger)
	batches := verifier.NewOrchestrator(pool, prober, logger, cfg.ProbeSleepMin, cfg.ProbeSleepMax)
	registry := service.NewRegistryService(repository.NewKnownUserRepository(db), logger)

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error("bot api init failed", "error", err)
		return err
	}
	b := bot.New(api, flows, pool, batches, registry, states, cfg.Prefixes(), cfg.ConversationTTL, logger)

	health := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           router.NewRouter(router.Dependencies{DB: db, EnableOTelHTTP: cfg.OTELEnabled()}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a := app.New(cfg, logger, db, b, flows, health, runtime)
	logger.Info("starting", "health_addr", cfg.HealthAddr, "session_dir", cfg.SessionDir)
	if err := a.Run(ctx); err != nil {
		logger.Error("run failed", "error", err)
		return err
	}
	logger.Info("stopped")
	return nil
}

// openDatabase selects the driver from the DSN shape: a file path or file:
// URI means local sqlite, anything else goes to postgres.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if strings.HasSuffix(dsn, ".db") || strings.HasPrefix(dsn, "file:") {
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}
