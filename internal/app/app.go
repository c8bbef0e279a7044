package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tgscan-bot/tgscan/internal/config"
	"github.com/tgscan-bot/tgscan/internal/observability"
)

// UpdateLoop consumes front-end updates until its context is canceled.
type UpdateLoop interface {
	Run(ctx context.Context) error
}

// Sweeper reclaims abandoned login flows and their storage rows.
type Sweeper interface {
	SweepIdle(ctx context.Context) (flows int, rows int64)
}

// App bundles the long-running pieces of the process: the bot update loop,
// the liveness HTTP server, and the idle login-flow sweeper.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *gorm.DB
	Bot           UpdateLoop
	Flows         Sweeper
	Health        *http.Server
	Observability *observability.Runtime
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	db *gorm.DB,
	b UpdateLoop,
	flows Sweeper,
	health *http.Server,
	runtime *observability.Runtime,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Bot:           b,
		Flows:         flows,
		Health:        health,
		Observability: runtime,
	}
}

// Run starts all background loops and blocks until ctx is canceled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("health server listening", "addr", a.Health.Addr)
		if err := a.Health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Health.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := a.Bot.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(a.Config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				flows, rows := a.Flows.SweepIdle(ctx)
				if flows > 0 || rows > 0 {
					a.Logger.Info("idle sweep", "flows_released", flows, "pending_rows_removed", rows)
				}
			}
		}
	})

	return g.Wait()
}
