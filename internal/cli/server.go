package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"eartune-trainer/internal/app"
	"eartune-trainer/internal/clock"
	"eartune-trainer/internal/config"
	"eartune-trainer/internal/infra/memory"
	"eartune-trainer/internal/infra/postgres"
	infraredis "eartune-trainer/internal/infra/redis"
	transport "eartune-trainer/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the subcommand that serves the browser bridge.
func NewStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the websocket bridge for browser players",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runServer(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
		},
	}
}

type playerRegistry interface {
	transport.PlayerStore
	transport.PlayerLookup
	CloseAll()
}

func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	checks := make(map[string]transport.Checker)

	var journal app.RoundRecorder = memory.NewRoundJournal()
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		journal = postgres.NewRoundJournal(pool)
		checks["postgres"] = transport.CheckerFunc(pool.Ping)
		logger.Info("connected to postgres")
	}

	redisClient, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = transport.CheckerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	clients, err := newAPIClients(cfg, redisClient)
	if err != nil {
		return err
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog transport.GameCatalog
	if redisClient != nil {
		catalog = infraredis.NewGameCatalog(redisClient, clients.API, catalogTTL)
	} else {
		catalog = memory.NewGameCatalog(clients.API, catalogTTL)
	}

	factory := app.PlayerFactory{
		Games:     clients.API,
		Evaluator: app.NewEvaluator(clients.API),
		Journal:   journal,
		Scheduler: clock.Real{},
		Timings:   cfg.Celebrations.Timings(),
		Logger:    logger,
	}
	var players playerRegistry
	if redisClient != nil {
		players = infraredis.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute), factory.NewPlayer)
	} else {
		players = memory.NewSessionStore(factory.NewPlayer)
	}
	defer players.CloseAll()

	router := transport.NewRouter(transport.RouterDeps{
		WS:      transport.NewWSHandler(players, logger, transport.WithGameFinder(catalog)),
		Games:   catalog,
		Players: players,
		Checks:  checks,
		Logger:  logger,
	})

	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		logger.Info("starting eartune bridge", "addr", addr, "api", cfg.API.BaseURL)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down bridge")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
