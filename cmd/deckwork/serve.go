package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"deckwork/internal/artifacts"
	"deckwork/internal/config"
	"deckwork/internal/logging"
	"deckwork/internal/orchestrator"
	"deckwork/internal/poller"
	"deckwork/internal/registry"
	deckhttp "deckwork/internal/server/http"
	"deckwork/internal/transport"
	"deckwork/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

// newServeCommand creates the serve subcommand.
func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the generation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting deckwork server...")
	logger.Info("Upstream task source: %s", cfg.Upstream.BaseURL)
	logger.Info("Polling: every %s, backoff cap %s, attempt ceiling %d",
		cfg.Poller.Interval, cfg.Poller.MaxBackoff, cfg.Poller.MaxAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifactStore, closeStore, err := buildArtifactStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	upstreamClient := upstream.NewHTTPClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.Timeout,
	})

	hub := transport.NewHub(logging.NewComponentLogger("EventHub"))

	service := orchestrator.NewService(
		upstreamClient,
		orchestrator.NewMemoryStore(),
		registry.New(logging.NewComponentLogger("Registry")),
		hub,
		poller.Config{
			Interval:    cfg.Poller.Interval,
			MaxBackoff:  cfg.Poller.MaxBackoff,
			MaxAttempts: cfg.Poller.MaxAttempts,
		},
		logging.NewComponentLogger("Orchestrator"),
		orchestrator.WithArtifactStore(artifactStore),
	)

	srv := deckhttp.NewServer(deckhttp.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Debug:          cfg.Server.Debug,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   0, // streaming endpoints hold the response open
	}, service, hub, artifactStore)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server listening on %s", srv.Addr())
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if stopped := service.CancelAll(shutdownCtx); stopped > 0 {
			logger.Info("Cancelled %d active generations", stopped)
		}
		return srv.Stop(shutdownCtx)
	})

	err = g.Wait()
	hub.Shutdown()
	logger.Info("Server stopped")
	return err
}

// buildArtifactStore selects postgres when a DSN is configured, otherwise the
// in-memory store.
func buildArtifactStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (artifacts.Store, func(), error) {
	if cfg.Storage.PostgresDSN == "" {
		logger.Info("Artifact storage: in-memory")
		return artifacts.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := artifacts.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("Artifact storage: postgres")
	return store, pool.Close, nil
}
