package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/tablestage/internal/api"
	"github.com/ashureev/tablestage/internal/archive"
	"github.com/ashureev/tablestage/internal/config"
	"github.com/ashureev/tablestage/internal/engine"
	"github.com/ashureev/tablestage/internal/events"
	"github.com/ashureev/tablestage/internal/generator"
	"github.com/ashureev/tablestage/internal/identity"
	"github.com/ashureev/tablestage/internal/middleware"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/realtime"
	"github.com/ashureev/tablestage/internal/session"
	"github.com/ashureev/tablestage/internal/staging"
	"github.com/ashureev/tablestage/internal/store"
	"github.com/ashureev/tablestage/internal/telemetry"
	"github.com/ashureev/tablestage/internal/world"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", Version)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	// Persistence.
	sqlite, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := sqlite.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := sqlite.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "db_path", cfg.DBPath)

	var repo store.Repository = sqlite
	if cfg.Minio.Endpoint != "" {
		objects, err := archive.NewMinioStore(ctx, archive.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Secure:    cfg.Minio.Secure,
		})
		if err != nil {
			return fmt.Errorf("initialize staging archive: %w", err)
		}
		repo = archive.Wrap(sqlite, objects, logger)
		logger.Info("Staging archive enabled", "bucket", cfg.Minio.Bucket)
	}

	worldRepo, err := openWorld(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := worldRepo.Close(context.Background()); closeErr != nil {
			logger.Warn("Failed to close world repository", "error", closeErr)
		}
	}()

	var (
		remote    generator.Remote
		genHealth api.HealthChecker
	)
	if cfg.Generator.Addr != "" {
		gcfg := generator.DefaultClientConfig(cfg.Generator.Addr)
		gcfg.RequestTimeout = cfg.Generator.Timeout
		client, err := generator.NewClient(gcfg, logger)
		if err != nil {
			logger.Warn("Generator unavailable, proposals will be rule-based only", "address", cfg.Generator.Addr, "error", err)
		} else {
			defer client.Close()
			remote = client
			genHealth = client
			logger.Info("Generator connected", "address", cfg.Generator.Addr)
		}
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("Event stream enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Warn("Failed to close event publisher", "error", closeErr)
		}
	}()

	decoder, err := protocol.NewDecoder()
	if err != nil {
		return fmt.Errorf("load message schemas: %w", err)
	}

	// Core.
	reg := session.NewRegistry(logger)
	router := session.NewRouter(reg, logger)
	workflow := staging.New(staging.Deps{
		World:     worldRepo,
		Generator: generator.New(worldRepo, remote),
		Rules:     generator.NewRuleBased(worldRepo),
		Store:     repo,
		Router:    router,
		Events:    publisher,
		Logger:    logger,
	}, staging.Config{
		ApprovalTimeout:  cfg.Staging.ApprovalTimeout,
		DefaultTTLHours:  cfg.Staging.DefaultTTLHours,
		GeneratorTimeout: cfg.Generator.Timeout,
	})
	eng := engine.New(engine.Deps{
		Registry: reg,
		Router:   router,
		World:    worldRepo,
		Staging:  workflow,
		Actions:  repo,
		Events:   publisher,
		Logger:   logger,
		Workers:  cfg.Queue.Workers,
	})

	conns := realtime.NewConns()
	wsHandler := realtime.NewHandler(eng, decoder, conns, realtime.Config{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		OutboxSize:    cfg.Queue.OutboxSize,
	}, logger)
	apiHandler := api.NewHandler(api.Deps{
		DB:        sqlite,
		Sessions:  reg,
		Queues:    eng,
		History:   repo,
		Generator: genHealth,
		Logger:    logger,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws", wsHandler.ServeHTTP)

	// WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     otelhttp.NewHandler(r, "tablestage"),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return workflow.RunSweeper(gctx, reg, cfg.Staging.SweepInterval) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		conns.CloseAll("server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	workflow.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped successfully")
	return nil
}

func openWorld(ctx context.Context, cfg *config.Config, logger *slog.Logger) (world.Repository, error) {
	if cfg.Neo4j.URI != "" {
		repo, err := world.NewNeo4jRepository(ctx, world.Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			User:     cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect world graph: %w", err)
		}
		logger.Info("World graph connected", "uri", cfg.Neo4j.URI)
		return repo, nil
	}

	catalog, err := world.LoadCatalog(cfg.WorldFile)
	if err != nil {
		return nil, fmt.Errorf("load world catalog: %w", err)
	}
	logger.Info("World catalog loaded", "path", cfg.WorldFile)
	return catalog, nil
}
