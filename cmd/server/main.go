// Package main is the entrypoint for the genrelay API server.
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

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genrelay/internal/api"
	"github.com/kiranshivaraju/genrelay/internal/api/handler"
	mw "github.com/kiranshivaraju/genrelay/internal/api/middleware"
	"github.com/kiranshivaraju/genrelay/internal/archive"
	"github.com/kiranshivaraju/genrelay/internal/artifact"
	"github.com/kiranshivaraju/genrelay/internal/binding"
	"github.com/kiranshivaraju/genrelay/internal/cache"
	"github.com/kiranshivaraju/genrelay/internal/comfy"
	"github.com/kiranshivaraju/genrelay/internal/completion"
	"github.com/kiranshivaraju/genrelay/internal/config"
	"github.com/kiranshivaraju/genrelay/internal/convcache"
	"github.com/kiranshivaraju/genrelay/internal/convert"
	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/internal/orchestrator"
	"github.com/kiranshivaraju/genrelay/internal/status"
	"github.com/kiranshivaraju/genrelay/internal/store"
	"github.com/kiranshivaraju/genrelay/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"converter", cfg.Converter.Mode,
		"completion", cfg.Completion.Mode,
		"archive", cfg.Archive.Enabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and seed the bootstrap key
	pgStore := store.NewPostgresStore(pool)
	if err := ensureBootstrapKey(ctx, pgStore, cfg.Auth.BootstrapKey); err != nil {
		return fmt.Errorf("bootstrap api key: %w", err)
	}

	// 6. Compute service, converter and parameter bindings
	client := comfy.NewHTTPClient(cfg.Compute.BaseURL, "genrelay-"+uuid.NewString(), cfg.Compute.HTTPTimeout)
	if err := client.Ready(ctx); err != nil {
		slog.Warn("compute service not reachable yet", "base_url", cfg.Compute.BaseURL, "error", err)
	}

	converter, err := convert.NewConverter(cfg.Converter, cfg.Paths.TempRoot)
	if err != nil {
		return fmt.Errorf("create converter: %w", err)
	}
	slog.Info("converter initialized", "converter", converter.Name())

	widgets := binding.DefaultWidgetMap()
	if cfg.Artifacts.WidgetMapPath != "" {
		if widgets, err = binding.LoadWidgetMap(cfg.Artifacts.WidgetMapPath); err != nil {
			return fmt.Errorf("load widget map: %w", err)
		}
	}

	// 7. Optional artifact archive
	var archiver archive.Archiver
	if cfg.Archive.Enabled() {
		a, err := archive.NewMinIOArchiver(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("create archiver: %w", err)
		}
		archiver = a
		slog.Info("artifact archive enabled", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
	}

	var channel completion.Channel
	switch cfg.Completion.Mode {
	case "channel":
		channel = completion.NewMemChannel()
	default:
		channel = completion.NewMarkerChannel(cfg.Paths.TempRoot, cfg.Completion.WatcherAttempts, cfg.Completion.WatcherInterval)
	}

	// 8. Privileged document thread and orchestrator
	dispatcher := host.NewDispatcher()
	dispCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go dispatcher.Run(dispCtx)

	collector := artifact.NewCollector(cfg.Artifacts.IgnorePrefixes)
	orch := orchestrator.New(orchestrator.Deps{
		Doc:          pgStore,
		Dispatcher:   dispatcher,
		Client:       client,
		Converter:    converter,
		ConvCache:    convcache.NewManager(redisCache, cfg.Paths.TempRoot),
		Resolver:     binding.NewResolver(widgets),
		Collector:    collector,
		Recoverer:    artifact.NewRecoverer(client, collector, cfg.Artifacts.HistoryLookback, cfg.Artifacts.RecoveryPrefix),
		Materializer: artifact.NewMaterializer(client),
		Status:       status.NewStore(pgStore, redisCache),
		Completion:   channel,
		Cache:        redisCache,
		Archiver:     archiver,
	}, orchestrator.OptionsFromConfig(cfg))

	// 9. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Auth.RequestsPerMin),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Check{
			"database": pgStore.Ping,
			"cache":    redisCache.Ping,
			"compute":  client.Ready,
		}),
		CreateJob:  handler.NewCreateJobHandler(orch),
		ListJobs:   handler.NewListJobsHandler(orch),
		GetJob:     handler.NewGetJobHandler(orch),
		SetValues:  handler.NewSetValuesHandler(orch),
		TriggerRun: handler.NewTriggerRunHandler(orch),
		GetStatus:  handler.NewStatusHandler(orch),
		ListRuns:   handler.NewListRunsHandler(orch),
		ClearCache: handler.NewClearCacheHandler(orch),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Live runs keep posting status until they finish; stop the document
	// thread only after they have, or when the shutdown budget runs out.
	if !waitRuns(shutdownCtx, orch) {
		slog.Warn("shutdown budget exhausted with runs still active")
	}
	cancelDispatcher()
	<-dispatcher.Stopped()

	slog.Info("server stopped gracefully")
	return nil
}

func waitRuns(ctx context.Context, orch *orchestrator.Orchestrator) bool {
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// bootstrapStore is the part of the store ensureBootstrapKey needs.
type bootstrapStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// ensureBootstrapKey stores raw as an admin key unless it already exists.
func ensureBootstrapKey(ctx context.Context, s bootstrapStore, raw string) error {
	if raw == "" {
		return nil
	}
	key, err := handler.KeyFromSecret("bootstrap", raw, []string{models.ScopeRuns, models.ScopeAdmin})
	if err != nil {
		return err
	}
	existing, err := s.GetAPIKeyByPrefix(ctx, key.KeyPrefix)
	if err != nil {
		return err
	}
	for _, k := range existing {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
			return nil
		}
	}
	if err := s.CreateAPIKey(ctx, key); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		return err
	}
	slog.Info("bootstrap api key created", "key_id", key.ID, "key_prefix", key.KeyPrefix)
	return nil
}
