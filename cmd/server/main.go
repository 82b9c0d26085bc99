// Portal state server: per-device session, library, usage and course
// selection state shared across browser tabs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/portal-state/internal/analytics"
	"github.com/ashureev/portal-state/internal/api"
	"github.com/ashureev/portal-state/internal/config"
	"github.com/ashureev/portal-state/internal/events"
	"github.com/ashureev/portal-state/internal/identity"
	"github.com/ashureev/portal-state/internal/janitor"
	"github.com/ashureev/portal-state/internal/keyed"
	"github.com/ashureev/portal-state/internal/middleware"
	"github.com/ashureev/portal-state/internal/portal"
	"github.com/ashureev/portal-state/internal/realtime"
	"github.com/ashureev/portal-state/internal/session"
	"github.com/ashureev/portal-state/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.StorageQuotaBytes)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	bus, busPinger, err := newBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			slog.Error("Failed to close event bus", "error", closeErr)
		}
	}()

	kv := keyed.New(repo, bus, logger)
	writer := session.NewWriter(cfg.SessionSaveDebounce, logger)
	portalClient := portal.NewClient(cfg.PortalAPIURL, cfg.PortalAPITimeout, logger)
	analyticsCache := analytics.New(portalClient, cfg.AnalyticsCacheTTL)
	hub := realtime.NewHub(logger)

	// Initialize handlers.
	handler := api.NewHandler(api.Deps{
		Repo:      repo,
		KV:        kv,
		Writer:    writer,
		Analytics: analyticsCache,
		Portal:    portalClient,
		Hub:       hub,
		Weights:   cfg.Weights(),
	})
	healthHandler := api.NewHealthHandler(repo, busPinger)
	wsHandler := realtime.NewWebSocketHandler(repo, kv, hub, portalClient, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)
	r.Get("/ws/events", wsHandler.ServeHTTP)

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	sweeper := janitor.New(repo, cfg.ProfileTTL, cfg.JanitorInterval,
		store.RetryPolicy{MaxRetries: cfg.DBMaxRetries, BaseDelay: cfg.DBRetryBaseDelay},
		func(profileID string) {
			hub.CloseProfile(profileID)
			if n := writer.CancelProfile(profileID); n > 0 {
				slog.Info("Dropped pending session saves", "profile_id", profileID, "count", n)
			}
		})
	sweeper.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		// Pending debounced saves are written before storage closes.
		if err := writer.Close(shutdownCtx); err != nil {
			slog.Error("Failed to flush pending sessions", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// newBus returns the Redis bus when REDIS_ADDR is set, else the in-process
// bus. The pinger is nil for the in-process bus.
func newBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Bus, api.Pinger, error) {
	if cfg.RedisAddr == "" {
		slog.Info("Event bus: in-process")
		return events.NewLocalBus(), nil, nil
	}
	rb, err := events.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannel, logger)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Event bus: redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	return rb, rb, nil
}
