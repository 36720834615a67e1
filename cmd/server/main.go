// Package main is the entrypoint for the Camision API server.
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

	"github.com/elly-james/camision/internal/api"
	"github.com/elly-james/camision/internal/api/handler"
	mw "github.com/elly-james/camision/internal/api/middleware"
	"github.com/elly-james/camision/internal/auth"
	"github.com/elly-james/camision/internal/cache"
	"github.com/elly-james/camision/internal/config"
	"github.com/elly-james/camision/internal/files"
	"github.com/elly-james/camision/internal/payments"
	"github.com/elly-james/camision/internal/store"
	"github.com/elly-james/camision/internal/ws"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

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
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
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

	// 5. Supporting services
	pgStore := store.NewPostgresStore(pool)
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	gateway := payments.NewHTTPGateway(cfg.Payments)
	hub := ws.NewHub()

	blobs, err := files.NewStorage(cfg.Uploads.Dir)
	if err != nil {
		return fmt.Errorf("create upload storage: %w", err)
	}

	// 6. Build router with dependencies
	authMW := mw.NewAuth(tokens)
	rateLimit := mw.NewRateLimit(redisCache, 0)

	deps := api.Dependencies{
		Auth:      authMW,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		RegisterHandler: handler.NewRegisterHandler(pgStore, tokens),
		LoginHandler:    handler.NewLoginHandler(pgStore, tokens),
		RefreshHandler:  handler.NewRefreshHandler(pgStore, tokens),
		MeHandler:       handler.NewMeHandler(pgStore),
		LogoutHandler:   handler.NewLogoutHandler(),

		ListJobsHandler:       handler.NewListJobsHandler(pgStore, redisCache),
		CreateJobHandler:      handler.NewCreateJobHandler(pgStore, redisCache, gateway, blobs, hub),
		GetJobHandler:         handler.NewGetJobHandler(pgStore),
		UpdateJobHandler:      handler.NewUpdateJobHandler(pgStore, redisCache, hub),
		UploadJobFilesHandler: handler.NewUploadJobFilesHandler(pgStore, redisCache, blobs, hub),

		ListJobMessagesHandler:     handler.NewListJobMessagesHandler(pgStore),
		SendJobMessageHandler:      handler.NewSendJobMessageHandler(pgStore, blobs, hub),
		ListGeneralMessagesHandler: handler.NewListGeneralMessagesHandler(pgStore),
		SendGeneralMessageHandler:  handler.NewSendGeneralMessageHandler(pgStore, blobs, hub),
		EditMessageHandler:         handler.NewEditMessageHandler(pgStore, hub),
		DeleteMessageHandler:       handler.NewDeleteMessageHandler(pgStore, hub),

		InitiateUpfrontHandler:    handler.NewInitiateUpfrontHandler(pgStore, gateway),
		InitiateCompletionHandler: handler.NewInitiateCompletionHandler(pgStore, gateway),
		PaymentStatusHandler:      handler.NewPaymentStatusHandler(pgStore, redisCache, gateway, hub),
		PaymentIPNHandler:         handler.NewPaymentIPNHandler(pgStore, redisCache, gateway, hub),

		ListBlogsHandler: handler.NewListBlogsHandler(pgStore),
		GetBlogHandler:   handler.NewGetBlogHandler(pgStore),

		DownloadHandler: handler.NewDownloadHandler(blobs),
		WSHandler:       ws.Handler(hub, tokens),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
