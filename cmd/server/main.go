// Copyright 2026 The Gatewarden Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/observability/logger"
	"github.com/gatewarden/gatewarden/internal/observability/metrics"
	"github.com/gatewarden/gatewarden/internal/observability/tracing"
	"github.com/gatewarden/gatewarden/internal/oidcserver"
	"github.com/gatewarden/gatewarden/internal/store/postgres"
	redisstore "github.com/gatewarden/gatewarden/internal/store/redis"
	"github.com/gatewarden/gatewarden/internal/token"
	"github.com/gatewarden/gatewarden/internal/tokencache"
	transportHTTP "github.com/gatewarden/gatewarden/internal/transport/http"
	upstream "github.com/gatewarden/gatewarden/internal/upstream/oidc"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting gatewarden authentication gateway")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}
	authMetrics, err := metrics.NewAuthMetrics(meter)
	if err != nil {
		slog.Error("failed to register metrics", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize Redis
	redisClient, err := redisstore.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("connected to redis")

	clock := clockwork.NewRealClock()
	auditLogger := audit.NewSlogLogger()

	// Initialize stores
	tokenStore := redisstore.NewTokenStore(redisClient, clock)
	codeStore, err := redisstore.NewCodeStore(redisClient, cfg.OIDCServer.SessionSecret)
	if err != nil {
		slog.Error("failed to initialize code store", logger.Error(err))
		os.Exit(1)
	}
	tokenRepo := postgres.NewTokenRepository(db)
	historyRepo := postgres.NewHistoryRepository(db)

	// Initialize services
	tokenService := token.NewService(tokenStore, tokenRepo, historyRepo, auditLogger, clock, cfg.Token.Lifetime)
	tokenCache := tokencache.NewService(tokenStore, tokenRepo, historyRepo, auditLogger, authMetrics, clock, cfg.Token.Lifetime)

	signingKey, err := oidcserver.LoadSigningKey(cfg.OIDCServer.KeyFile, cfg.OIDCServer.KeyID)
	if err != nil {
		slog.Error("failed to load signing key", logger.Error(err))
		os.Exit(1)
	}
	var clients []oidcserver.Client
	for id, secret := range cfg.OIDCServer.Clients {
		clients = append(clients, oidcserver.Client{ID: id, Secret: secret})
	}
	oidcService := oidcserver.NewService(
		oidcserver.Config{
			Issuer:          cfg.OIDCServer.Issuer,
			Audience:        cfg.OIDCServer.Audience,
			UsernameClaim:   cfg.OIDCServer.UsernameClaim,
			UIDClaim:        cfg.OIDCServer.UIDClaim,
			CodeLifetime:    cfg.OIDCServer.CodeLifetime,
			IDTokenLifetime: cfg.OIDCServer.IDTokenLifetime,
			Clients:         clients,
		},
		signingKey,
		codeStore,
		tokenStore,
		auditLogger,
		authMetrics,
		clock,
	)

	provider := upstream.NewProvider(cfg.UpstreamOIDC)

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		provider,
		tokenService,
		tokenCache,
		oidcService,
		tokenStore,
		auditLogger,
		authMetrics,
		clock,
		"gatewarden_session",
		true,
		cfg.Token.DefaultScopes,
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Sweep expired tokens periodically
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			n, err := tokenService.DeleteExpired(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to sweep expired tokens", logger.Error(err))
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "swept expired tokens", slog.Int("count", n))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
