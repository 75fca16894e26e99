// Command server runs the Relay authorization portal.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaybot/relay/internal/application/portal"
	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/handoff"
	"github.com/relaybot/relay/internal/infrastructure/audit"
	"github.com/relaybot/relay/internal/infrastructure/monitoring"
	redisstore "github.com/relaybot/relay/internal/infrastructure/redis"
	"github.com/relaybot/relay/internal/infrastructure/vault"
	httpserver "github.com/relaybot/relay/internal/interfaces/http"
	"github.com/relaybot/relay/internal/interfaces/http/handlers"
	"github.com/relaybot/relay/internal/interfaces/http/portalhtml"
	"github.com/relaybot/relay/pkg/constants"
	"github.com/relaybot/relay/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	ctx := context.Background()

	shutdownTracer, err := monitoring.InitTracer(&cfg.Tracing)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize tracer", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	redisClient, err := redisstore.NewClient(&cfg.Redis)
	if err != nil {
		appLogger.Fatal(ctx, "failed to connect to redis", err)
	}
	defer redisClient.Close()

	vaultClient, err := vault.NewClient(&cfg.Vault)
	if err != nil {
		appLogger.Fatal(ctx, "failed to create vault client", err)
	}
	secrets := vault.NewSecretSource(vaultClient, &cfg.Vault, appLogger)

	// Secrets must be reachable at startup; the portal cannot run without
	// the signing secret and provider credentials.
	bundle, err := secrets.GetSecrets(ctx)
	if err != nil {
		appLogger.Fatal(ctx, "failed to load secrets", err)
	}
	signingSecret := bundle[constants.SecretPortalSigningKey]
	if signingSecret == "" {
		appLogger.Fatal(ctx, "portal signing secret is not configured", nil)
	}
	codec := handoff.NewCodec(signingSecret)

	encrypter := vault.NewTransitEncrypter(vaultClient, &cfg.Vault)
	store := redisstore.NewTokenStore(redisClient)
	metrics := monitoring.NewMetrics()

	var emitter audit.Emitter = audit.NewNoopEmitter()
	if cfg.Audit.Enabled {
		emitter = audit.NewKafkaEmitter(cfg.Audit, appLogger)
	}
	defer emitter.Close()

	service := portal.NewService(cfg, store, encrypter, secrets, codec, emitter, metrics, appLogger, nil)

	renderer := portalhtml.NewRenderer()
	router := httpserver.NewRouter(
		cfg, appLogger, metrics, renderer,
		handlers.NewPortalHandler(service, renderer, appLogger),
		handlers.NewHealthHandler(redisClient),
	)
	router.SetupRoutes()

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			appLogger.Fatal(ctx, "HTTP server failed", err)
		}
	case sig := <-quit:
		appLogger.Info(ctx, "shutdown signal received", logger.Fields{"signal": sig.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := router.Stop(shutdownCtx); err != nil {
			appLogger.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
