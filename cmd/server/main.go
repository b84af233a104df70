package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"question-collab/internal/api"
	"question-collab/internal/auth"
	"question-collab/internal/config"
	"question-collab/internal/db"
	"question-collab/internal/repository"
	"question-collab/internal/services/collaboration"
	"question-collab/internal/telemetry"
)

/*
LEARNING: GRACEFUL SHUTDOWN WITH A WRITE-BEHIND CACHE

Live documents hold edits that are not yet in the database. Shutdown order:
  1. stop accepting HTTP (no new sockets)
  2. close every socket (no new edits)
  3. drain pending flushes, bounded by SHUTDOWN_TIMEOUT
  4. close redis, database, tracing
*/

func main() {
	log.Println("🚀 Starting question collaboration server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger(telemetry.Config{
		ServiceName: "question-collab",
		Version:     "1.0.0",
		Endpoint:    cfg.JaegerEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	questionRepo := repository.NewQuestionRepository(database.DB)
	collabRepo := repository.NewCollaborationRepository(database.DB)

	// Optional cross-process fan-out
	var relay collaboration.Relay
	var relayPinger api.Pinger
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := collaboration.NewRedisClient(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Fatalf("❌ Failed to connect to redis: %v", err)
		}
		redisRelay := collaboration.NewRedisRelay(client)
		defer redisRelay.Close()
		relay, relayPinger = redisRelay, redisRelay
	} else {
		log.Println("  REDIS_ADDR not set, running as a single process")
	}

	registry := collaboration.NewRegistry(questionRepo, collaboration.RegistryConfig{
		FlushDebounce:    cfg.FlushDebounce,
		SaveTimeout:      cfg.SaveTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		EvictionInterval: cfg.EvictionInterval,
	})
	presence := collaboration.NewPresenceManager(collabRepo, collaboration.PresenceConfig{
		Window:        cfg.PresenceWindow,
		TouchInterval: cfg.PresenceTouch,
	})

	sessionManager := collaboration.NewSessionManager(registry, presence, relay)
	sessionManager.Start()

	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	wsHandler := collaboration.NewWebSocketHandler(sessionManager, verifier, cfg.AllowedOrigins, cfg.SendBufferSize)

	handler := api.NewHandler(database, relayPinger, sessionManager, wsHandler)
	router := api.SetupRoutes(handler, cfg.AllowedOrigins)

	// No WriteTimeout: it would also apply to hijacked websocket connections.
	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 Endpoints:")
		log.Printf("   GET    /api/health  - Dependency status")
		log.Printf("   GET    /metrics     - Prometheus metrics")
		log.Printf("   GET    /ws/collab   - Collaboration websocket (token required)")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Learning: This closes every socket and then drains pending saves
	if err := sessionManager.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Some documents were not saved: %v", err)
	}

	log.Println("✓ Server shutdown complete")
}
