package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/converse/chat-app/internal/auth"
	"github.com/converse/chat-app/internal/chat"
	"github.com/converse/chat-app/internal/config"
	"github.com/converse/chat-app/internal/messaging"
	"github.com/converse/chat-app/internal/metrics"
	"github.com/converse/chat-app/internal/presence"
	"github.com/converse/chat-app/internal/profile"
	"github.com/converse/chat-app/internal/ratelimit"
	"github.com/converse/chat-app/internal/rooms"
	"github.com/converse/chat-app/internal/storage"
	"github.com/converse/chat-app/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis (rate limiting + profile cache) ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// --- Postgres ---
	store, err := storage.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}

	log.Printf("Converse chat server starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections:  %d", serverConfig.MaxConnections)
	log.Printf("  read_timeout:    %s", serverConfig.ReadTimeout)
	log.Printf("  write_timeout:   %s", serverConfig.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  profile_service: %s", cfg.ProfileServiceURL)

	pres := presence.NewRegistry()
	tracker := rooms.NewTracker()
	verifier := auth.NewVerifier(cfg.JWTSecret)
	profiles := profile.NewClient(cfg.ProfileServiceURL, redisClient)
	limiter := ratelimit.NewLimiter(redisClient)

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	hub := ws.NewHub(server, pres, tracker, natsClient)
	if err := hub.StartBridge(); err != nil {
		log.Fatalf("failed to start event bridge: %v", err)
	}

	engine := chat.NewEngine(store, hub, pres, tracker, profiles)

	registerHandlers(dispatcher, engine, verifier, pres, limiter)

	// Per-IP connection throttling ahead of the upgrade.
	server.SetConnectGate(func(remoteIP string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, remoteIP, ratelimit.RuleConnect)
		return allowed
	})

	// Clear presence and room state when a connection drops; the user shows
	// as offline until the client reconnects and re-authenticates.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		if conn.UserID != "" {
			pres.Unregister(conn.UserID, conn.ID)
		}
		tracker.DropConnection(conn.ID)
		metrics.OnlineUsers.Set(float64(pres.Count()))
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := store.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
