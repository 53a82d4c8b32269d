package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whiteboard-relay/internal/auth"
	"whiteboard-relay/internal/config"
	"whiteboard-relay/internal/database"
	"whiteboard-relay/internal/handlers"
	"whiteboard-relay/internal/services"
	"whiteboard-relay/internal/websocket"
	"whiteboard-relay/pkg/logger"

	"github.com/go-redis/redis/v8"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	// Initialize store
	store, err := openStore(cfg.Store)
	if err != nil {
		logger.Fatal("Failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer store.Close()

	// Initialize identity verification
	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		logger.Fatal("Failed to initialize token verifier: %v", err)
	}
	defer verifier.Close()

	// Initialize relay core
	presence := services.NewPresenceService(store)
	registry := websocket.NewRegistry()
	relay := websocket.NewRelay(store, registry)
	gateway := websocket.NewGateway(presence, registry, relay, websocket.Options{
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		EventsPerSecond: cfg.WebSocket.EventsPerSecond,
		EventBurst:      cfg.WebSocket.EventBurst,
		SendBuffer:      cfg.WebSocket.SendBuffer,
	})

	// Initialize handlers
	roomHandlers := handlers.NewRoomHandlers(presence, verifier, registry)
	wsHandlers := handlers.NewWebSocketHandlers(verifier, gateway)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, roomHandlers, wsHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started on http://localhost%s (store: %s)", cfg.Server.Port, cfg.Store.Driver)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error: %v", err)
	}
	// Hijacked websocket connections are not covered by server.Shutdown
	if err := gateway.Shutdown(ctx); err != nil {
		logger.Error("Gateway shutdown error: %v", err)
	}
}

func openStore(cfg config.StoreConfig) (database.Store, error) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
		logger.Info("Connected to redis at %s", cfg.RedisAddr)
		return database.NewRedisStore(client, cfg.RedisPrefix), nil

	case "memory":
		logger.Warn("Using in-memory store; rooms do not survive a restart")
		return database.NewMemoryStore(), nil

	default:
		db, err := database.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
}

func setupRoutes(mux *http.ServeMux, roomHandlers *handlers.RoomHandlers, wsHandlers *handlers.WebSocketHandlers) {
	mux.HandleFunc("/health", roomHandlers.Health)

	// /rooms/{id} and /rooms/{id}/users
	mux.HandleFunc("/rooms/", roomHandlers.ServeRoom)

	// WebSocket route
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
