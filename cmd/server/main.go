package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"

	"watchparty/internal/config"
	"watchparty/internal/hertzapi"
	"watchparty/internal/rooms"
	"watchparty/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	opts, cleanup, err := storeOptions(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer cleanup()

	roomManager := rooms.NewManager(opts...)

	h := server.Default(server.WithHostPorts(cfg.ServerAddr))
	router := hertzapi.NewRouter(h, roomManager)

	go func() {
		log.Printf("Starting Hertz server on %s (store: %s)", cfg.ServerAddr, cfg.StoreBackend)
		router.Spin()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v\n", err)
	}

	log.Println("Server stopped")
}

func storeOptions(ctx context.Context, cfg *config.Config) ([]rooms.Option, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return []rooms.Option{rooms.WithStore(store.NewPostgres(pool))}, pool.Close, nil
	case config.BackendRedis:
		client, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return []rooms.Option{rooms.WithStore(store.NewRedis(client, cfg.StateTTL))}, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
