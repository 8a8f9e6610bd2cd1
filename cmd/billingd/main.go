package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/cypher-asi/z-billing/internal/app"
	"github.com/cypher-asi/z-billing/internal/config"
	"github.com/cypher-asi/z-billing/internal/httpserver"
	"github.com/cypher-asi/z-billing/internal/redisclient"
	"github.com/cypher-asi/z-billing/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ledgerStore, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer ledgerStore.Close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient = redisclient.New(cfg.Redis)
		if err := redisclient.Ping(ctx, redisClient); err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer redisClient.Close()
	}

	container, err := app.NewContainer(ctx, cfg, ledgerStore, redisClient)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	if container.Observability != nil {
		defer container.Observability.Shutdown(ctx)
	}

	go container.Forwarder.Run(ctx)
	go container.Ledger.RunSubscriptionSweeper(ctx, cfg.Subscriptions.SweepInterval)

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}

	container.Forwarder.Wait()
}
