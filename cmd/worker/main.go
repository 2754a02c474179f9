package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gatepass/internal/checkin"
	"gatepass/internal/config"
	"gatepass/internal/observability"
	"gatepass/internal/queue"
	"gatepass/internal/store"
)

// Worker consumes admission events and keeps the per-day roster cache in
// redis warm so the API can reject repeat scans before touching Postgres.
func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.Queue.Backend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.Queue.Key)
	}

	roster := checkin.NewRedisRoster(redisClient.Client, "")

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for admission events...")
	for msg := range messages {
		if msg.Type != "admission" {
			continue
		}
		var evt queue.AdmissionEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad admission event: %v", err)
			continue
		}
		if err := roster.Mark(ctx, evt.IdentityID, evt.DayKey); err != nil {
			log.Printf("roster mark failed for identity %d: %v", evt.IdentityID, err)
			continue
		}
		observability.AdmissionsProcessed.Inc()
		log.Printf("identity %d admitted on %s (matched=%v)", evt.IdentityID, evt.DayKey, evt.Matched)
	}

	log.Println("worker stopped")
}
