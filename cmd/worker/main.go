package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"industrialvisit/internal/attendance"
	"industrialvisit/internal/audit"
	"industrialvisit/internal/config"
	"industrialvisit/internal/queue"
	"industrialvisit/internal/store"
)

// Worker consumes visit events from Redis and appends them to the audit log.
func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()

	if err := config.LoadFile(*envFile); err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg := config.Load()
	if cfg.QueueBackend == "memory" {
		log.Fatalf("QUEUE_BACKEND=memory is consumed inside the api process; the worker needs redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable yet, will keep polling", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	proc := audit.NewProcessor(attendance.NewRepository(db.Client))
	log.Println("worker started, waiting for messages...")
	n := proc.Run(ctx, messages)
	log.Printf("worker stopped after %d events", n)
}
