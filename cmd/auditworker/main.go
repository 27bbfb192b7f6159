package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"namedir/internal/audit"
	"namedir/internal/platform/config"
	"namedir/internal/platform/logger"
)

// main runs the audit trail consumer: it reads directory and recovery
// lifecycle events from Kafka and fans them out to the security and ops
// channels.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if len(cfg.KafkaBrokers) == 0 {
		log.Error("NAMEDIR_KAFKA_BROKERS is required for the audit worker")
		os.Exit(1)
	}

	router := audit.NewDefaultRouter(log)
	consumer, err := audit.NewConsumer(cfg.KafkaBrokers, cfg.AuditTopic, "namedir-auditworker", router, log)
	if err != nil {
		log.Error("consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("audit worker started", "topic", cfg.AuditTopic)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("audit worker stopped")
}
