// The dispatcher is the outbox delivery process: it polls unprocessed
// messages, publishes them to NATS, and runs the idempotency retention sweep.
// It operates across tenants by design and logs that at startup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/procurio/be-purchase-requests/internal/client"
	"github.com/procurio/be-purchase-requests/internal/config"
	"github.com/procurio/be-purchase-requests/internal/database"
	"github.com/procurio/be-purchase-requests/internal/logger"
	"github.com/procurio/be-purchase-requests/internal/repository"
	"github.com/procurio/be-purchase-requests/internal/service"
	"github.com/procurio/be-purchase-requests/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName + "-dispatcher",
		Version:     cfg.Version,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	publisher, err := client.NewNATSPublisher(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer publisher.Close()

	// The system context is the only way to reach the cross-tenant dequeue and
	// sweep paths; these loops are its only consumers.
	sysCtx := tenant.SystemContext()
	store := repository.NewPostgresStore(db)
	dispatcher := service.NewDispatcherService(store.Outbox(), publisher, sysCtx, log)
	sweeper := service.NewRetentionSweeper(store.Idempotency(), cfg.IdempotencyRetention, sysCtx, log)

	log.Info().
		Bool("cross_tenant", sysCtx.CrossTenant()).
		Dur("poll_interval", cfg.DispatcherPollInterval).
		Int("batch_size", cfg.DispatcherBatchSize).
		Dur("idempotency_retention", cfg.IdempotencyRetention).
		Msg("Starting outbox dispatcher")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping dispatcher")
		cancel()
	}()

	go sweeper.Run(ctx, cfg.IdempotencySweepPeriod)
	dispatcher.Run(ctx, cfg.DispatcherPollInterval, cfg.DispatcherBatchSize)
}
