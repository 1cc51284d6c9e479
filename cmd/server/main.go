package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/procurio/be-purchase-requests/internal/client"
	"github.com/procurio/be-purchase-requests/internal/config"
	"github.com/procurio/be-purchase-requests/internal/database"
	"github.com/procurio/be-purchase-requests/internal/domain"
	"github.com/procurio/be-purchase-requests/internal/handler"
	"github.com/procurio/be-purchase-requests/internal/logger"
	"github.com/procurio/be-purchase-requests/internal/repository"
	"github.com/procurio/be-purchase-requests/internal/service"
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
		ServiceName: cfg.ServiceName,
		Version:     cfg.Version,
	})

	log.Info().
		Str("environment", cfg.Environment).
		Msg("Starting purchase requests service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	tier1, err := cfg.Tier1()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid APPROVAL_TIER1")
	}
	tier2, err := cfg.Tier2()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid APPROVAL_TIER2")
	}
	if !tier1.LessThan(tier2) {
		log.Fatal().Msg("APPROVAL_TIER1 must be less than APPROVAL_TIER2")
	}
	ceiling, err := cfg.Ceiling()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid AMOUNT_CEILING")
	}

	store := repository.NewPostgresStore(db)
	identity := client.NewHTTPIdentityClient(cfg.IdentityURL)
	flow := domain.NewFlowResolver(tier1, tier2)
	requestService := service.NewRequestService(store, identity, flow, domain.ConfigStandard, ceiling, log)

	httpHandler := handler.NewHTTPHandler(requestService, log)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	httpHandler.Register(mux)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
