package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/kzoteam/qbo-bridge/internal/api/handlers"
	"github.com/kzoteam/qbo-bridge/internal/api/middleware"
	"github.com/kzoteam/qbo-bridge/internal/config"
	"github.com/kzoteam/qbo-bridge/internal/control"
	"github.com/kzoteam/qbo-bridge/internal/jobs"
	"github.com/kzoteam/qbo-bridge/internal/jobs/inmemory"
	"github.com/kzoteam/qbo-bridge/internal/logger"
	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.WebhookSecret == "" {
		log.Fatal().Msg("WEBHOOK_SECRET is required for the trigger listener")
	}

	ctx := logger.WithContext(context.Background(), log)

	sheetsClient, err := sheets.New(ctx, cfg.GoogleCredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sheets client")
	}

	registry := control.NewRegistry(sheetsClient, cfg.MasterSpreadsheetID, cfg.MasterTab)
	ctrl := control.New(sheetsClient, registry, control.NewLedgerFactory(cfg, registry), control.Options{
		ControlTab:     cfg.ControlTab,
		WriteBatchSize: cfg.WriteBatchSize,
	})

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(cfg.QueueBuffer, cfg.Workers, jobStore)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	sweepHandler := func(ctx context.Context, job *jobs.SweepJob) error {
		rctx := logger.WithContext(ctx, log.With().Str("sweep_job", job.JobID).Logger())
		return ctrl.Sweep(rctx, job.Stage, job.Client)
	}
	if err := queue.Start(workerCtx, sweepHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start sweep workers")
	}
	log.Info().Int("workers", cfg.Workers).Msg("Sweep workers started")

	trigger := handlers.NewTriggerHandler(queue, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	router := mux.NewRouter()
	router.Use(middleware.Recovery(log), middleware.Logger(log), middleware.RequestID)

	router.HandleFunc("/healthz", handlers.HandleHealth).Methods(http.MethodGet)

	authed := router.PathPrefix("/").Subrouter()
	authed.Use(middleware.RelayAuth(cfg.WebhookSecret, log))
	authed.HandleFunc("/webhook", trigger.HandleWebhook).Methods(http.MethodPost)
	authed.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting trigger listener")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shut down")
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping sweep queue")
	}

	log.Info().Msg("Server exited")
}
