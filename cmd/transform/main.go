package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/kzoteam/qbo-bridge/internal/config"
	"github.com/kzoteam/qbo-bridge/internal/control"
	"github.com/kzoteam/qbo-bridge/internal/logger"
	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

func main() {
	log := logger.New()

	client := flag.String("client", "", "limit the sweep to one client name")
	timeout := flag.Duration("timeout", 20*time.Minute, "overall run deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	sheetsClient, err := sheets.New(ctx, cfg.GoogleCredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sheets client")
	}

	registry := control.NewRegistry(sheetsClient, cfg.MasterSpreadsheetID, cfg.MasterTab)
	ctrl := control.New(sheetsClient, registry, control.NewLedgerFactory(cfg, registry), control.Options{
		ControlTab:     cfg.ControlTab,
		WriteBatchSize: cfg.WriteBatchSize,
	})

	log.Info().Str("client", *client).Msg("Sweeping transform triggers")
	if err := ctrl.Sweep(ctx, control.StageTransform, *client); err != nil {
		log.Fatal().Err(err).Msg("Transform sweep failed")
	}

	fmt.Println("Transform sweep completed.")
}
