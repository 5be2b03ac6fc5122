package main

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"dividi/internal/backend"
	"dividi/internal/cli"
	"dividi/internal/config"
	"dividi/internal/log"
	"dividi/internal/sheets"
	gsheet "dividi/internal/sheets/google"
	memsheet "dividi/internal/sheets/memory"
	"dividi/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting dividi-worker")

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	if backendCfg.Type == backend.MemoryBackend {
		logger.Warn("Memory backend is not shared with the server process; the worker will only see its own records")
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := backend.NewFactory(logger.Logger).CreateBackend(initCtx, backendCfg)
	if err != nil {
		initCancel()
		cli.Fatal(logger, "Failed to create backend", err)
	}

	exporter, err := newExporter(initCtx, cfg, logger)
	initCancel()
	if err != nil {
		_ = result.Cleanup()
		cli.Fatal(logger, "Failed to initialize exporter", err)
	}

	exportWorker := worker.NewExportWorker(result.Store, exporter, cfg.ExportBatchSize)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)

	// Periodic scan, starting with a catch-up of anything missed while down
	g.Go(func() error {
		return exportWorker.Run(gctx, cfg.ExportInterval)
	})

	if result.AMQP != nil {
		g.Go(func() error {
			return result.AMQP.ConsumeSettlementRecorded(gctx, exportWorker.HandleRecordedMessage)
		})
	} else {
		logger.Info("AMQP not configured, relying on periodic export scan", "interval", cfg.ExportInterval)
	}

	runErr := g.Wait()
	if err := result.Cleanup(); err != nil {
		logger.Error("Backend cleanup error", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		cli.Fatal(logger, "Worker stopped with error", runErr)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

// newExporter returns the Google Sheets exporter when a spreadsheet is
// configured and an in-memory one otherwise.
func newExporter(ctx context.Context, cfg *config.Config, logger *log.Logger) (sheets.SettlementExporter, error) {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Warn("GOOGLE_SPREADSHEET_ID not set, exported rows are kept in memory only")
		return memsheet.New(), nil
	}

	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	return client, nil
}
