package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dividi/internal/amqp"
	"dividi/internal/history"
	"dividi/internal/sheets"
)

// ExportWorker copies recorded settlements to the spreadsheet.
type ExportWorker struct {
	store     ExportStore
	exporter  sheets.SettlementExporter
	batchSize int
}

// ExportStore is the slice of the history store the worker needs.
type ExportStore interface {
	Get(ctx context.Context, id int64) (history.Record, error)
	history.ExportQueue
}

func NewExportWorker(store ExportStore, exporter sheets.SettlementExporter, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		store:     store,
		exporter:  exporter,
		batchSize: batchSize,
	}
}

// HandleRecordedMessage processes one settlement.recorded message. Records
// that are already exported or no longer exist are acknowledged as done.
func (w *ExportWorker) HandleRecordedMessage(ctx context.Context, msg *amqp.SettlementRecordedMessage) error {
	slog.InfoContext(ctx, "Processing settlement message",
		"id", msg.ID,
		"transfers", msg.Transfers)

	rec, err := w.store.Get(ctx, msg.ID)
	if errors.Is(err, history.ErrNotFound) {
		slog.WarnContext(ctx, "Settlement record not found, dropping message", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get settlement from storage: %w", err)
	}

	if rec.Exported() {
		slog.DebugContext(ctx, "Settlement already exported", "id", rec.ID, "ref", rec.ExportRef)
		return nil
	}

	return w.export(ctx, rec)
}

// ProcessPending exports records that were never exported, oldest first.
// It covers messages that were lost or never published.
func (w *ExportWorker) ProcessPending(ctx context.Context) (int, error) {
	pending, err := w.store.ListUnexported(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending settlements: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending settlements", "count", len(pending))

	exported := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return exported, err
		}
		if err := w.export(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "Failed to export settlement", "id", rec.ID, "error", err)
			continue
		}
		exported++
	}
	return exported, nil
}

// Run calls ProcessPending immediately and then on every tick until ctx is
// cancelled.
func (w *ExportWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "Pending export scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ExportWorker) export(ctx context.Context, rec history.Record) error {
	ref, err := w.exporter.Export(ctx, rec)
	if err != nil {
		return fmt.Errorf("export settlement %d: %w", rec.ID, err)
	}

	if err := w.store.MarkExported(ctx, rec.ID, ref); err != nil {
		// The rows are already written. The record stays pending and the next
		// scan may append it a second time.
		slog.ErrorContext(ctx, "Failed to mark settlement as exported", "id", rec.ID, "ref", ref, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "Exported settlement",
		"id", rec.ID,
		"ref", ref,
		"transfers", len(rec.Settlement.Transfers))
	return nil
}
