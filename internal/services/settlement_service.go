package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dividi/internal/core"
	"dividi/internal/history"
	"dividi/internal/log"
)

// Publisher announces recorded settlements to the export worker.
type Publisher interface {
	PublishSettlementRecorded(ctx context.Context, id int64, transfers int) error
}

// SettlementService runs the settlement engine, records successful runs and
// announces them for export.
type SettlementService struct {
	recorder  history.Recorder
	publisher Publisher
	tolerance float64
	logger    *log.StructuredLogger
}

// NewSettlementService wires the service. publisher may be nil when AMQP is
// not configured; records are then exported by the worker's catch-up scan.
// A zero tolerance requires contributions to match the total exactly.
func NewSettlementService(recorder history.Recorder, publisher Publisher, tolerance float64) *SettlementService {
	return &SettlementService{
		recorder:  recorder,
		publisher: publisher,
		tolerance: tolerance,
		logger:    log.NewStructuredLogger(log.New(log.Config{Component: log.ComponentSettlement, Handler: slog.Default().Handler()})),
	}
}

// Preview settles the group without recording it.
func (s *SettlementService) Preview(g core.Group) (core.Settlement, error) {
	return core.SettleWithTolerance(g.WithDefaultNames(), s.tolerance)
}

// Settle resolves the group and stores the result. Invalid input and
// mismatched totals are returned unwrapped alongside the partial
// settlement so callers can show the discrepancy; nothing is stored then.
func (s *SettlementService) Settle(ctx context.Context, g core.Group) (history.Record, error) {
	st, err := s.Preview(g)
	if err != nil {
		return history.Record{Settlement: st}, err
	}

	rec, err := s.recorder.Save(ctx, st)
	if err != nil {
		return history.Record{Settlement: st}, fmt.Errorf("save settlement: %w", err)
	}
	s.logger.LogSettlementRecorded(ctx, rec.ID, len(st.Group.Participants), st.Group.Total, len(st.Transfers))

	if err := s.publish(ctx, rec); err != nil {
		// Stored locally; the worker picks it up on its next scan
		s.logger.LogError(ctx, "Failed to publish settlement message", err,
			log.ComponentAMQP, log.OpPublish, log.NewFields().WithRecordID(rec.ID))
	}

	return rec, nil
}

func (s *SettlementService) publish(ctx context.Context, rec history.Record) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not available, skipping settlement message", "id", rec.ID)
		return nil
	}
	return s.publisher.PublishSettlementRecorded(ctx, rec.ID, len(rec.Settlement.Transfers))
}

// IsRejection reports whether err is a rejection of the input rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, core.ErrInvalidInput) || errors.Is(err, core.ErrBalanceMismatch)
}
