package sheets

import (
	"context"

	"dividi/internal/history"
)

// Ports for outbound adapters.
type (
	// SettlementExporter copies a recorded settlement to an external sheet
	// and returns a reference to the written range.
	SettlementExporter interface {
		Export(ctx context.Context, rec history.Record) (ref string, err error)
	}
)
