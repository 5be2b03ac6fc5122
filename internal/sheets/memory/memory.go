// Package memory is an in-process exporter used when no spreadsheet is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"dividi/internal/history"
	"dividi/internal/sheets"
)

var _ sheets.SettlementExporter = (*Exporter)(nil)

type Exporter struct {
	mu   sync.Mutex
	rows [][]any
}

func New() *Exporter {
	return &Exporter{}
}

// Export appends the record rows and returns a synthetic row range.
func (e *Exporter) Export(_ context.Context, rec history.Record) (string, error) {
	rows := sheets.Rows(rec)
	e.mu.Lock()
	defer e.mu.Unlock()
	first := len(e.rows) + 1
	e.rows = append(e.rows, rows...)
	return fmt.Sprintf("mem:%d-%d", first, len(e.rows)), nil
}

// Rows returns a copy of every exported row.
func (e *Exporter) Rows() [][]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]any, len(e.rows))
	for i, r := range e.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}
