package memory

import (
	"context"
	"testing"

	"dividi/internal/core"
	"dividi/internal/history"
)

func TestExporterAppendsRows(t *testing.T) {
	e := New()
	ctx := context.Background()

	ref, err := e.Export(ctx, history.Record{ID: 1, Settlement: core.Settlement{
		Transfers: []core.Transfer{{From: "B", To: "A", Amount: 1}, {From: "C", To: "A", Amount: 2}},
	}})
	if err != nil || ref != "mem:1-2" {
		t.Fatalf("Export() = %q, %v", ref, err)
	}

	ref, err = e.Export(ctx, history.Record{ID: 2, Settlement: core.Settlement{Transfers: []core.Transfer{}}})
	if err != nil || ref != "mem:3-3" {
		t.Fatalf("Export() = %q, %v", ref, err)
	}

	rows := e.Rows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	rows[0][2] = "changed"
	if e.Rows()[0][2] != "B" {
		t.Error("Rows() must return a copy")
	}
}
