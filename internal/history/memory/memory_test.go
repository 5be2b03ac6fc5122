package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dividi/internal/core"
	"dividi/internal/history"
)

func settled(t *testing.T, total float64, ps ...core.Participant) core.Settlement {
	t.Helper()
	s, err := core.Settle(core.Group{Participants: ps, Total: total})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	return s
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec, err := s.Save(ctx, settled(t, 150,
		core.Participant{Name: "A", Paid: 100},
		core.Participant{Name: "B", Paid: 50},
		core.Participant{Name: "C", Paid: 0},
	))
	if err != nil || rec.ID != 1 {
		t.Fatalf("unexpected save: rec=%+v err=%v", rec, err)
	}
	if rec.CreatedAt.IsZero() || rec.Exported() {
		t.Fatalf("unexpected timestamps: %+v", rec)
	}

	got, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Settlement.Transfers) != 1 || got.Settlement.Transfers[0].From != "C" {
		t.Fatalf("unexpected transfers: %+v", got.Settlement.Transfers)
	}

	// Mutating the returned copy must not leak into the store.
	got.Settlement.Transfers[0].Amount = 999
	again, _ := s.Get(ctx, 1)
	if again.Settlement.Transfers[0].Amount != 50 {
		t.Fatalf("store mutated through returned record")
	}

	if _, err := s.Get(ctx, 42); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListRecentNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Save(ctx, settled(t, 0, core.Participant{Name: "A"})); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	recs, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recs) != 2 || recs[0].ID != 3 || recs[1].ID != 2 {
		t.Fatalf("unexpected order: %+v", recs)
	}
}

func TestMemoryStoreExportQueue(t *testing.T) {
	s := New()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Save(ctx, settled(t, 0, core.Participant{Name: "A"})); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.MarkExported(ctx, 1, "Settlements!A2:F2"); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}

	pending, err := s.ListUnexported(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnexported() error = %v", err)
	}
	if len(pending) != 2 || pending[0].ID != 2 || pending[1].ID != 3 {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	rec, _ := s.Get(ctx, 1)
	if !rec.ExportedAt.Equal(fixed) || rec.ExportRef != "Settlements!A2:F2" {
		t.Fatalf("unexpected export state: %+v", rec)
	}

	if err := s.MarkExported(ctx, 9, "x"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
