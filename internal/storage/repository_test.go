package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"dividi/internal/core"
	"dividi/internal/history"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "dividi.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustSettle(t *testing.T, total float64, ps ...core.Participant) core.Settlement {
	t.Helper()
	s, err := core.Settle(core.Group{Participants: ps, Total: total})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	return s
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	in := mustSettle(t, 300,
		core.Participant{Name: "A", Paid: 300},
		core.Participant{Name: "B", Paid: 0},
		core.Participant{Name: "C", Paid: 0},
	)
	rec, err := repo.Save(ctx, in)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if rec.ID == 0 || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record header: %+v", rec)
	}

	got, err := repo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Settlement.Group.Total != 300 || got.Settlement.Share != 100 {
		t.Errorf("total/share = %v/%v, want 300/100", got.Settlement.Group.Total, got.Settlement.Share)
	}
	if len(got.Settlement.Group.Participants) != 3 || got.Settlement.Group.Participants[1].Name != "B" {
		t.Errorf("participants not restored in order: %+v", got.Settlement.Group.Participants)
	}
	if got.Settlement.Balances[0].Balance != 200 {
		t.Errorf("balance A = %v, want 200", got.Settlement.Balances[0].Balance)
	}
	want := []core.Transfer{{From: "B", To: "A", Amount: 100}, {From: "C", To: "A", Amount: 100}}
	if len(got.Settlement.Transfers) != len(want) {
		t.Fatalf("transfers = %+v, want %+v", got.Settlement.Transfers, want)
	}
	for i := range want {
		if got.Settlement.Transfers[i] != want[i] {
			t.Errorf("transfer[%d] = %+v, want %+v", i, got.Settlement.Transfers[i], want[i])
		}
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	if _, err := repo.Get(ctx, rec.ID+100); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepositorySettledGroupHasNoTransfers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec, err := repo.Save(ctx, mustSettle(t, 100,
		core.Participant{Name: "A", Paid: 50},
		core.Participant{Name: "B", Paid: 50},
	))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := repo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Settlement.Transfers == nil || len(got.Settlement.Transfers) != 0 {
		t.Errorf("expected empty non-nil transfers, got %#v", got.Settlement.Transfers)
	}
	if !got.Settlement.Settled() {
		t.Errorf("expected settled group")
	}
}

func TestSQLiteRepositoryListsAndExport(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []int64
	for _, total := range []float64{10, 20, 30} {
		rec, err := repo.Save(ctx, mustSettle(t, total,
			core.Participant{Name: "A", Paid: total},
			core.Participant{Name: "B", Paid: 0},
		))
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		ids = append(ids, rec.ID)
	}

	recent, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recent) != 2 || recent[0].ID != ids[2] || recent[1].ID != ids[1] {
		t.Fatalf("ListRecent() = %+v, want newest first", recent)
	}
	if len(recent[0].Settlement.Transfers) != 1 {
		t.Errorf("ListRecent() should load transfers, got %+v", recent[0].Settlement.Transfers)
	}

	if err := repo.MarkExported(ctx, ids[0], "Settlements!A2:E2"); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	if err := repo.MarkExported(ctx, 9999, "x"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("MarkExported(missing) = %v, want ErrNotFound", err)
	}

	pending, err := repo.ListUnexported(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnexported() error = %v", err)
	}
	if len(pending) != 2 || pending[0].ID != ids[1] || pending[1].ID != ids[2] {
		t.Fatalf("ListUnexported() = %+v, want oldest unexported first", pending)
	}

	exported, err := repo.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !exported.Exported() || exported.ExportRef != "Settlements!A2:E2" {
		t.Errorf("unexpected export state: %+v", exported)
	}

	if none, err := repo.ListRecent(ctx, 0); err != nil || len(none) != 0 {
		t.Errorf("ListRecent(0) = %v, %v", none, err)
	}
}
