package memory

import (
	"context"
	"sync"
	"time"

	"dividi/internal/core"
	"dividi/internal/history"
)

var _ history.Store = (*Store)(nil)

// Store keeps records in process memory. Records are lost on restart.
type Store struct {
	mu    sync.Mutex
	items []history.Record
	now   func() time.Time
}

func New() *Store {
	return &Store{now: time.Now}
}

// Save stores the settlement and assigns the next sequential id.
func (s *Store) Save(_ context.Context, st core.Settlement) (history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := history.Record{
		ID:         int64(len(s.items) + 1),
		Settlement: cloneSettlement(st),
		CreatedAt:  s.now().UTC(),
	}
	s.items = append(s.items, rec)
	return cloneRecord(rec), nil
}

func (s *Store) Get(_ context.Context, id int64) (history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.items)) {
		return history.Record{}, history.ErrNotFound
	}
	return cloneRecord(s.items[id-1]), nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Record, 0, min(limit, len(s.items)))
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRecord(s.items[i]))
	}
	return out, nil
}

func (s *Store) ListUnexported(_ context.Context, limit int) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []history.Record
	for _, rec := range s.items {
		if len(out) >= limit {
			break
		}
		if !rec.Exported() {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *Store) MarkExported(_ context.Context, id int64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > int64(len(s.items)) {
		return history.ErrNotFound
	}
	s.items[id-1].ExportedAt = s.now().UTC()
	s.items[id-1].ExportRef = ref
	return nil
}

func (s *Store) Close() error { return nil }

func cloneRecord(r history.Record) history.Record {
	r.Settlement = cloneSettlement(r.Settlement)
	return r
}

// cloneSettlement copies the slices so callers cannot mutate stored state.
func cloneSettlement(s core.Settlement) core.Settlement {
	s.Group.Participants = append([]core.Participant(nil), s.Group.Participants...)
	s.Balances = append([]core.Balance(nil), s.Balances...)
	s.Transfers = append(make([]core.Transfer, 0, len(s.Transfers)), s.Transfers...)
	return s
}
