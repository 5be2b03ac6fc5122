// Package postgres stores settlement records in PostgreSQL through pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dividi/internal/core"
	"dividi/internal/history"
)

var _ history.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates the settlement tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS settlements (
			id BIGSERIAL PRIMARY KEY,
			total DOUBLE PRECISION NOT NULL CHECK (total >= 0),
			share DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			exported_at TIMESTAMPTZ,
			export_ref TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_settlements_unexported ON settlements(exported_at, id);
		CREATE TABLE IF NOT EXISTS settlement_participants (
			settlement_id BIGINT NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
			position INT NOT NULL,
			name TEXT NOT NULL,
			paid DOUBLE PRECISION NOT NULL CHECK (paid >= 0),
			balance DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (settlement_id, position)
		);
		CREATE TABLE IF NOT EXISTS settlement_transfers (
			settlement_id BIGINT NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
			position INT NOT NULL,
			from_name TEXT NOT NULL,
			to_name TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL CHECK (amount > 0),
			PRIMARY KEY (settlement_id, position)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, st core.Settlement) (history.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return history.Record{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec := history.Record{Settlement: st}
	err = tx.QueryRow(ctx,
		`INSERT INTO settlements (total, share) VALUES ($1, $2) RETURNING id, created_at`,
		st.Group.Total, st.Share,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return history.Record{}, fmt.Errorf("insert settlement: %w", err)
	}

	batch := &pgx.Batch{}
	for i, p := range st.Group.Participants {
		balance := p.Paid - st.Share
		if i < len(st.Balances) {
			balance = st.Balances[i].Balance
		}
		batch.Queue(`INSERT INTO settlement_participants (settlement_id, position, name, paid, balance) VALUES ($1, $2, $3, $4, $5)`,
			rec.ID, i, p.Name, p.Paid, balance)
	}
	for i, t := range st.Transfers {
		batch.Queue(`INSERT INTO settlement_transfers (settlement_id, position, from_name, to_name, amount) VALUES ($1, $2, $3, $4, $5)`,
			rec.ID, i, t.From, t.To, t.Amount)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return history.Record{}, fmt.Errorf("insert settlement rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return history.Record{}, fmt.Errorf("commit settlement: %w", err)
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	slog.InfoContext(ctx, "Settlement saved to PostgreSQL", "id", rec.ID, "transfers", len(st.Transfers))
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id int64) (history.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, total, share, created_at, exported_at, export_ref FROM settlements WHERE id = $1`, id)
	rec, err := scanHeader(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return history.Record{}, history.ErrNotFound
		}
		return history.Record{}, fmt.Errorf("get settlement %d: %w", id, err)
	}
	if err := s.loadDetails(ctx, &rec); err != nil {
		return history.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]history.Record, error) {
	return s.list(ctx,
		`SELECT id, total, share, created_at, exported_at, export_ref FROM settlements ORDER BY id DESC LIMIT $1`, limit)
}

func (s *Store) ListUnexported(ctx context.Context, limit int) ([]history.Record, error) {
	return s.list(ctx,
		`SELECT id, total, share, created_at, exported_at, export_ref FROM settlements WHERE exported_at IS NULL ORDER BY id ASC LIMIT $1`, limit)
}

func (s *Store) MarkExported(ctx context.Context, id int64, ref string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE settlements SET exported_at = now(), export_ref = $2 WHERE id = $1`, id, ref)
	if err != nil {
		return fmt.Errorf("mark settlement exported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, limit int) ([]history.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		return scanHeader(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan settlements: %w", err)
	}
	for i := range out {
		if err := s.loadDetails(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanHeader(row pgx.Row) (history.Record, error) {
	var (
		rec        history.Record
		exportedAt *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.Settlement.Group.Total, &rec.Settlement.Share, &rec.CreatedAt, &exportedAt, &rec.ExportRef); err != nil {
		return history.Record{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if exportedAt != nil {
		rec.ExportedAt = exportedAt.UTC()
	}
	return rec, nil
}

func (s *Store) loadDetails(ctx context.Context, rec *history.Record) error {
	rows, err := s.pool.Query(ctx,
		`SELECT name, paid, balance FROM settlement_participants WHERE settlement_id = $1 ORDER BY position`, rec.ID)
	if err != nil {
		return fmt.Errorf("load participants of %d: %w", rec.ID, err)
	}
	balances, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Balance, error) {
		var b core.Balance
		err := row.Scan(&b.Name, &b.Paid, &b.Balance)
		return b, err
	})
	if err != nil {
		return fmt.Errorf("scan participants: %w", err)
	}
	rec.Settlement.Balances = balances
	for _, b := range balances {
		rec.Settlement.Group.Participants = append(rec.Settlement.Group.Participants, core.Participant{Name: b.Name, Paid: b.Paid})
	}

	rows, err = s.pool.Query(ctx,
		`SELECT from_name, to_name, amount FROM settlement_transfers WHERE settlement_id = $1 ORDER BY position`, rec.ID)
	if err != nil {
		return fmt.Errorf("load transfers of %d: %w", rec.ID, err)
	}
	transfers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Transfer, error) {
		var t core.Transfer
		err := row.Scan(&t.From, &t.To, &t.Amount)
		return t, err
	})
	if err != nil {
		return fmt.Errorf("scan transfers: %w", err)
	}
	if transfers == nil {
		transfers = []core.Transfer{}
	}
	rec.Settlement.Transfers = transfers
	return nil
}
