package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dividi/internal/core"
	"dividi/internal/history"

	_ "modernc.org/sqlite"
)

var _ history.Store = (*SQLiteRepository)(nil)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Save implements history.Recorder. The settlement, its participants and its
// transfers are written in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, s core.Settlement) (history.Record, error) {
	createdAt := r.now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return history.Record{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO settlements (total, share, created_at) VALUES (?, ?, ?)`,
		s.Group.Total, s.Share, createdAt.Format(timeLayout))
	if err != nil {
		return history.Record{}, fmt.Errorf("insert settlement: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return history.Record{}, fmt.Errorf("settlement id: %w", err)
	}

	for i, p := range s.Group.Participants {
		balance := p.Paid - s.Share
		if i < len(s.Balances) {
			balance = s.Balances[i].Balance
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settlement_participants (settlement_id, position, name, paid, balance) VALUES (?, ?, ?, ?, ?)`,
			id, i, p.Name, p.Paid, balance); err != nil {
			return history.Record{}, fmt.Errorf("insert participant %d: %w", i, err)
		}
	}

	for i, t := range s.Transfers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settlement_transfers (settlement_id, position, from_name, to_name, amount) VALUES (?, ?, ?, ?, ?)`,
			id, i, t.From, t.To, t.Amount); err != nil {
			return history.Record{}, fmt.Errorf("insert transfer %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return history.Record{}, fmt.Errorf("commit settlement: %w", err)
	}

	slog.InfoContext(ctx, "Settlement saved to SQLite",
		"id", id,
		"participants", len(s.Group.Participants),
		"transfers", len(s.Transfers))

	return history.Record{ID: id, Settlement: s, CreatedAt: createdAt}, nil
}

// Get implements history.Reader
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (history.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, total, share, created_at, exported_at, export_ref FROM settlements WHERE id = ?`, id)
	rec, err := scanHeader(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Record{}, history.ErrNotFound
	}
	if err != nil {
		return history.Record{}, fmt.Errorf("get settlement %d: %w", id, err)
	}
	if err := r.loadDetails(ctx, &rec); err != nil {
		return history.Record{}, err
	}
	return rec, nil
}

// ListRecent implements history.Reader
func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]history.Record, error) {
	return r.list(ctx,
		`SELECT id, total, share, created_at, exported_at, export_ref FROM settlements ORDER BY id DESC LIMIT ?`, limit)
}

// ListUnexported implements history.ExportQueue
func (r *SQLiteRepository) ListUnexported(ctx context.Context, limit int) ([]history.Record, error) {
	return r.list(ctx,
		`SELECT id, total, share, created_at, exported_at, export_ref FROM settlements WHERE exported_at IS NULL ORDER BY id ASC LIMIT ?`, limit)
}

// MarkExported implements history.ExportQueue
func (r *SQLiteRepository) MarkExported(ctx context.Context, id int64, ref string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlements SET exported_at = ?, export_ref = ? WHERE id = ?`,
		r.now().UTC().Format(timeLayout), ref, id)
	if err != nil {
		return fmt.Errorf("mark settlement exported: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return history.ErrNotFound
	}

	slog.InfoContext(ctx, "Settlement marked as exported", "id", id, "ref", ref)
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, limit int) ([]history.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	var out []history.Record
	for rows.Next() {
		rec, err := scanHeader(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	rows.Close()

	for i := range out {
		if err := r.loadDetails(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHeader(s scanner) (history.Record, error) {
	var (
		rec        history.Record
		createdAt  string
		exportedAt sql.NullString
	)
	if err := s.Scan(&rec.ID, &rec.Settlement.Group.Total, &rec.Settlement.Share, &createdAt, &exportedAt, &rec.ExportRef); err != nil {
		return history.Record{}, err
	}
	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return history.Record{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if exportedAt.Valid {
		if rec.ExportedAt, err = time.Parse(timeLayout, exportedAt.String); err != nil {
			return history.Record{}, fmt.Errorf("parse exported_at %q: %w", exportedAt.String, err)
		}
	}
	return rec, nil
}

func (r *SQLiteRepository) loadDetails(ctx context.Context, rec *history.Record) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, paid, balance FROM settlement_participants WHERE settlement_id = ? ORDER BY position`, rec.ID)
	if err != nil {
		return fmt.Errorf("load participants of %d: %w", rec.ID, err)
	}
	for rows.Next() {
		var b core.Balance
		if err := rows.Scan(&b.Name, &b.Paid, &b.Balance); err != nil {
			rows.Close()
			return fmt.Errorf("scan participant: %w", err)
		}
		rec.Settlement.Group.Participants = append(rec.Settlement.Group.Participants, core.Participant{Name: b.Name, Paid: b.Paid})
		rec.Settlement.Balances = append(rec.Settlement.Balances, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate participants: %w", err)
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx,
		`SELECT from_name, to_name, amount FROM settlement_transfers WHERE settlement_id = ? ORDER BY position`, rec.ID)
	if err != nil {
		return fmt.Errorf("load transfers of %d: %w", rec.ID, err)
	}
	defer rows.Close()
	rec.Settlement.Transfers = []core.Transfer{}
	for rows.Next() {
		var t core.Transfer
		if err := rows.Scan(&t.From, &t.To, &t.Amount); err != nil {
			return fmt.Errorf("scan transfer: %w", err)
		}
		rec.Settlement.Transfers = append(rec.Settlement.Transfers, t)
	}
	return rows.Err()
}
