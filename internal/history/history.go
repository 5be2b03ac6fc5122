// Package history defines the ports for recording settlement runs.
//
// The settlement engine itself never persists anything; hosts record each
// successful run so it can be reviewed later and exported by the worker.
package history

import (
	"context"
	"errors"
	"time"

	"dividi/internal/core"
)

var ErrNotFound = errors.New("settlement record not found")

// Record is one stored settlement run.
type Record struct {
	ID         int64           `json:"id"`
	Settlement core.Settlement `json:"settlement"`
	CreatedAt  time.Time       `json:"created_at"`
	ExportedAt time.Time       `json:"exported_at,omitzero"`
	ExportRef  string          `json:"export_ref,omitempty"`
}

// Exported reports whether the record was already copied to the spreadsheet.
func (r Record) Exported() bool {
	return !r.ExportedAt.IsZero()
}

// Ports for history adapters.
type (
	Recorder interface {
		// Save stores a resolved settlement and returns the stored record.
		Save(ctx context.Context, s core.Settlement) (Record, error)
	}

	Reader interface {
		Get(ctx context.Context, id int64) (Record, error)
		// ListRecent returns up to limit records, newest first.
		ListRecent(ctx context.Context, limit int) ([]Record, error)
	}

	// ExportQueue is used by the export worker to find records that still
	// need to reach the spreadsheet.
	ExportQueue interface {
		// ListUnexported returns up to limit records, oldest first.
		ListUnexported(ctx context.Context, limit int) ([]Record, error)
		MarkExported(ctx context.Context, id int64, ref string) error
	}

	Store interface {
		Recorder
		Reader
		ExportQueue
		Close() error
	}
)
