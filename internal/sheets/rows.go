package sheets

import (
	"dividi/internal/core"
	"dividi/internal/history"
)

// Header is the column layout of the export sheet.
var Header = []any{"Record", "Date", "From", "To", "Amount"}

const dateLayout = "2006-01-02"

// Rows converts a record into sheet rows, one per transfer. A settled group
// still produces a single row with no debtor or creditor and a zero amount,
// so every run is visible in the sheet.
func Rows(rec history.Record) [][]any {
	date := rec.CreatedAt.Format(dateLayout)
	if len(rec.Settlement.Transfers) == 0 {
		return [][]any{{rec.ID, date, "", "", core.FormatAmount(0)}}
	}
	rows := make([][]any, 0, len(rec.Settlement.Transfers))
	for _, t := range rec.Settlement.Transfers {
		rows = append(rows, []any{rec.ID, date, t.From, t.To, core.FormatAmount(t.Amount)})
	}
	return rows
}
