package http

import (
	"time"

	"dividi/internal/core"
	"dividi/internal/history"
)

// Template view models. Amounts are preformatted with two decimals; the
// engine values stay unrounded.
type (
	settlementView struct {
		ID        int64
		CreatedAt string
		Exported  bool
		Total     string
		TotalPaid string
		Share     string
		Balances  []balanceRow
		Transfers []transferRow
		Settled   bool
		Mismatch  *mismatchView
		Error     string
	}

	balanceRow struct {
		Name     string
		Paid     string
		Balance  string
		Creditor bool
		Debtor   bool
	}

	transferRow struct {
		From   string
		To     string
		Amount string
	}

	mismatchView struct {
		TotalPaid  string
		Expected   string
		Difference string
	}

	historyRow struct {
		ID           int64
		CreatedAt    string
		Participants int
		Total        string
		Transfers    int
		Exported     bool
	}
)

const displayTime = "2006-01-02 15:04"

func newSettlementView(st core.Settlement) settlementView {
	v := settlementView{
		Total:     core.FormatAmount(st.Group.Total),
		TotalPaid: core.FormatAmount(st.Group.TotalPaid()),
		Share:     core.FormatAmount(st.Share),
		Settled:   st.Settled(),
		Balances:  make([]balanceRow, 0, len(st.Balances)),
		Transfers: make([]transferRow, 0, len(st.Transfers)),
	}
	for _, b := range st.Balances {
		shown := core.FormatAmount(b.Balance)
		v.Balances = append(v.Balances, balanceRow{
			Name:     b.Name,
			Paid:     core.FormatAmount(b.Paid),
			Balance:  shown,
			Creditor: b.Balance > 0 && shown != "0.00",
			Debtor:   b.Balance < 0 && shown != "0.00",
		})
	}
	for _, t := range st.Transfers {
		v.Transfers = append(v.Transfers, transferRow{From: t.From, To: t.To, Amount: core.FormatAmount(t.Amount)})
	}
	return v
}

func newRecordView(rec history.Record) settlementView {
	v := newSettlementView(rec.Settlement)
	v.ID = rec.ID
	v.CreatedAt = formatTime(rec.CreatedAt)
	v.Exported = rec.Exported()
	return v
}

func newMismatchView(st core.Settlement, mm *core.BalanceMismatchError) settlementView {
	v := newSettlementView(st)
	v.Settled = false
	v.Mismatch = &mismatchView{
		TotalPaid:  core.FormatAmount(mm.TotalPaid),
		Expected:   core.FormatAmount(mm.Expected),
		Difference: core.FormatAmount(mm.Difference()),
	}
	return v
}

func newHistoryRows(recs []history.Record) []historyRow {
	rows := make([]historyRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, historyRow{
			ID:           rec.ID,
			CreatedAt:    formatTime(rec.CreatedAt),
			Participants: len(rec.Settlement.Group.Participants),
			Total:        core.FormatAmount(rec.Settlement.Group.Total),
			Transfers:    len(rec.Settlement.Transfers),
			Exported:     rec.Exported(),
		})
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(displayTime)
}
