package core

import "math"

// settleEpsilon is the relative magnitude below which a remaining amount is
// treated as fully settled.
const settleEpsilon = 1e-9

// ComputeBalances returns each participant's paid amount minus the fair
// share (total / count), in input order. No rounding is applied.
//
// It does not check that contributions add up to total; see CheckTotals.
func ComputeBalances(participants []Participant, total float64) ([]Balance, error) {
	g := Group{Participants: participants, Total: total}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	share := total / float64(len(participants))
	out := make([]Balance, len(participants))
	for i, p := range participants {
		out[i] = Balance{Name: p.Name, Paid: p.Paid, Balance: p.Paid - share}
	}
	return out, nil
}

// CheckTotals returns a *BalanceMismatchError when the contributions differ
// from the declared total by more than tolerance (relative to the larger of
// the two, with a floor of 1). A tolerance of zero requires exact equality.
func CheckTotals(g Group, tolerance float64) error {
	if err := ValidateTolerance(tolerance); err != nil {
		return err
	}
	paid := g.TotalPaid()
	scale := math.Max(1, math.Max(math.Abs(paid), math.Abs(g.Total)))
	if math.Abs(paid-g.Total) > tolerance*scale {
		return &BalanceMismatchError{TotalPaid: paid, Expected: g.Total}
	}
	return nil
}

// ValidateTolerance rejects a NaN, infinite or negative tolerance with an
// *InvalidInputError.
func ValidateTolerance(tolerance float64) error {
	if math.IsNaN(tolerance) || math.IsInf(tolerance, 0) {
		return invalid("tolerance must be a finite number")
	}
	if tolerance < 0 {
		return invalid("tolerance cannot be negative (%v)", tolerance)
	}
	return nil
}

type position struct {
	name      string
	remaining float64
}

// Resolve turns balances into transfers using greedy two-pointer matching
// over debtors and creditors, both kept in input order. The result is
// deterministic for a given input order but not guaranteed to be the
// minimum number of transfers.
//
// Balances that net to zero produce no transfers; an empty, non-nil slice is
// returned when nobody owes anything.
func Resolve(balances []Balance) []Transfer {
	eps := settleEpsilon * magnitude(balances)

	var owes, gets []position
	for _, b := range balances {
		switch {
		case b.Balance < -eps:
			owes = append(owes, position{name: b.Name, remaining: -b.Balance})
		case b.Balance > eps:
			gets = append(gets, position{name: b.Name, remaining: b.Balance})
		}
	}

	transfers := make([]Transfer, 0, max(0, len(owes)+len(gets)-1))
	i, j := 0, 0
	for i < len(owes) && j < len(gets) {
		amount := math.Min(owes[i].remaining, gets[j].remaining)
		transfers = append(transfers, Transfer{From: owes[i].name, To: gets[j].name, Amount: amount})

		owes[i].remaining -= amount
		gets[j].remaining -= amount

		if owes[i].remaining <= eps {
			i++
		}
		if gets[j].remaining <= eps {
			j++
		}
	}
	return transfers
}

// magnitude is the scale used for the settle epsilon: the largest absolute
// balance, never below 1.
func magnitude(balances []Balance) float64 {
	m := 1.0
	for _, b := range balances {
		m = math.Max(m, math.Abs(b.Balance))
	}
	return m
}

// Settle validates the group, computes balances and, when contributions add
// up to the total, resolves the transfers. It uses DefaultTolerance.
func Settle(g Group) (Settlement, error) {
	return SettleWithTolerance(g, DefaultTolerance)
}

// SettleWithTolerance is Settle with an explicit total-match tolerance.
//
// On *BalanceMismatchError the returned Settlement carries the balances for
// diagnostic display but never any transfer. On *InvalidInputError nothing is
// computed.
func SettleWithTolerance(g Group, tolerance float64) (Settlement, error) {
	if err := ValidateTolerance(tolerance); err != nil {
		return Settlement{Group: g}, err
	}
	balances, err := ComputeBalances(g.Participants, g.Total)
	if err != nil {
		return Settlement{Group: g}, err
	}
	s := Settlement{
		Group:    g,
		Share:    g.Total / float64(len(g.Participants)),
		Balances: balances,
	}
	if err := CheckTotals(g, tolerance); err != nil {
		return s, err
	}
	s.Transfers = Resolve(balances)
	return s, nil
}
