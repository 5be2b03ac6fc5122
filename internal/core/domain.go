package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultTolerance is the relative tolerance used when comparing the sum of
// contributions against the declared total.
const DefaultTolerance = 1e-9

type (
	// Participant is one member of the group and what they paid.
	// Names are not required to be unique; entries are identified by position.
	Participant struct {
		Name string  `json:"name"`
		Paid float64 `json:"paid"`
	}

	// Group is the snapshot submitted for a single settlement run.
	Group struct {
		Participants []Participant `json:"participants"`
		Total        float64       `json:"total"`
	}

	// Balance is a participant's net position: positive is owed money,
	// negative owes money.
	Balance struct {
		Name    string  `json:"name"`
		Paid    float64 `json:"paid"`
		Balance float64 `json:"balance"`
	}

	// Transfer instructs From (debtor) to pay Amount to To (creditor).
	Transfer struct {
		From   string  `json:"from"`
		To     string  `json:"to"`
		Amount float64 `json:"amount"`
	}

	// Settlement bundles everything a single run produces.
	Settlement struct {
		Group     Group      `json:"group"`
		Share     float64    `json:"share"`
		Balances  []Balance  `json:"balances"`
		Transfers []Transfer `json:"transfers"`
	}
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrBalanceMismatch = errors.New("contributions do not match total")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// InvalidInputError rejects a request before any computation happens.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// BalanceMismatchError reports that the contributions do not add up to the
// declared total. Settlement must not be attempted.
type BalanceMismatchError struct {
	TotalPaid float64
	Expected  float64
}

func (e *BalanceMismatchError) Error() string {
	return fmt.Sprintf("total contributions (%.2f) do not match the total expense (%.2f)", e.TotalPaid, e.Expected)
}

func (e *BalanceMismatchError) Is(target error) bool {
	return target == ErrBalanceMismatch
}

// Difference is TotalPaid minus Expected.
func (e *BalanceMismatchError) Difference() float64 {
	return e.TotalPaid - e.Expected
}

func invalid(format string, args ...any) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the group preconditions shared by every entry point.
func (g Group) Validate() error {
	if len(g.Participants) == 0 {
		return invalid("at least one participant is required")
	}
	if math.IsNaN(g.Total) || math.IsInf(g.Total, 0) {
		return invalid("total must be a finite number")
	}
	if g.Total < 0 {
		return invalid("total cannot be negative (%v)", g.Total)
	}
	for i, p := range g.Participants {
		if math.IsNaN(p.Paid) || math.IsInf(p.Paid, 0) {
			return invalid("amount paid by participant %d must be a finite number", i+1)
		}
		if p.Paid < 0 {
			return invalid("amount paid by %q cannot be negative (%v)", p.displayName(i), p.Paid)
		}
	}
	return nil
}

// TotalPaid sums every contribution.
func (g Group) TotalPaid() float64 {
	var sum float64
	for _, p := range g.Participants {
		sum += p.Paid
	}
	return sum
}

// WithDefaultNames returns a copy of the group where blank names are
// replaced with "Person N" (1-based position) and repeated names get a
// " (2)", " (3)" suffix, so no two entries share a name.
func (g Group) WithDefaultNames() Group {
	out := Group{Total: g.Total, Participants: make([]Participant, len(g.Participants))}
	taken := make(map[string]bool, len(g.Participants))
	for i, p := range g.Participants {
		name := p.displayName(i)
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s (%d)", p.displayName(i), n)
		}
		taken[name] = true
		out.Participants[i] = Participant{Name: name, Paid: p.Paid}
	}
	return out
}

func (p Participant) displayName(i int) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return fmt.Sprintf("Person %d", i+1)
}

// Settled reports whether no transfer is needed.
func (s Settlement) Settled() bool {
	return len(s.Transfers) == 0
}

// TransferredTotal is the sum of every transfer amount.
func (s Settlement) TransferredTotal() float64 {
	var sum float64
	for _, t := range s.Transfers {
		sum += t.Amount
	}
	return sum
}
