package core

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
)

const testTolerance = 1e-9

func people(pairs ...any) []Participant {
	out := make([]Participant, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Participant{Name: pairs[i].(string), Paid: toFloat(pairs[i+1])})
	}
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	panic("unsupported amount type")
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= testTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestSettleScenarios(t *testing.T) {
	tests := []struct {
		name      string
		group     Group
		share     float64
		balances  []float64
		transfers []Transfer
	}{
		{
			name:      "one creditor one debtor one settled",
			group:     Group{Participants: people("A", 100, "B", 50, "C", 0), Total: 150},
			share:     50,
			balances:  []float64{50, 0, -50},
			transfers: []Transfer{{From: "C", To: "A", Amount: 50}},
		},
		{
			name:     "single payer",
			group:    Group{Participants: people("A", 300, "B", 0, "C", 0), Total: 300},
			share:    100,
			balances: []float64{200, -100, -100},
			transfers: []Transfer{
				{From: "B", To: "A", Amount: 100},
				{From: "C", To: "A", Amount: 100},
			},
		},
		{
			name:      "single participant nothing spent",
			group:     Group{Participants: people("A", 0), Total: 0},
			share:     0,
			balances:  []float64{0},
			transfers: []Transfer{},
		},
		{
			name:      "everyone paid the same",
			group:     Group{Participants: people("A", 20, "B", 20), Total: 40},
			share:     20,
			balances:  []float64{0, 0},
			transfers: []Transfer{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := SettleWithTolerance(tt.group, testTolerance)
			if err != nil {
				t.Fatalf("Settle() error = %v", err)
			}
			if !almostEqual(s.Share, tt.share) {
				t.Errorf("Share = %v, want %v", s.Share, tt.share)
			}
			if len(s.Balances) != len(tt.balances) {
				t.Fatalf("got %d balances, want %d", len(s.Balances), len(tt.balances))
			}
			for i, want := range tt.balances {
				if !almostEqual(s.Balances[i].Balance, want) {
					t.Errorf("balance[%d] = %v, want %v", i, s.Balances[i].Balance, want)
				}
			}
			if !reflect.DeepEqual(s.Transfers, tt.transfers) {
				t.Errorf("Transfers = %+v, want %+v", s.Transfers, tt.transfers)
			}
		})
	}
}

func TestSettleMismatch(t *testing.T) {
	g := Group{Participants: people("A", 100, "B", 100), Total: 150}
	s, err := Settle(g)
	if !errors.Is(err, ErrBalanceMismatch) {
		t.Fatalf("expected ErrBalanceMismatch, got %v", err)
	}
	var mismatch *BalanceMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *BalanceMismatchError, got %T", err)
	}
	if mismatch.TotalPaid != 200 || mismatch.Expected != 150 {
		t.Errorf("mismatch = %+v, want paid 200 expected 150", mismatch)
	}
	if mismatch.Difference() != 50 {
		t.Errorf("Difference() = %v, want 50", mismatch.Difference())
	}
	if len(s.Transfers) != 0 {
		t.Errorf("no transfer may be produced on mismatch, got %+v", s.Transfers)
	}
	// Balances stay available for diagnostics.
	if len(s.Balances) != 2 || s.Balances[0].Balance != 25 {
		t.Errorf("unexpected diagnostic balances: %+v", s.Balances)
	}
}

func TestSettleToleratesFloatingPointSums(t *testing.T) {
	// 0.1 + 0.2 != 0.3 in float64
	g := Group{Participants: people("A", 0.1, "B", 0.2), Total: 0.3}
	if _, err := Settle(g); err != nil {
		t.Fatalf("expected rounding noise to be tolerated, got %v", err)
	}
}

func TestSettleInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		group Group
	}{
		{"no participants", Group{Total: 10}},
		{"negative total", Group{Participants: people("A", 0), Total: -1}},
		{"negative paid", Group{Participants: people("A", -5, "B", 5), Total: 0}},
		{"NaN total", Group{Participants: people("A", 1), Total: math.NaN()}},
		{"infinite paid", Group{Participants: people("A", math.Inf(1)), Total: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Settle(tt.group)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			var invalid *InvalidInputError
			if !errors.As(err, &invalid) || invalid.Reason == "" {
				t.Fatalf("expected *InvalidInputError with reason, got %v", err)
			}
			if s.Balances != nil || s.Transfers != nil {
				t.Errorf("nothing may be computed on invalid input, got %+v", s)
			}
		})
	}
}

func TestSettleWithToleranceRejectsBadTolerance(t *testing.T) {
	tests := []struct {
		name      string
		tolerance float64
	}{
		{"NaN", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
		{"negative", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Contributions of 200 against 150 must never be resolved.
			g := Group{Participants: people("A", 100, "B", 100), Total: 150}
			s, err := SettleWithTolerance(g, tt.tolerance)
			var invalid *InvalidInputError
			if !errors.As(err, &invalid) {
				t.Fatalf("SettleWithTolerance(%v) error = %v, want *InvalidInputError", tt.tolerance, err)
			}
			if s.Balances != nil || s.Transfers != nil {
				t.Errorf("nothing may be computed with a bad tolerance, got %+v", s)
			}
			if err := CheckTotals(g, tt.tolerance); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("CheckTotals(%v) error = %v, want ErrInvalidInput", tt.tolerance, err)
			}
		})
	}
}

func TestSettleWithZeroToleranceRequiresExactMatch(t *testing.T) {
	exact := Group{Participants: people("A", 100, "B", 50), Total: 150}
	if _, err := SettleWithTolerance(exact, 0); err != nil {
		t.Fatalf("exact match rejected with zero tolerance: %v", err)
	}

	noisy := Group{Participants: people("A", 0.1, "B", 0.2), Total: 0.3}
	if _, err := SettleWithTolerance(noisy, 0); !errors.Is(err, ErrBalanceMismatch) {
		t.Fatalf("expected ErrBalanceMismatch with zero tolerance, got %v", err)
	}
}

func TestWithDefaultNames(t *testing.T) {
	tests := []struct {
		name  string
		input []Participant
		want  []string
	}{
		{
			name:  "blank names use position",
			input: people("", 1, "B", 1, " ", 1),
			want:  []string{"Person 1", "B", "Person 3"},
		},
		{
			name:  "duplicates get a suffix",
			input: people("A", 30, "A", 0, "B", 0, "A", 0),
			want:  []string{"A", "A (2)", "B", "A (3)"},
		},
		{
			name:  "suffix skips names already taken",
			input: people("A", 1, "A (2)", 1, "A", 1),
			want:  []string{"A", "A (2)", "A (3)"},
		},
		{
			name:  "default name clashing with a given one",
			input: people("Person 2", 1, "", 1),
			want:  []string{"Person 2", "Person 2 (2)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Group{Participants: tt.input, Total: 3}
			out := g.WithDefaultNames()
			for i, want := range tt.want {
				if got := out.Participants[i].Name; got != want {
					t.Errorf("Participants[%d].Name = %q, want %q", i, got, want)
				}
				if out.Participants[i].Paid != tt.input[i].Paid {
					t.Errorf("Participants[%d].Paid changed", i)
				}
			}
			if g.Participants[0].Name != tt.input[0].Name {
				t.Error("input group was modified")
			}
		})
	}
}

func TestSettleDuplicateNamesNeverPaySelf(t *testing.T) {
	g := Group{Participants: people("A", 30, "A", 0, "B", 0), Total: 30}
	s, err := Settle(g.WithDefaultNames())
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	want := []Transfer{
		{From: "A (2)", To: "A", Amount: 10},
		{From: "B", To: "A", Amount: 10},
	}
	if !reflect.DeepEqual(s.Transfers, want) {
		t.Fatalf("Transfers = %+v, want %+v", s.Transfers, want)
	}
	for _, tr := range s.Transfers {
		if tr.From == tr.To {
			t.Errorf("self transfer %+v", tr)
		}
	}
}

func TestComputeBalancesEmpty(t *testing.T) {
	if _, err := ComputeBalances(nil, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty participants, got %v", err)
	}
}

func TestComputeBalancesKeepsOrderAndDuplicates(t *testing.T) {
	got, err := ComputeBalances(people("A", 30, "A", 0, "B", 0), 30)
	if err != nil {
		t.Fatalf("ComputeBalances() error = %v", err)
	}
	want := []Balance{
		{Name: "A", Paid: 30, Balance: 20},
		{Name: "A", Paid: 0, Balance: -10},
		{Name: "B", Paid: 0, Balance: -10},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ComputeBalances() = %+v, want %+v", got, want)
	}
}

func TestResolveFourParticipants(t *testing.T) {
	balances := []Balance{
		{Name: "A", Balance: 30},
		{Name: "B", Balance: 20},
		{Name: "C", Balance: -10},
		{Name: "D", Balance: -40},
	}
	got := Resolve(balances)
	want := []Transfer{
		{From: "C", To: "A", Amount: 10},
		{From: "D", To: "A", Amount: 20},
		{From: "D", To: "B", Amount: 20},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve() = %+v, want %+v", got, want)
	}
	assertSettles(t, balances, got)
	var total float64
	for _, tr := range got {
		total += tr.Amount
	}
	if total != 50 {
		t.Errorf("total transferred = %v, want 50", total)
	}
}

func TestResolveAllZero(t *testing.T) {
	got := Resolve([]Balance{{Name: "A"}, {Name: "B"}})
	if got == nil || len(got) != 0 {
		t.Fatalf("Resolve() = %#v, want empty non-nil slice", got)
	}
	if got := Resolve(nil); len(got) != 0 {
		t.Fatalf("Resolve(nil) = %#v, want empty", got)
	}
}

func TestResolveDoesNotEmitDust(t *testing.T) {
	// Thirds never sum back exactly in float64.
	s, err := Settle(Group{Participants: people("A", 100, "B", 0, "C", 0), Total: 100})
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if len(s.Transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %+v", s.Transfers)
	}
	for _, tr := range s.Transfers {
		if tr.Amount < 0.01 {
			t.Errorf("unexpected dust transfer %+v", tr)
		}
	}
	assertSettles(t, s.Balances, s.Transfers)
}

func TestResolveDeterministic(t *testing.T) {
	balances := []Balance{
		{Name: "A", Balance: 12.5},
		{Name: "B", Balance: -3.25},
		{Name: "C", Balance: 7},
		{Name: "D", Balance: -16.25},
	}
	first := Resolve(balances)
	for i := 0; i < 10; i++ {
		if got := Resolve(balances); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	balances := []Balance{{Name: "A", Balance: 10}, {Name: "B", Balance: -10}}
	before := append([]Balance(nil), balances...)
	Resolve(balances)
	if !reflect.DeepEqual(balances, before) {
		t.Fatalf("input mutated: %+v", balances)
	}
}

func TestSettleProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	names := []string{"Ada", "Bo", "Cy", "Di", "Ed", "Flo", "Gus", "Hal"}

	for run := 0; run < 500; run++ {
		n := 1 + rng.Intn(len(names))
		var total float64
		ps := make([]Participant, n)
		for i := 0; i < n; i++ {
			paid := 0.0
			if rng.Intn(3) > 0 {
				paid = float64(rng.Intn(100000)) / 100
			}
			ps[i] = Participant{Name: names[i], Paid: paid}
			total += paid
		}

		s, err := Settle(Group{Participants: ps, Total: total})
		if err != nil {
			t.Fatalf("run %d: Settle() error = %v", run, err)
		}

		var positive float64
		debtors, creditors := 0, 0
		for _, b := range s.Balances {
			if b.Balance > 0 {
				positive += b.Balance
			}
		}
		for _, b := range s.Balances {
			eps := settleEpsilon * magnitude(s.Balances)
			if b.Balance > eps {
				creditors++
			} else if b.Balance < -eps {
				debtors++
			}
		}

		var moved float64
		for _, tr := range s.Transfers {
			if tr.Amount <= 0 {
				t.Fatalf("run %d: non-positive transfer %+v", run, tr)
			}
			if tr.From == tr.To {
				t.Fatalf("run %d: self payment %+v", run, tr)
			}
			moved += tr.Amount
		}
		if math.Abs(moved-positive) > 1e-6 {
			t.Fatalf("run %d: moved %v, positive balances %v", run, moved, positive)
		}
		if limit := debtors + creditors - 1; len(s.Transfers) > max(0, limit) {
			t.Fatalf("run %d: %d transfers exceeds bound %d", run, len(s.Transfers), limit)
		}
		assertSettles(t, s.Balances, s.Transfers)
	}
}

// assertSettles applies every transfer to the balances and checks that
// everyone ends at zero.
func assertSettles(t *testing.T, balances []Balance, transfers []Transfer) {
	t.Helper()
	net := make(map[string]float64, len(balances))
	for _, b := range balances {
		net[b.Name] += b.Balance
	}
	for _, tr := range transfers {
		net[tr.From] += tr.Amount
		net[tr.To] -= tr.Amount
	}
	for name, v := range net {
		if math.Abs(v) > 1e-6 {
			t.Fatalf("%s left with residual balance %v", name, v)
		}
	}
}
