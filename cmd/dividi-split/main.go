// Command dividi-split settles a shared expense given on the command line.
//
//	dividi-split -total 150 A=100 B=50 C=0
//
// Each argument is NAME=AMOUNT or a bare AMOUNT (the person is then named
// after their position). Exit status is 2 for invalid input and 3 when the
// contributions do not add up to the total.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"dividi/internal/core"
	"dividi/internal/log"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitInvalid  = 2
	exitMismatch = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dividi-split", flag.ContinueOnError)
	fs.SetOutput(stderr)
	totalFlag := fs.String("total", "", "total expense; defaults to the sum of the contributions")
	asJSON := fs.Bool("json", false, "print the settlement as JSON")
	tolerance := fs.Float64("tolerance", core.DefaultTolerance, "relative tolerance when comparing contributions with the total")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: dividi-split [-total AMOUNT] [-json] NAME=AMOUNT...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitInvalid
	}
	if err := core.ValidateTolerance(*tolerance); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitInvalid
	}

	logger := log.New(log.Config{
		Level:     log.ParseLevel(os.Getenv("LOG_LEVEL")),
		Component: log.ComponentCLI,
		Output:    stderr,
	})

	participants, err := parseParticipants(fs.Args())
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitInvalid
	}

	g := core.Group{Participants: participants}
	if strings.TrimSpace(*totalFlag) == "" {
		g.Total = g.TotalPaid()
	} else {
		g.Total, err = core.ParseAmount(*totalFlag)
		if err != nil {
			fmt.Fprintf(stderr, "error: invalid total %q\n", *totalFlag)
			return exitInvalid
		}
	}

	st, err := core.SettleWithTolerance(g.WithDefaultNames(), *tolerance)
	var mismatch *core.BalanceMismatchError
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		fmt.Fprintln(stderr, "error:", err)
		return exitInvalid
	case errors.As(err, &mismatch):
		fmt.Fprintln(stderr, "error:", err)
		fmt.Fprintf(stderr, "difference: %s\n", core.FormatAmount(mismatch.Difference()))
		return exitMismatch
	case err != nil:
		fmt.Fprintln(stderr, "error:", err)
		return exitFailure
	}
	logger.Debug("Settlement computed",
		log.FieldParticipants, len(st.Group.Participants),
		log.FieldTotal, st.Group.Total,
		log.FieldTransfers, len(st.Transfers))

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return exitFailure
		}
		return exitOK
	}

	if err := printSettlement(stdout, st); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitFailure
	}
	return exitOK
}

// parseParticipants reads NAME=AMOUNT or AMOUNT arguments. The last '='
// separates the amount so names may contain '='.
func parseParticipants(args []string) ([]core.Participant, error) {
	out := make([]core.Participant, 0, len(args))
	for i, arg := range args {
		name, amount := "", arg
		if idx := strings.LastIndex(arg, "="); idx >= 0 {
			name, amount = strings.TrimSpace(arg[:idx]), arg[idx+1:]
		}
		paid, err := core.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%q): invalid amount", i+1, arg)
		}
		out = append(out, core.Participant{Name: name, Paid: paid})
	}
	return out, nil
}

func printSettlement(w io.Writer, st core.Settlement) error {
	fmt.Fprintf(w, "Each person must pay: %s\n\n", core.FormatAmount(st.Share))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Name\tPaid\tBalance\t")
	for _, b := range st.Balances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", b.Name, core.FormatAmount(b.Paid), core.FormatAmount(b.Balance))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	if st.Settled() {
		_, err := fmt.Fprintln(w, "Everyone is settled.")
		return err
	}
	fmt.Fprintln(w, "Transfers:")
	for _, t := range st.Transfers {
		if _, err := fmt.Fprintf(w, "  %s pays %s %s\n", t.From, t.To, core.FormatAmount(t.Amount)); err != nil {
			return err
		}
	}
	return nil
}
