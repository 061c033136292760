// Package history implements `connflurry history`, which lists archived
// run reports.
package history

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/saveenergy/connflurry/internal/logging"
	"github.com/saveenergy/connflurry/internal/results"
	"github.com/saveenergy/connflurry/pkg/types"
)

var (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

func Run(args []string, version string) int {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	flagSet := flag.NewFlagSet("connflurry history", flag.ContinueOnError)
	flagSet.SetOutput(stderr)

	var (
		dbPath  string
		limit   int
		id      string
		jsonOut bool
	)
	flagSet.StringVar(&dbPath, "results", os.Getenv("FLURRY_RESULTS_DB"), "SQLite archive written by connflurry run -results")
	flagSet.IntVar(&limit, "n", results.DefaultListLimit, "Number of runs to list, newest first")
	flagSet.StringVar(&id, "id", "", "Show a single run")
	flagSet.BoolVar(&jsonOut, "json", false, "Output as JSON")

	if err := flagSet.Parse(args); err != nil {
		return exitUsage
	}
	if dbPath == "" {
		fmt.Fprintln(stderr, "connflurry history: -results is required")
		return exitUsage
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(stderr, "connflurry history: %v\n", err)
		return exitFailure
	}

	store, err := results.Open(dbPath, 0, logging.NewLogger("results"))
	if err != nil {
		fmt.Fprintf(stderr, "connflurry history: %v\n", err)
		return exitFailure
	}
	defer store.Close()

	var runs []types.RunReport
	if id != "" {
		r, err := store.Get(id)
		if errors.Is(err, results.ErrNotFound) {
			fmt.Fprintf(stderr, "connflurry history: run %q not found\n", id)
			return exitFailure
		}
		if err != nil {
			fmt.Fprintf(stderr, "connflurry history: %v\n", err)
			return exitFailure
		}
		runs = []types.RunReport{r}
	} else {
		runs, err = store.List(limit)
		if err != nil {
			fmt.Fprintf(stderr, "connflurry history: %v\n", err)
			return exitFailure
		}
	}

	if jsonOut {
		if runs == nil {
			runs = []types.RunReport{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(runs); err != nil {
			fmt.Fprintf(stderr, "connflurry history: json encode error: %v\n", err)
			return exitFailure
		}
		return exitSuccess
	}

	printTable(stdout, runs)
	return exitSuccess
}

func printTable(w io.Writer, runs []types.RunReport) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs archived")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tTARGET\tSTATUS\tESTABLISHED\tATTEMPTED\tFAILED\tPER SEC\tP99 MS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.1f\t%.3f\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Target, r.Status,
			r.Established, r.Attempted, r.Failed, r.PerSecond, r.ConnectLatency.P99Ms)
	}
	tw.Flush()
}
