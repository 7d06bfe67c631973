package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"whetstone/adapters/optim"
	"whetstone/adapters/store"
	"whetstone/internal/display"
	"whetstone/internal/format"
)

var statusFlags struct {
	run    string
	output string
	db     string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-unit loop positions for a run",
	Long: `Status renders where every unit of a run stands: current step, iteration,
promotions, and best improvement so far. Live runs are read from the
state files under the audit-trail root; finished runs fall back to the
scoreboard recorded in the store.`,
	RunE: runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVar(&statusFlags.run, "run", "", "Run ID (default: latest recorded run)")
	f.StringVar(&statusFlags.output, "output", "", "Audit-trail root (default: the run's recorded root, or "+optim.DefaultBasePath+")")
	f.StringVar(&statusFlags.db, "db", "", "Run store DB path (default "+store.DefaultDBPath+", or $WHETSTONE_DB)")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	st, err := store.Open(resolveDB(statusFlags.db))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	runID := statusFlags.run
	var run *store.Run
	if runID == "" {
		run, err = st.LatestRun()
		if err != nil {
			return fmt.Errorf("latest run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("no runs recorded; start one with 'whetstone optimize' or pass --run")
		}
		runID = run.ID
	} else {
		run, _ = st.GetRun(runID)
	}

	basePath := statusFlags.output
	if basePath == "" && run != nil {
		basePath = run.OutputRoot
	}
	if basePath == "" {
		basePath = optim.DefaultBasePath
	}

	fmt.Fprintf(out, "Run:      %s\n", runID)
	if run != nil {
		fmt.Fprintf(out, "Source:   %s\n", run.SourceRoot)
		fmt.Fprintf(out, "Adapter:  %s\n", run.Adapter)
		if run.FinishedAt != "" {
			fmt.Fprintf(out, "Finished: %s (%d of %d units promoted, %d faults)\n",
				run.FinishedAt, run.Promoted, run.Units, run.Faults)
		} else {
			fmt.Fprintf(out, "Started:  %s (in progress)\n", run.StartedAt)
		}
	}
	fmt.Fprintln(out)

	if states := readRunStates(filepath.Join(basePath, runID)); len(states) > 0 {
		tbl := format.NewTable(format.ASCII)
		tbl.Header("Unit", "Step", "Iter", "Promotions", "Best", "Status")
		tbl.Columns(
			format.ColumnConfig{Number: 3, Align: format.AlignRight},
			format.ColumnConfig{Number: 4, Align: format.AlignRight},
			format.ColumnConfig{Number: 5, Align: format.AlignRight},
		)
		for _, s := range states {
			tbl.Row(
				format.Truncate(s.UnitID, 32),
				display.Step(string(s.CurrentStep)),
				s.Iteration,
				s.Promotions,
				format.FmtPct(s.BestImprovementPct),
				s.Status,
			)
		}
		fmt.Fprintln(out, tbl.String())
		return nil
	}

	// No state files on disk; fall back to the recorded scoreboard.
	recs, err := st.ListUnitResults(runID)
	if err != nil {
		return fmt.Errorf("list unit results: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintf(out, "No unit state found for run %s under %s\n", runID, basePath)
		return nil
	}
	tbl := format.NewTable(format.ASCII)
	tbl.Header("Unit", "Final", "Iter", "Promotions", "Best", "Faults")
	tbl.Columns(
		format.ColumnConfig{Number: 3, Align: format.AlignRight},
		format.ColumnConfig{Number: 4, Align: format.AlignRight},
		format.ColumnConfig{Number: 5, Align: format.AlignRight},
	)
	for _, r := range recs {
		faults := "-"
		if len(r.FaultKinds) > 0 {
			var labels []string
			for _, k := range r.FaultKinds {
				labels = append(labels, display.FailureKind(k))
			}
			faults = strings.Join(labels, ", ")
		}
		tbl.Row(
			format.Truncate(r.UnitID, 32),
			display.Step(r.FinalStep),
			r.Iterations,
			r.Promotions,
			format.FmtPct(r.BestImprovementPct),
			faults,
		)
	}
	fmt.Fprintln(out, tbl.String())
	return nil
}

// readRunStates loads every unit state under the run directory, in lexical
// order. A missing or unreadable directory reads as an empty set.
func readRunStates(runDir string) []*optim.UnitState {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil
	}
	var states []*optim.UnitState
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		state, err := optim.LoadState(filepath.Join(runDir, e.Name()))
		if err != nil || state == nil {
			continue
		}
		states = append(states, state)
	}
	return states
}
