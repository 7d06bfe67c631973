package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"whetstone/adapters/calibration/scenarios"
	"whetstone/internal/display"
	"whetstone/internal/format"
)

var scenariosFlags struct {
	show string
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the embedded calibration scenarios",
	RunE:  runScenarios,
}

func init() {
	scenariosCmd.Flags().StringVar(&scenariosFlags.show, "show", "", "Show one scenario's ground truth in full")
}

func runScenarios(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	if scenariosFlags.show != "" {
		scenario, err := scenarios.LoadScenario(scenariosFlags.show)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Scenario: %s\n", scenario.Name)
		fmt.Fprintf(out, "Budget:   %d iteration(s) per unit, parallel %d\n",
			scenario.Run.Iterations, scenario.Run.Parallel)
		fmt.Fprintf(out, "%s\n", strings.TrimSpace(scenario.Description))
		for i := range scenario.Units {
			u := &scenario.Units[i]
			fmt.Fprintf(out, "\nUnit: %s\n", u.ID)
			fmt.Fprintf(out, "  Scripted iterations: %d\n", len(u.Iterations))
			fmt.Fprintf(out, "  Expected: %s after %d iteration(s), %d promotion(s)\n",
				display.Step(u.Expected.FinalStep), u.Expected.Iterations, u.Expected.Promotions)
			if u.Expected.Winner != "" {
				fmt.Fprintf(out, "  Winner:   %s (%s)\n",
					u.Expected.Winner, format.FmtPct(u.Expected.ImprovementPct))
			}
			if len(u.Expected.Path) > 0 {
				fmt.Fprintf(out, "  Path:     %s\n", strings.Join(u.Expected.Path, " -> "))
			}
		}
		return nil
	}

	tbl := format.NewTable(format.ASCII)
	tbl.Header("Scenario", "Units", "Iterations", "Description")
	tbl.Columns(
		format.ColumnConfig{Number: 2, Align: format.AlignRight},
		format.ColumnConfig{Number: 3, Align: format.AlignRight},
	)
	for _, name := range scenarios.ListScenarios() {
		scenario, err := scenarios.LoadScenario(name)
		if err != nil {
			return err
		}
		tbl.Row(scenario.Name, len(scenario.Units), scenario.Run.Iterations,
			format.Truncate(firstLine(scenario.Description), 56))
	}
	fmt.Fprintln(out, tbl.String())
	return nil
}
