package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"porchlight/internal/store"
)

var (
	historyCell string
	historyStep int
)

// historyCmd reads runs recorded with 'porch run --record'
var historyCmd = &cobra.Command{
	Use:   "history <database> [run-id]",
	Short: "List recorded runs, or show one run's pool or one cell's history",
	Long: `Without a run ID, lists every recorded run.
With a run ID, shows the pool at the run's last step (or --step N).
With --cell NAME, shows that cell's value at every recorded step.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := ""
		if len(args) == 2 {
			runID = args[1]
		}
		return showHistory(cmd, args[0], runID, cmd.OutOrStdout())
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyCell, "cell", "", "Show one cell across steps")
	historyCmd.Flags().IntVar(&historyStep, "step", -1, "Step to show (default: last)")
}

func showHistory(cmd *cobra.Command, dbPath, runID string, out io.Writer) error {
	ctx := commandContext(cmd)
	rec, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer rec.Close()

	runs, err := rec.Runs(ctx)
	if err != nil {
		return err
	}

	if runID == "" {
		rows := make([][]string, 0, len(runs))
		for _, run := range runs {
			rows = append(rows, []string{
				run.ID,
				run.Model,
				run.StartedAt.Local().Format(time.DateTime),
				strconv.Itoa(run.Steps),
			})
		}
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d run(s) in %s", len(runs), dbPath)))
		fmt.Fprintln(out, renderTable([]string{"RUN", "MODEL", "STARTED", "STEPS"}, rows))
		return nil
	}

	if historyCell != "" {
		samples, err := rec.History(ctx, runID, historyCell)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s in run %s", historyCell, runID)))
		fmt.Fprintln(out, renderSamples(samples, false))
		return nil
	}

	step := historyStep
	if step < 0 {
		for _, run := range runs {
			if run.ID == runID {
				step = run.Steps
			}
		}
	}
	samples, err := rec.Step(ctx, runID, step)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("run %s at step %d", runID, step)))
	fmt.Fprintln(out, renderSamples(samples, true))
	return nil
}

func renderSamples(samples []store.Sample, byName bool) string {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		key := strconv.Itoa(s.Step)
		if byName {
			key = s.Name
		}
		rows = append(rows, []string{key, formatValue(s.Value), s.Type})
	}
	first := "STEP"
	if byName {
		first = "NAME"
	}
	return renderTable([]string{first, "VALUE", "TYPE"}, rows)
}
