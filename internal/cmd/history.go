package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/core/engine"
	errwrap "github.com/signcrate/signcrate/internal/errors"
	"github.com/signcrate/signcrate/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded download runs",
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and the outcome of each envelope",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize totals across recorded runs",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(statsCmd)

	for _, c := range []*cobra.Command{historyCmd, historyShowCmd} {
		c.Flags().StringP("output-format", "f", "table", "output format: table, json, markdown")
		c.Flags().String("out", "", "write output to a file instead of stdout")
	}
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to show")
	statsCmd.Flags().IntP("limit", "n", 1000, "number of recent runs to include")
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "list runs")
	}

	rendered, err := output.NewFormatter(format).FormatRuns(runs)
	if err != nil {
		return errwrap.WrapDataProcessing(ctx, err, "render run history")
	}
	return writeOutput(outPath, rendered)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	run, err := db.GetRun(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "fetch run")
	}
	if run == nil {
		return errwrap.NewNotFoundError(fmt.Sprintf("run %s not found", args[0]))
	}

	outcomes, err := db.ListOutcomes(ctx, run.ID)
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "list envelope outcomes")
	}

	rendered, err := output.NewFormatter(format).FormatReport(reportFromRun(*run), outcomes)
	if err != nil {
		return errwrap.WrapDataProcessing(ctx, err, "render run")
	}
	return writeOutput(outPath, rendered)
}

// reportFromRun rebuilds the report of a recorded run.
func reportFromRun(run core.RunRecord) core.Report {
	finished := run.StartedAt
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	report := engine.BuildReport(core.StatsSnapshot{
		Envelopes:    run.Envelopes,
		Documents:    run.Documents,
		Certificates: run.Certificates,
		Bytes:        run.Bytes,
		Errors:       run.Errors,
	}, run.StartedAt, finished)
	report.RunID = run.ID
	report.Mode = run.Mode
	return report
}

// runTotals aggregates recorded runs.
type runTotals struct {
	Runs         int
	Completed    int
	Cancelled    int
	Failed       int
	Running      int
	Envelopes    int64
	Documents    int64
	Certificates int64
	Bytes        int64
	Errors       int64
	RemoteCalls  int64
	Stalls       int64
}

func totalRuns(runs []core.RunRecord) runTotals {
	var totals runTotals
	for _, run := range runs {
		totals.Runs++
		switch run.Status {
		case core.RunCompleted:
			totals.Completed++
		case core.RunCancelled:
			totals.Cancelled++
		case core.RunFailed:
			totals.Failed++
		case core.RunRunning:
			totals.Running++
		}
		totals.Envelopes += run.Envelopes
		totals.Documents += run.Documents
		totals.Certificates += run.Certificates
		totals.Bytes += run.Bytes
		totals.Errors += run.Errors
		totals.RemoteCalls += run.Admitted
		totals.Stalls += run.Stalls
	}
	return totals
}

func runStats(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "list runs")
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), statsBox(totalRuns(runs)))
	return err
}

func statsBox(t runTotals) string {
	lines := []string{
		fmt.Sprintf("Runs          %d (completed %d, cancelled %d, failed %d, running %d)", t.Runs, t.Completed, t.Cancelled, t.Failed, t.Running),
		fmt.Sprintf("Envelopes     %d", t.Envelopes),
		fmt.Sprintf("Documents     %d", t.Documents),
		fmt.Sprintf("Certificates  %d", t.Certificates),
		fmt.Sprintf("Downloaded    %.2f MB", engine.BytesToMB(t.Bytes)),
		fmt.Sprintf("Errors        %d", t.Errors),
		fmt.Sprintf("Remote calls  %d", t.RemoteCalls),
		fmt.Sprintf("Rate stalls   %d", t.Stalls),
	}
	return ascii.DrawBox(strings.Join(lines, "\n"), 0)
}
