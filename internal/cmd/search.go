package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signcrate/signcrate/internal/core"
	"github.com/signcrate/signcrate/internal/core/engine"
	errwrap "github.com/signcrate/signcrate/internal/errors"
	"github.com/signcrate/signcrate/internal/output"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search envelopes without downloading them",
	Long: `Search envelopes by date window and status and print them.
Results are capped at 1000 envelopes; narrow the window to see more.`,
	RunE: runSearch,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Count envelopes per status",
	Long:  "Search envelopes by date window and print how many are in each status.",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)

	for _, c := range []*cobra.Command{searchCmd, listCmd} {
		addCriteriaFlags(c)
		c.Flags().StringP("output-format", "f", "table", "output format: table, json, markdown")
		c.Flags().String("out", "", "write output to a file instead of stdout")
	}
}

func searchEnvelopes(cmd *cobra.Command) ([]core.Envelope, core.SearchCriteria, error) {
	ctx := cmd.Context()

	session, err := newRemoteSession(ctx)
	if err != nil {
		return nil, core.SearchCriteria{}, err
	}
	criteria, err := resolveCriteria(cmd, session.cfg.Download.PageSize, time.Now())
	if err != nil {
		return nil, criteria, err
	}

	runLogger().Info("Searching envelopes",
		zap.String("from", criteria.FromDate.Format(dateLayout)),
		zap.String("to", criteria.ToDate.Format(dateLayout)),
		zap.String("status", string(criteria.Status)))

	envelopes, err := engine.Search(ctx, session.client, criteria)
	if err != nil {
		return nil, criteria, err
	}
	if len(envelopes) >= engine.MaxSearchResults {
		runLogger().Warn("Search hit the result cap; narrow the date window to see everything",
			zap.Int("cap", engine.MaxSearchResults))
	}
	return envelopes, criteria, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	envelopes, _, err := searchEnvelopes(cmd)
	if err != nil {
		return err
	}

	rendered, err := output.NewFormatter(format).FormatEnvelopes(envelopes)
	if err != nil {
		return errwrap.WrapDataProcessing(cmd.Context(), err, "render search results")
	}
	return writeOutput(outPath, rendered)
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	envelopes, criteria, err := searchEnvelopes(cmd)
	if err != nil {
		return err
	}

	if format != output.FormatTable {
		rendered, err := output.NewFormatter(format).FormatEnvelopes(envelopes)
		if err != nil {
			return errwrap.WrapDataProcessing(cmd.Context(), err, "render envelope counts")
		}
		return writeOutput(outPath, rendered)
	}

	return writeOutput(outPath, statusBox(envelopes, criteria))
}

func statusBox(envelopes []core.Envelope, criteria core.SearchCriteria) string {
	lines := []string{
		fmt.Sprintf("Envelopes %s .. %s", criteria.FromDate.Format(dateLayout), criteria.ToDate.Format(dateLayout)),
		"",
	}
	counts := output.CountByStatus(envelopes)
	if len(counts) == 0 {
		lines = append(lines, "no envelopes found")
	}
	for _, count := range counts {
		lines = append(lines, fmt.Sprintf("%-12s %6d", count.Status, count.Count))
	}
	lines = append(lines, "", fmt.Sprintf("%-12s %6d", "total", len(envelopes)))
	return ascii.DrawBox(strings.Join(lines, "\n"), 0)
}

func writeOutput(outPath, rendered string) error {
	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer sink.close() // nolint:errcheck // stdout or a freshly created file

	_, err = fmt.Fprintln(sink.writer, strings.TrimRight(rendered, "\n"))
	return err
}
