package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/signcrate/signcrate/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatReport renders the run summary followed by one row per envelope.
func (f *TableFormatter) FormatReport(report core.Report, outcomes []core.EnvelopeOutcome) (string, error) {
	summary := table.NewWriter()
	summary.SetStyle(table.StyleRounded)
	summary.SetTitle("Download report")
	summary.AppendRows([]table.Row{
		{"Envelopes", report.Envelopes},
		{"Documents", report.Documents},
		{"Certificates", report.Certificates},
		{"Size", fmt.Sprintf("%.2f MB", report.MB)},
		{"Errors", report.Errors},
		{"Duration", report.DurationText},
	})
	summary.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	rendered := summary.Render()

	if len(outcomes) == 0 {
		return rendered, nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Envelope", "Subject", "Docs", "Certs", "Size", "Errors", "Result"})
	for _, outcome := range outcomes {
		t.AppendRow(table.Row{
			outcome.EnvelopeID,
			shorten(outcome.Subject, 40),
			outcome.Documents,
			outcome.Certificates,
			formatMB(outcome.Bytes),
			outcome.Errors,
			outcomeLabel(outcome),
		})
	}
	return rendered + "\n" + t.Render(), nil
}

// FormatRuns renders run history, newest first as given.
func (f *TableFormatter) FormatRuns(runs []core.RunRecord) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Run", "Mode", "Status", "Started", "Duration", "Envelopes", "Docs", "Certs", "Size", "Errors"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			shorten(run.ID, 8),
			run.Mode,
			run.Status,
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			runDuration(run),
			run.Envelopes,
			run.Documents,
			run.Certificates,
			formatMB(run.Bytes),
			run.Errors,
		})
	}
	if len(runs) == 0 {
		t.AppendFooter(table.Row{"no runs recorded", "", "", "", "", "", "", "", "", ""})
	}
	return t.Render(), nil
}

// FormatEnvelopes renders a search result with per-status totals.
func (f *TableFormatter) FormatEnvelopes(envelopes []core.Envelope) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Envelope", "Subject", "Status", "Completed"})
	for _, envelope := range envelopes {
		t.AppendRow(table.Row{
			envelope.EnvelopeID,
			shorten(envelope.EmailSubject, 50),
			string(envelope.Status),
			envelope.CompletedDateTime,
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d envelopes", len(envelopes)), "", ""})
	rendered := t.Render()

	if len(envelopes) == 0 {
		return rendered, nil
	}

	counts := table.NewWriter()
	counts.SetStyle(table.StyleRounded)
	counts.AppendHeader(table.Row{"Status", "Count"})
	for _, count := range CountByStatus(envelopes) {
		counts.AppendRow(table.Row{string(count.Status), count.Count})
	}
	return rendered + "\n" + counts.Render(), nil
}
