package output

import (
	"fmt"
	"strings"

	"github.com/signcrate/signcrate/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatReport(report core.Report, outcomes []core.EnvelopeOutcome) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Download report\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Envelopes | %d |\n", report.Envelopes))
	sb.WriteString(fmt.Sprintf("| Documents | %d |\n", report.Documents))
	sb.WriteString(fmt.Sprintf("| Certificates | %d |\n", report.Certificates))
	sb.WriteString(fmt.Sprintf("| Size | %.2f MB |\n", report.MB))
	sb.WriteString(fmt.Sprintf("| Errors | %d |\n", report.Errors))
	sb.WriteString(fmt.Sprintf("| Duration | %s |\n", escapeMarkdownCell(report.DurationText)))

	if len(outcomes) > 0 {
		sb.WriteString("\n### Envelopes\n\n")
		sb.WriteString("| Envelope | Subject | Docs | Certs | Size | Errors | Result |\n")
		sb.WriteString("|----------|---------|------|-------|------|--------|--------|\n")
		for _, outcome := range outcomes {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %s | %d | %s |\n",
				escapeMarkdownCell(outcome.EnvelopeID),
				escapeMarkdownCell(outcome.Subject),
				outcome.Documents,
				outcome.Certificates,
				formatMB(outcome.Bytes),
				outcome.Errors,
				outcomeLabel(outcome),
			))
		}
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatRuns(runs []core.RunRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Run | Mode | Status | Started | Duration | Envelopes | Docs | Certs | Size | Errors |\n")
	sb.WriteString("|-----|------|--------|---------|----------|-----------|------|-------|------|--------|\n")
	for _, run := range runs {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %d | %d | %d | %s | %d |\n",
			escapeMarkdownCell(run.ID),
			escapeMarkdownCell(run.Mode),
			escapeMarkdownCell(run.Status),
			run.StartedAt.UTC().Format("2006-01-02 15:04"),
			runDuration(run),
			run.Envelopes,
			run.Documents,
			run.Certificates,
			formatMB(run.Bytes),
			run.Errors,
		))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatEnvelopes(envelopes []core.Envelope) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %d envelopes\n\n", len(envelopes)))
	sb.WriteString("| Envelope | Subject | Status | Completed |\n")
	sb.WriteString("|----------|---------|--------|-----------|\n")
	for _, envelope := range envelopes {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			escapeMarkdownCell(envelope.EnvelopeID),
			escapeMarkdownCell(envelope.EmailSubject),
			escapeMarkdownCell(string(envelope.Status)),
			escapeMarkdownCell(envelope.CompletedDateTime),
		))
	}

	if counts := CountByStatus(envelopes); len(counts) > 0 {
		sb.WriteString("\n**By status**: ")
		parts := make([]string, 0, len(counts))
		for _, count := range counts {
			parts = append(parts, fmt.Sprintf("%s %d", count.Status, count.Count))
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
