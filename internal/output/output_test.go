package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signcrate/signcrate/internal/core"
)

func sampleReport() (core.Report, []core.EnvelopeOutcome) {
	report := core.Report{
		Envelopes:    2,
		Documents:    3,
		Certificates: 1,
		Bytes:        3 * 1024 * 1024,
		MB:           3,
		Errors:       2,
		DurationText: "4s",
	}
	outcomes := []core.EnvelopeOutcome{
		{EnvelopeID: "env-1", Subject: "Lease | annex", Documents: 3, Certificates: 1, Bytes: 3 * 1024 * 1024},
		{EnvelopeID: "env-2", Subject: "Broken", Errors: 2},
	}
	return report, outcomes
}

func sampleEnvelopes() []core.Envelope {
	return []core.Envelope{
		{EnvelopeID: "a", EmailSubject: "One", Status: core.StatusCompleted},
		{EnvelopeID: "b", EmailSubject: "Two", Status: core.StatusSent},
		{EnvelopeID: "c", EmailSubject: "Three", Status: core.StatusCompleted},
		{EnvelopeID: "d"},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestCountByStatus(t *testing.T) {
	counts := CountByStatus(sampleEnvelopes())
	require.Equal(t, []StatusCount{
		{Status: core.StatusCompleted, Count: 2},
		{Status: core.StatusSent, Count: 1},
		{Status: "unknown", Count: 1},
	}, counts)

	require.Empty(t, CountByStatus(nil))
}

func TestFormatReport(t *testing.T) {
	report, outcomes := sampleReport()

	rendered, err := NewFormatter(FormatTable).FormatReport(report, outcomes)
	require.NoError(t, err)
	require.Contains(t, strings.ToLower(rendered), "download report")
	require.Contains(t, rendered, "3.00 MB")
	require.Contains(t, rendered, "partial")
	require.Contains(t, rendered, "failed")

	rendered, err = NewFormatter(FormatMarkdown).FormatReport(report, outcomes)
	require.NoError(t, err)
	require.Contains(t, rendered, "| Errors | 2 |")
	require.Contains(t, rendered, `Lease \| annex`)

	rendered, err = NewFormatter(FormatJSON).FormatReport(report, outcomes)
	require.NoError(t, err)
	var doc ReportDocument
	require.NoError(t, json.Unmarshal([]byte(rendered), &doc))
	require.Equal(t, int64(3), doc.Report.Documents)
	require.Len(t, doc.Outcomes, 2)
}

func TestFormatRuns(t *testing.T) {
	finished := time.Date(2025, 3, 31, 12, 1, 30, 0, time.UTC)
	runs := []core.RunRecord{
		{ID: "0f7c2d1e-aaaa", Mode: "ids", Status: core.RunCompleted, StartedAt: finished.Add(-90 * time.Second), FinishedAt: &finished, Envelopes: 4},
		{ID: "running-run", Mode: "criteria", Status: core.RunRunning, StartedAt: finished},
	}

	rendered, err := NewFormatter(FormatTable).FormatRuns(runs)
	require.NoError(t, err)
	require.Contains(t, rendered, "1m30s")
	require.Contains(t, rendered, "criteria")

	rendered, err = NewFormatter(FormatTable).FormatRuns(nil)
	require.NoError(t, err)
	require.Contains(t, strings.ToLower(rendered), "no runs recorded")

	rendered, err = NewFormatter(FormatJSON).FormatRuns(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)

	rendered, err = NewFormatter(FormatMarkdown).FormatRuns(runs)
	require.NoError(t, err)
	require.Contains(t, rendered, "| 0f7c2d1e-aaaa | ids | completed |")
}

func TestFormatEnvelopes(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatEnvelopes(sampleEnvelopes())
	require.NoError(t, err)
	require.Contains(t, rendered, "4 envelopes")
	require.Contains(t, rendered, "completed")

	rendered, err = NewFormatter(FormatMarkdown).FormatEnvelopes(sampleEnvelopes())
	require.NoError(t, err)
	require.Contains(t, rendered, "**By status**: completed 2, sent 1, unknown 1")

	rendered, err = NewFormatter(FormatJSON).FormatEnvelopes(sampleEnvelopes())
	require.NoError(t, err)
	var doc SearchDocument
	require.NoError(t, json.Unmarshal([]byte(rendered), &doc))
	require.Equal(t, 4, doc.Total)
	require.Equal(t, core.StatusCompleted, doc.ByStatus[0].Status)
}
