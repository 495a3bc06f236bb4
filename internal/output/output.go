// Package output renders run reports, run history and envelope listings for
// the terminal.
package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signcrate/signcrate/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders the values the CLI prints.
type Formatter interface {
	FormatReport(report core.Report, outcomes []core.EnvelopeOutcome) (string, error)
	FormatRuns(runs []core.RunRecord) (string, error)
	FormatEnvelopes(envelopes []core.Envelope) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// StatusCount is the number of envelopes found in one status.
type StatusCount struct {
	Status core.EnvelopeStatus `json:"status"`
	Count  int                 `json:"count"`
}

// CountByStatus tallies envelopes per status, most frequent first.
func CountByStatus(envelopes []core.Envelope) []StatusCount {
	counts := make(map[core.EnvelopeStatus]int)
	for _, envelope := range envelopes {
		status := envelope.Status
		if status == "" {
			status = "unknown"
		}
		counts[status]++
	}

	result := make([]StatusCount, 0, len(counts))
	for status, count := range counts {
		result = append(result, StatusCount{Status: status, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Status < result[j].Status
	})
	return result
}

func outcomeLabel(outcome core.EnvelopeOutcome) string {
	switch {
	case outcome.Errors == 0:
		return "ok"
	case outcome.Documents == 0 && outcome.Certificates == 0:
		return "failed"
	default:
		return "partial"
	}
}

func runDuration(run core.RunRecord) string {
	if run.FinishedAt == nil {
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
}

func formatMB(bytes int64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/1024/1024)
}

func shorten(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
