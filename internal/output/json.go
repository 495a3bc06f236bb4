package output

import (
	"encoding/json"

	"github.com/signcrate/signcrate/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// ReportDocument is the JSON shape of a rendered report.
type ReportDocument struct {
	Report   core.Report            `json:"report"`
	Outcomes []core.EnvelopeOutcome `json:"envelopes,omitempty"`
}

// SearchDocument is the JSON shape of a rendered search.
type SearchDocument struct {
	Total     int             `json:"total"`
	ByStatus  []StatusCount   `json:"by_status"`
	Envelopes []core.Envelope `json:"envelopes"`
}

func (f *JSONFormatter) FormatReport(report core.Report, outcomes []core.EnvelopeOutcome) (string, error) {
	return f.encode(ReportDocument{Report: report, Outcomes: outcomes})
}

func (f *JSONFormatter) FormatRuns(runs []core.RunRecord) (string, error) {
	if runs == nil {
		runs = []core.RunRecord{}
	}
	return f.encode(runs)
}

func (f *JSONFormatter) FormatEnvelopes(envelopes []core.Envelope) (string, error) {
	if envelopes == nil {
		envelopes = []core.Envelope{}
	}
	return f.encode(SearchDocument{
		Total:     len(envelopes),
		ByStatus:  CountByStatus(envelopes),
		Envelopes: envelopes,
	})
}

func (f *JSONFormatter) encode(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
