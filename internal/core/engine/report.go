package engine

import (
	"math"
	"time"

	"github.com/signcrate/signcrate/internal/core"
)

// BuildReport derives an immutable run summary from a stats snapshot.
func BuildReport(snapshot core.StatsSnapshot, startedAt, finishedAt time.Time) core.Report {
	elapsed := finishedAt.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	return core.Report{
		Envelopes:    snapshot.Envelopes,
		Documents:    snapshot.Documents,
		Certificates: snapshot.Certificates,
		Bytes:        snapshot.Bytes,
		MB:           BytesToMB(snapshot.Bytes),
		Errors:       snapshot.Errors,
		Duration:     elapsed,
		DurationText: HumanizeDuration(elapsed),
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}
}

// BytesToMB converts a byte count to megabytes rounded to two decimals.
func BytesToMB(bytes int64) float64 {
	return math.Round(float64(bytes)/1024/1024*100) / 100
}

// HumanizeDuration renders an elapsed time at a precision suited to its size.
func HumanizeDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Hour:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Minute).String()
	}
}
