package engine

import (
	"sync/atomic"

	"github.com/signcrate/signcrate/internal/core"
)

// Stats accumulates run counters. Tasks complete concurrently, so every
// counter is updated atomically.
type Stats struct {
	envelopes    atomic.Int64
	documents    atomic.Int64
	certificates atomic.Int64
	bytes        atomic.Int64
	errors       atomic.Int64
}

func (s *Stats) addEnvelopes(n int64) { s.envelopes.Add(n) }

func (s *Stats) addDocument(bytes int64) {
	s.documents.Add(1)
	s.bytes.Add(bytes)
}

func (s *Stats) addCertificate(bytes int64) {
	s.certificates.Add(1)
	s.bytes.Add(bytes)
}

func (s *Stats) addError() { s.errors.Add(1) }

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() core.StatsSnapshot {
	return core.StatsSnapshot{
		Envelopes:    s.envelopes.Load(),
		Documents:    s.documents.Load(),
		Certificates: s.certificates.Load(),
		Bytes:        s.bytes.Load(),
		Errors:       s.errors.Load(),
	}
}
