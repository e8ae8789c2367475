// Package stats tracks what happened during a devserver session: build
// durations and outcomes, child restarts, and exit codes.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// BuildSnapshot is a point-in-time view of build statistics.
type BuildSnapshot struct {
	Total     int64
	Failed    int64
	Last      time.Duration
	LastOK    bool
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	Max       time.Duration
	Succeeded int64
}

// BuildStats accumulates build durations in a t-digest so percentiles stay
// cheap however long the session runs.
type BuildStats struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
	total  int64
	failed int64
	last   time.Duration
	lastOK bool
	max    time.Duration
}

// NewBuildStats creates empty build statistics.
func NewBuildStats() *BuildStats {
	return &BuildStats{
		digest: tdigest.NewWithCompression(100),
	}
}

// Record adds one finished build.
func (s *BuildStats) Record(d time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.digest.Add(float64(d.Nanoseconds()), 1)
	s.total++
	if !success {
		s.failed++
	}
	s.last = d
	s.lastOK = success
	if d > s.max {
		s.max = d
	}
}

// Snapshot returns the current statistics. Percentiles are zero until the
// first build is recorded.
func (s *BuildStats) Snapshot() BuildSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := BuildSnapshot{
		Total:     s.total,
		Failed:    s.failed,
		Succeeded: s.total - s.failed,
		Last:      s.last,
		LastOK:    s.lastOK,
		Max:       s.max,
	}
	if s.total > 0 {
		snap.P50 = time.Duration(s.digest.Quantile(0.50))
		snap.P95 = time.Duration(s.digest.Quantile(0.95))
		snap.P99 = time.Duration(s.digest.Quantile(0.99))
	}
	return snap
}
