package stats

import (
	"sync"
	"time"
)

// Session records child lifecycle counts for the exit summary.
type Session struct {
	mu        sync.Mutex
	start     time.Time
	starts    int64
	restarts  int64
	signals   int64
	exitCodes map[int]int64
}

// NewSession starts a session clock.
func NewSession() *Session {
	return &Session{
		start:     time.Now(),
		exitCodes: make(map[int]int64),
	}
}

// ChildStarted counts a child start.
func (s *Session) ChildStarted() {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()
}

// ChildRestarted counts a respawn attempt.
func (s *Session) ChildRestarted() {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
}

// ChildExited counts an exit code.
func (s *Session) ChildExited(exitCode int) {
	s.mu.Lock()
	s.exitCodes[exitCode]++
	s.mu.Unlock()
}

// SignalForwarded counts a restart signal delivered to the child.
func (s *Session) SignalForwarded() {
	s.mu.Lock()
	s.signals++
	s.mu.Unlock()
}

// SummaryConfig fills the parts of a summary that Session does not track.
func (s *Session) SummaryConfig(builds BuildSnapshot, exitCode int, metricsAddr string) SummaryConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make(map[int]int64, len(s.exitCodes))
	for code, n := range s.exitCodes {
		codes[code] = n
	}
	return SummaryConfig{
		Duration:         time.Since(s.start),
		Builds:           builds,
		ChildStarts:      s.starts,
		ChildRestarts:    s.restarts,
		SignalsForwarded: s.signals,
		ExitCodes:        codes,
		FinalExitCode:    exitCode,
		MetricsAddr:      metricsAddr,
	}
}
