package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the configuration for the respawn delay.
type BackoffConfig struct {
	Initial    time.Duration // First respawn delay (default: 100ms)
	Max        time.Duration // Maximum respawn delay (default: 5s)
	Multiplier float64       // Growth per consecutive quick exit (default: 2)
	JitterPct  float64       // Jitter as a fraction of the delay (default: 0.2 = ±10%)

	// ResetAfter is the uptime after which a child counts as stable and the
	// delay goes back to Initial (default: 2s).
	ResetAfter time.Duration
}

// DefaultBackoffConfig returns the defaults for respawning an artifact.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
		JitterPct:  0.2,
		ResetAfter: 2 * time.Second,
	}
}

// Backoff calculates exponential respawn delays with jitter, so an artifact
// that crashes on startup does not spin the supervisor.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a Backoff. The seed makes the jitter reproducible.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))

	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// ±(JitterPct/2) of the delay
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		jitter := jitterRange*b.rng.Float64() - jitterRange/2
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// ShouldReset reports whether the delay should start over: the child either
// ran long enough to count as stable or exited cleanly.
func (b *Backoff) ShouldReset(uptime time.Duration, exitCode int) bool {
	if uptime >= b.config.ResetAfter {
		return true
	}
	return exitCode == 0
}
