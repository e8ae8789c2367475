package supervisor

import (
	"testing"
	"time"
)

// =============================================================================
// Table-Driven Tests: DefaultBackoffConfig
// =============================================================================

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()

	if cfg.Initial != 100*time.Millisecond {
		t.Errorf("Initial = %v, want 100ms", cfg.Initial)
	}
	if cfg.Max != 5*time.Second {
		t.Errorf("Max = %v, want 5s", cfg.Max)
	}
	if cfg.Multiplier != 2 {
		t.Errorf("Multiplier = %v, want 2", cfg.Multiplier)
	}
	if cfg.JitterPct != 0.2 {
		t.Errorf("JitterPct = %v, want 0.2", cfg.JitterPct)
	}
	if cfg.ResetAfter != 2*time.Second {
		t.Errorf("ResetAfter = %v, want 2s", cfg.ResetAfter)
	}
}

// =============================================================================
// Table-Driven Tests: Backoff.Calculate
// =============================================================================

func TestBackoff_Calculate_NoJitter(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		initial  time.Duration
		max      time.Duration
		mult     float64
		want     time.Duration
	}{
		{"attempt 0", 0, 100 * time.Millisecond, 10 * time.Second, 2.0, 100 * time.Millisecond},
		{"attempt 1", 1, 100 * time.Millisecond, 10 * time.Second, 2.0, 200 * time.Millisecond},
		{"attempt 3", 3, 100 * time.Millisecond, 10 * time.Second, 2.0, 800 * time.Millisecond},
		{"capped at max", 10, 100 * time.Millisecond, 1 * time.Second, 2.0, 1 * time.Second},
		{"multiplier 1.5", 2, 100 * time.Millisecond, 10 * time.Second, 1.5, 225 * time.Millisecond},
		{"multiplier 1.0 (no growth)", 5, 100 * time.Millisecond, 10 * time.Second, 1.0, 100 * time.Millisecond},
		{"zero initial", 4, 0, 10 * time.Second, 2.0, 0},
		{"very large attempts", 1000, 100 * time.Millisecond, 5 * time.Second, 2.0, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(0, BackoffConfig{
				Initial:    tt.initial,
				Max:        tt.max,
				Multiplier: tt.mult,
			})
			b.attempts = tt.attempts

			if got := b.Calculate(); got != tt.want {
				t.Errorf("Calculate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoff_NextAndReset(t *testing.T) {
	b := NewBackoff(0, BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2.0,
	})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w)
		}
	}
	if b.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 {
		t.Errorf("Attempts() after Reset = %d, want 0", b.Attempts())
	}
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 100ms", got)
	}
}

// =============================================================================
// Tests: Jitter Behavior
// =============================================================================

func TestBackoff_JitterWithinBounds(t *testing.T) {
	b := NewBackoff(12345, BackoffConfig{
		Initial:    1 * time.Second,
		Max:        10 * time.Second,
		Multiplier: 1.0,
		JitterPct:  0.4, // ±20%
	})

	for i := 0; i < 50; i++ {
		d := b.Calculate()
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Errorf("sample %d = %v, want between 800ms and 1200ms", i, d)
		}
	}
}

func TestBackoff_DeterministicJitter(t *testing.T) {
	cfg := BackoffConfig{
		Initial:    1 * time.Second,
		Max:        10 * time.Second,
		Multiplier: 1.0,
		JitterPct:  0.4,
	}

	b1 := NewBackoff(42, cfg)
	b2 := NewBackoff(42, cfg)

	for i := 0; i < 10; i++ {
		d1 := b1.Calculate()
		d2 := b2.Calculate()
		if d1 != d2 {
			t.Errorf("iteration %d: d1=%v != d2=%v (should be deterministic)", i, d1, d2)
		}
	}
}

// =============================================================================
// Table-Driven Tests: ShouldReset
// =============================================================================

func TestBackoff_ShouldReset(t *testing.T) {
	b := NewBackoff(0, DefaultBackoffConfig())

	tests := []struct {
		name     string
		uptime   time.Duration
		exitCode int
		want     bool
	}{
		{"quick crash", 100 * time.Millisecond, 1, false},
		{"quick clean exit", 100 * time.Millisecond, 0, true},
		{"stable then crash", 3 * time.Second, 1, true},
		{"exactly at threshold", 2 * time.Second, 2, true},
		{"just under threshold", 2*time.Second - time.Millisecond, 143, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.ShouldReset(tt.uptime, tt.exitCode); got != tt.want {
				t.Errorf("ShouldReset(%v, %d) = %v, want %v", tt.uptime, tt.exitCode, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkBackoff_Next(b *testing.B) {
	backoff := NewBackoff(12345, DefaultBackoffConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = backoff.Next()
		if backoff.Attempts() > 100 {
			backoff.Reset()
		}
	}
}
