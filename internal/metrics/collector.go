// Package metrics exposes Prometheus metrics for go-devserver.
//
// Every metric is prefixed devserver_. The Collector owns its metric vectors
// so tests can register it on an isolated registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CollectorConfig holds the labels of the info metric.
type CollectorConfig struct {
	Version  string
	Artifact string
	Mode     string // "debug" or "release"
}

// Collector records supervisor activity.
type Collector struct {
	info              *prometheus.GaugeVec
	eventsTotal       *prometheus.CounterVec
	buildsTotal       *prometheus.CounterVec
	buildDuration     prometheus.Histogram
	buildDurationP50  prometheus.Gauge
	buildDurationP95  prometheus.Gauge
	buildDurationP99  prometheus.Gauge
	childStartsTotal  prometheus.Counter
	childRestarts     prometheus.Counter
	childExitsTotal   *prometheus.CounterVec
	childUptime       prometheus.Histogram
	childPID          prometheus.Gauge
	signalsForwarded  *prometheus.CounterVec
	signalErrorsTotal prometheus.Counter
	watchErrorsTotal  prometheus.Counter

	mu       sync.Mutex
	builds   int64
	failures int64
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devserver_info",
			Help: "Information about the devserver session (value always 1)",
		}, []string{"version", "artifact", "mode"}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devserver_events_total",
			Help: "Events processed by the coordinator, by kind",
		}, []string{"kind"}),

		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devserver_builds_total",
			Help: "Builds run, by result",
		}, []string{"result"}),

		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devserver_build_duration_seconds",
			Help:    "Build wall time",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		buildDurationP50: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devserver_build_duration_p50_seconds",
			Help: "Median build wall time over the session",
		}),
		buildDurationP95: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devserver_build_duration_p95_seconds",
			Help: "95th percentile build wall time over the session",
		}),
		buildDurationP99: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devserver_build_duration_p99_seconds",
			Help: "99th percentile build wall time over the session",
		}),

		childStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devserver_child_starts_total",
			Help: "Child instances started",
		}),
		childRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devserver_child_restarts_total",
			Help: "Respawn attempts after a child exit",
		}),
		childExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devserver_child_exits_total",
			Help: "Child exits by category",
		}, []string{"category"}),
		childUptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devserver_child_uptime_seconds",
			Help:    "How long each child instance ran",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		childPID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devserver_child_pid",
			Help: "PID of the current child (0 when none)",
		}),

		signalsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devserver_signals_forwarded_total",
			Help: "Restart signals delivered to the child",
		}, []string{"signal"}),
		signalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devserver_signal_errors_total",
			Help: "Restart signals that could not be delivered",
		}),
		watchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devserver_watch_errors_total",
			Help: "Errors reported by the filesystem watcher",
		}),
	}

	registry.MustRegister(
		c.info,
		c.eventsTotal,
		c.buildsTotal,
		c.buildDuration,
		c.buildDurationP50,
		c.buildDurationP95,
		c.buildDurationP99,
		c.childStartsTotal,
		c.childRestarts,
		c.childExitsTotal,
		c.childUptime,
		c.childPID,
		c.signalsForwarded,
		c.signalErrorsTotal,
		c.watchErrorsTotal,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Artifact, cfg.Mode).Set(1)
	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordEvent counts a processed event by kind.
func (c *Collector) RecordEvent(kind string) {
	c.eventsTotal.WithLabelValues(kind).Inc()
}

// RecordBuild records a finished build.
func (c *Collector) RecordBuild(success bool, d time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.buildsTotal.WithLabelValues(result).Inc()
	c.buildDuration.Observe(d.Seconds())

	c.mu.Lock()
	c.builds++
	if !success {
		c.failures++
	}
	c.mu.Unlock()
}

// SetBuildPercentiles publishes session-wide build percentiles.
func (c *Collector) SetBuildPercentiles(p50, p95, p99 time.Duration) {
	c.buildDurationP50.Set(p50.Seconds())
	c.buildDurationP95.Set(p95.Seconds())
	c.buildDurationP99.Set(p99.Seconds())
}

// ChildStarted records a child start.
func (c *Collector) ChildStarted(pid int) {
	c.childStartsTotal.Inc()
	c.childPID.Set(float64(pid))
}

// ChildRestarted records a respawn attempt.
func (c *Collector) ChildRestarted() {
	c.childRestarts.Inc()
}

// RecordExit records a child exit.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	c.childExitsTotal.WithLabelValues(ExitCategory(exitCode)).Inc()
	c.childUptime.Observe(uptime.Seconds())
	c.childPID.Set(0)
}

// SignalForwarded records a delivered restart signal.
func (c *Collector) SignalForwarded(sig string) {
	c.signalsForwarded.WithLabelValues(sig).Inc()
}

// SignalFailed records a restart signal that could not be delivered.
func (c *Collector) SignalFailed() {
	c.signalErrorsTotal.Inc()
}

// WatchError records a filesystem watcher error.
func (c *Collector) WatchError() {
	c.watchErrorsTotal.Inc()
}

// ExitCategory buckets an exit code: "success", "error", or "signal" for
// shell-style 128+N codes.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// Builds returns the number of builds and failed builds recorded.
func (c *Collector) Builds() (total, failed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds, c.failures
}

