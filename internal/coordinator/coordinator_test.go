package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/randomizedcoder/go-devserver/internal/builder"
	"github.com/randomizedcoder/go-devserver/internal/event"
	"github.com/randomizedcoder/go-devserver/internal/supervisor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBuilder counts builds and detects overlapping calls.
type fakeBuilder struct {
	results  []bool // consumed in order; the last one repeats
	builds   atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
	onBuild  func(success bool)
}

func (b *fakeBuilder) Build(ctx context.Context) builder.Result {
	if b.inFlight.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.inFlight.Add(-1)

	n := int(b.builds.Add(1)) - 1
	success := true
	if len(b.results) > 0 {
		if n >= len(b.results) {
			n = len(b.results) - 1
		}
		success = b.results[n]
	}
	time.Sleep(time.Millisecond)
	if b.onBuild != nil {
		b.onBuild(success)
	}

	res := builder.Result{Success: success, Duration: time.Millisecond}
	if !success {
		res.ExitCode = 2
	}
	return res
}

// fakeChild resolves the target pid through a PIDCell at delivery time.
type fakeChild struct {
	pids *supervisor.PIDCell

	mu        sync.Mutex
	delivered []int
	signals   []syscall.Signal
}

func (c *fakeChild) Signal(sig syscall.Signal) error {
	pid, ok := c.pids.Get()
	if !ok {
		return supervisor.ErrNoChild
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, pid)
	c.signals = append(c.signals, sig)
	return nil
}

func (c *fakeChild) Delivered() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.delivered...)
}

type harness struct {
	queue    *event.Queue
	builder  *fakeBuilder
	child    *fakeChild
	pids     *supervisor.PIDCell
	shutdown *supervisor.ShutdownFlag
	coord    *Coordinator
}

func newHarness(t *testing.T, coalesce bool) *harness {
	t.Helper()
	h := &harness{
		queue:    event.NewQueue(),
		builder:  &fakeBuilder{},
		pids:     &supervisor.PIDCell{},
		shutdown: &supervisor.ShutdownFlag{},
	}
	h.child = &fakeChild{pids: h.pids}
	h.coord = New(Config{
		Queue:         h.queue,
		Builder:       h.builder,
		Child:         h.child,
		Shutdown:      h.shutdown,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		RestartSignal: syscall.SIGTERM,
		Coalesce:      coalesce,
	})
	return h
}

// drain pushes events, closes the queue and runs the coordinator to completion.
func (h *harness) drain(t *testing.T, events ...event.Event) {
	t.Helper()
	for _, e := range events {
		h.queue.Push(e)
	}
	h.queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Run(ctx))
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateRunning, "running"},
		{StateShuttingDown, "shutting_down"},
		{StateTerminated, "terminated"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestRun_BuildPerRebuildWithoutOverlap(t *testing.T) {
	h := newHarness(t, false)

	// Events arrive from another goroutine while builds run.
	go func() {
		for i := 0; i < 20; i++ {
			h.queue.Push(event.Rebuild)
		}
		h.queue.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Run(ctx))

	assert.Equal(t, int32(20), h.builder.builds.Load())
	assert.False(t, h.builder.overlap.Load(), "builds overlapped")
}

func TestRun_SignalTargetsCurrentChild(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	h.pids.Set(100)
	h.coord.Handle(ctx, event.Signal)
	h.pids.Set(200)
	h.coord.Handle(ctx, event.Signal)

	assert.Equal(t, []int{100, 200}, h.child.Delivered())
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM, syscall.SIGTERM}, h.child.signals)
}

func TestRun_SignalWithoutChildIsTolerated(t *testing.T) {
	h := newHarness(t, false)

	var gotErr error
	h.coord.callbacks.OnSignal = func(_ syscall.Signal, err error) { gotErr = err }

	h.drain(t, event.Signal, event.Rebuild)

	assert.ErrorIs(t, gotErr, supervisor.ErrNoChild)
	assert.Equal(t, int32(1), h.builder.builds.Load())
	assert.Equal(t, StateRunning, h.coord.State())
}

func TestRun_SourceChangeRestartsAfterBuild(t *testing.T) {
	h := newHarness(t, false)
	h.pids.Set(100)

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	// A successful build rewrites the artifact, which the watcher reports.
	h.builder.onBuild = func(success bool) {
		record("build")
		if success {
			h.queue.Push(event.Signal)
		}
	}
	h.coord.callbacks.OnSignal = func(syscall.Signal, error) { record("signal") }

	h.queue.Push(event.Rebuild)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.child.Delivered()) == 1 }, 2*time.Second, 5*time.Millisecond)
	h.queue.Close()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"build", "signal"}, order)
	assert.Equal(t, []int{100}, h.child.Delivered())
}

func TestRun_FailedBuildKeepsChild(t *testing.T) {
	h := newHarness(t, false)
	h.builder.results = []bool{false}
	h.pids.Set(100)

	var results []builder.Result
	h.coord.callbacks.OnBuild = func(res builder.Result) { results = append(results, res) }

	h.drain(t, event.Rebuild)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Empty(t, h.child.Delivered())

	pid, ok := h.pids.Get()
	assert.True(t, ok)
	assert.Equal(t, 100, pid)
}

func TestRun_ShutdownSetsFlagOnce(t *testing.T) {
	h := newHarness(t, false)

	var transitions []string
	h.coord.callbacks.OnStateChange = func(o, n State) {
		transitions = append(transitions, o.String()+"->"+n.String())
	}

	h.drain(t, event.Shutdown, event.Shutdown)

	assert.True(t, h.shutdown.IsSet())
	assert.Equal(t, StateShuttingDown, h.coord.State())
	assert.Equal(t, []string{"running->shutting_down"}, transitions)
}

func TestRun_WorkContinuesWhileShuttingDown(t *testing.T) {
	h := newHarness(t, false)
	h.pids.Set(100)

	h.drain(t, event.Shutdown, event.Rebuild, event.Signal)

	assert.Equal(t, StateShuttingDown, h.coord.State())
	assert.Equal(t, int32(1), h.builder.builds.Load())
	assert.Equal(t, []int{100}, h.child.Delivered())
}

func TestRun_Coalesce(t *testing.T) {
	pending := []event.Event{
		event.Rebuild, event.Rebuild, event.Signal, event.Rebuild,
		event.Shutdown, event.Signal, event.Rebuild,
	}

	tests := []struct {
		name        string
		coalesce    bool
		wantBuilds  int32
		wantSignals int
	}{
		{"disabled", false, 4, 2},
		{"enabled", true, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.coalesce)
			h.pids.Set(100)

			h.drain(t, pending...)

			assert.Equal(t, tt.wantBuilds, h.builder.builds.Load())
			assert.Len(t, h.child.Delivered(), tt.wantSignals)
			assert.True(t, h.shutdown.IsSet(), "shutdown must never be dropped")
		})
	}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name string
		in   []event.Event
		want []event.Event
	}{
		{"empty", nil, []event.Event{}},
		{"rebuilds dropped", []event.Event{event.Rebuild, event.Rebuild}, []event.Event{}},
		{"signals collapse", []event.Event{event.Signal, event.Signal, event.Signal}, []event.Event{event.Signal}},
		{
			"order kept",
			[]event.Event{event.Shutdown, event.Rebuild, event.Signal, event.Shutdown},
			[]event.Event{event.Shutdown, event.Signal, event.Shutdown},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Coalesce(append([]event.Event(nil), tt.in...))
			assert.Equal(t, tt.want, append([]event.Event{}, got...))
		})
	}
}

func TestRun_ContextCancel(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StopsWhenTerminated(t *testing.T) {
	h := newHarness(t, false)
	h.coord.MarkTerminated()

	h.queue.Push(event.Rebuild)
	require.NoError(t, h.coord.Run(context.Background()))

	assert.Equal(t, int32(0), h.builder.builds.Load())
	assert.Equal(t, StateTerminated, h.coord.State())
}
