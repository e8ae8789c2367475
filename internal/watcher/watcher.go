// Package watcher turns filesystem notifications into supervisor events.
//
// Watch roots are observed recursively through fsnotify. A change to the
// artifact asks for a restart signal; any other change under a root asks for
// a rebuild. Raw notifications are batched within a debounce window, and a
// batch yields at most one event of each kind.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/randomizedcoder/go-devserver/internal/event"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrPathNotExist  = errors.New("watch path does not exist")
)

// DefaultDebounce is the batching window for raw notifications.
const DefaultDebounce = 250 * time.Millisecond

// Config describes what to watch.
type Config struct {
	// Paths are the watch roots, relative to Cwd unless absolute.
	Paths []string

	// Artifact is the built executable. It is always watched.
	Artifact string

	// Cwd is the working directory relative paths are resolved against.
	Cwd string

	// Ignore lists directories whose contents never trigger events, such as
	// the build output tree.
	Ignore []string

	// Debounce is the batching window. Zero pushes every notification.
	Debounce time.Duration

	// OnError is called for every error reported by fsnotify.
	OnError func(err error)
}

// Stats holds watcher counters.
type Stats struct {
	WatchedDirs   int
	Notifications int64
	Dropped       int64
	Errors        int64
}

// Watcher pushes Signal and Rebuild events for filesystem changes.
type Watcher struct {
	cfg    Config
	sink   event.Sink
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	roots       []string
	ignore      []string
	artifact    string
	artifactDir string

	// artifactTarget is the resolved artifact when it is a symlink.
	artifactTarget string

	mu      sync.Mutex
	watched map[string]bool
	closed  bool
	closeCh chan struct{}

	notifications atomic.Int64
	dropped       atomic.Int64
	errors        atomic.Int64
}

// New resolves the configured paths and registers them with fsnotify.
// It fails if any watch root or the artifact directory cannot be resolved.
func New(cfg Config, sink event.Sink, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		fsw:     fsw,
		watched: make(map[string]bool),
		closeCh: make(chan struct{}),
	}

	if err := w.register(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) register() error {
	for _, dir := range w.cfg.Ignore {
		c, err := canonical(w.resolve(dir))
		if err != nil {
			// An output tree that does not exist yet cannot hold events.
			c = filepath.Clean(w.resolve(dir))
		}
		w.ignore = append(w.ignore, c)
	}

	artifactDir, err := canonical(filepath.Dir(w.resolve(w.cfg.Artifact)))
	if err != nil {
		return fmt.Errorf("%w: artifact directory: %w", ErrPathNotExist, err)
	}
	w.artifactDir = artifactDir
	w.artifact = filepath.Join(artifactDir, filepath.Base(w.cfg.Artifact))
	if target, err := canonical(w.artifact); err == nil && target != w.artifact {
		w.artifactTarget = target
	}

	for _, p := range w.cfg.Paths {
		root, err := canonical(w.resolve(p))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPathNotExist, p, err)
		}
		w.roots = append(w.roots, root)

		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("stat %s: %w", root, err)
		}
		if info.IsDir() {
			if err := w.watchTree(root); err != nil {
				return err
			}
		} else if err := w.add(root); err != nil {
			return err
		}
		w.logger.Info("watch_registered", "path", root, "recursive", info.IsDir())
	}

	// The build tool replaces the artifact, which would drop a watch on the
	// file itself.
	if err := w.add(w.artifactDir); err != nil {
		return err
	}
	if w.artifactTarget != "" {
		if err := w.add(filepath.Dir(w.artifactTarget)); err != nil {
			return err
		}
	}
	w.logger.Info("watch_registered", "path", w.artifact, "recursive", false)
	return nil
}

func (w *Watcher) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.cfg.Cwd, p)
}

// watchTree adds root and every non-hidden, non-ignored directory below it.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Skip unreadable entries, continue walking
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && (isHidden(filepath.Base(p)) || w.ignored(p)) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

func (w *Watcher) add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.watched[path] {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w.watched[path] = true
	return nil
}

// IsWatching reports whether dir is registered with fsnotify.
func (w *Watcher) IsWatching(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[dir]
}

// Run processes notifications until Close is called.
func (w *Watcher) Run() {
	var (
		pending []event.Event
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	flush := func() {
		for _, e := range pending {
			w.sink.Push(e)
		}
		pending = pending[:0]
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-w.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.notifications.Add(1)
			w.autoWatch(fsEvent)

			e, ok := w.classify(fsEvent.Name)
			if !ok {
				w.dropped.Add(1)
				continue
			}
			if w.cfg.Debounce <= 0 {
				w.sink.Push(e)
				continue
			}
			if !contains(pending, e) {
				pending = append(pending, e)
			}
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
				timerC = timer.C
			}

		case <-timerC:
			flush()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.errors.Add(1)
			w.logger.Warn("watch_error", "error", err)
			if w.cfg.OnError != nil {
				w.cfg.OnError(err)
			}
		}
	}
}

// autoWatch registers directories created under a root.
func (w *Watcher) autoWatch(fsEvent fsnotify.Event) {
	if !fsEvent.Has(fsnotify.Create) {
		return
	}
	path, err := canonical(fsEvent.Name)
	if err != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if _, ok := w.rootOf(path); !ok || w.ignored(path) || w.hiddenUnderRoot(path) {
		return
	}
	if err := w.watchTree(path); err != nil {
		w.logger.Warn("watch_add_failed", "path", path, "error", err)
	}
}

// Stats returns a snapshot of the watcher counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	dirs := len(w.watched)
	w.mu.Unlock()

	return Stats{
		WatchedDirs:   dirs,
		Notifications: w.notifications.Load(),
		Dropped:       w.dropped.Load(),
		Errors:        w.errors.Load(),
	}
}

// Close stops Run and releases the fsnotify watcher. Pending batched events
// are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	return w.fsw.Close()
}

func contains(events []event.Event, e event.Event) bool {
	for _, x := range events {
		if x == e {
			return true
		}
	}
	return false
}
