package watcher

import (
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/go-devserver/internal/event"
)

// classify maps a notification path to an event. Paths that cannot be
// canonicalized, for example because the file is already gone, are dropped.
func (w *Watcher) classify(name string) (event.Event, bool) {
	path, err := canonical(name)
	if err != nil {
		return 0, false
	}
	return w.classifyCanonical(path)
}

func (w *Watcher) classifyCanonical(path string) (event.Event, bool) {
	if path == w.artifact || path == w.artifactTarget {
		return event.Signal, true
	}
	if w.byProduct(path) {
		return 0, false
	}
	if w.ignored(path) || w.hiddenUnderRoot(path) {
		return 0, false
	}
	if _, ok := w.rootOf(path); ok {
		return event.Rebuild, true
	}
	return 0, false
}

// byProduct reports whether path is a temporary file the build tool writes
// next to the artifact, such as app.tmp or app-go-tmp-umask. Other files in
// the artifact directory are classified normally.
func (w *Watcher) byProduct(path string) bool {
	if filepath.Dir(path) != w.artifactDir {
		return false
	}
	base := filepath.Base(w.artifact)
	name := filepath.Base(path)
	if len(name) <= len(base) || !strings.HasPrefix(name, base) {
		return false
	}
	if filepath.Ext(name) == ".go" {
		return false
	}
	return strings.ContainsRune(".-_~", rune(name[len(base)]))
}

// rootOf returns the watch root containing path.
func (w *Watcher) rootOf(path string) (string, bool) {
	for _, root := range w.roots {
		if within(root, path) {
			return root, true
		}
	}
	return "", false
}

func (w *Watcher) ignored(path string) bool {
	for _, dir := range w.ignore {
		if within(dir, path) {
			return true
		}
	}
	return false
}

// hiddenUnderRoot reports whether any component of path below its watch root
// starts with a dot.
func (w *Watcher) hiddenUnderRoot(path string) bool {
	root, ok := w.rootOf(path)
	if !ok {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if isHidden(part) {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	return len(name) > 1 && name[0] == '.' && name != ".."
}

// within reports whether path is dir or inside it.
func within(dir, path string) bool {
	if path == dir {
		return true
	}
	if dir == string(filepath.Separator) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// canonical returns the absolute, symlink-free form of path.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
