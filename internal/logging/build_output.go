package logging

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single build line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent build lines kept.
	MaxBufferedLines = 100
)

// compilerError matches "path/file.go:12:5: message" and "file.go:12: message".
var compilerError = regexp.MustCompile(`^\S+\.go:\d+(:\d+)?: `)

// ErrorPatterns are compiler diagnostics tallied for the build_failed record.
var ErrorPatterns = []string{
	"undefined:",
	"syntax error",
	"cannot use",
	"declared and not used",
	"imported and not used",
	"missing return",
	"too many arguments",
	"not enough arguments",
}

// BuildOutput is an io.Writer for a build's stderr. It splits the stream into
// lines, keeps the most recent ones in a ring buffer, and counts compiler
// error lines. Lines are logged at debug level as they arrive.
type BuildOutput struct {
	logger *slog.Logger

	mu      sync.Mutex
	partial []byte
	buffer  []string
	bufIdx  int
	total   int
	errors  int
}

// NewBuildOutput creates an empty BuildOutput.
func NewBuildOutput(logger *slog.Logger) *BuildOutput {
	return &BuildOutput{
		logger: logger,
		buffer: make([]string, MaxBufferedLines),
	}
}

// Write consumes stderr bytes. It never fails.
func (o *BuildOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.partial = append(o.partial, p...)
	for {
		i := bytes.IndexByte(o.partial, '\n')
		if i < 0 {
			break
		}
		o.handleLine(string(bytes.TrimRight(o.partial[:i], "\r")))
		o.partial = o.partial[i+1:]
	}
	return len(p), nil
}

// Flush processes a trailing line that had no newline.
func (o *BuildOutput) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.partial) > 0 {
		o.handleLine(string(o.partial))
		o.partial = nil
	}
}

// handleLine must be called with mu held.
func (o *BuildOutput) handleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	o.buffer[o.bufIdx] = line
	o.bufIdx = (o.bufIdx + 1) % MaxBufferedLines
	o.total++
	if compilerError.MatchString(line) {
		o.errors++
	}

	o.logger.Debug("build_stderr", "line", line)
}

// Reset clears the buffer for the next build.
func (o *BuildOutput) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.buffer {
		o.buffer[i] = ""
	}
	o.bufIdx = 0
	o.total = 0
	o.errors = 0
	o.partial = nil
}

// Lines returns the number of lines seen since the last Reset.
func (o *BuildOutput) Lines() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// ErrorCount returns the number of compiler error lines since the last Reset.
func (o *BuildOutput) ErrorCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errors
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (o *BuildOutput) RecentLines(n int) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (o.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if o.buffer[idx] != "" {
			lines = append(lines, o.buffer[idx])
		}
	}
	return lines
}

// CountErrors tallies ErrorPatterns across the buffered lines.
func (o *BuildOutput) CountErrors() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range o.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
