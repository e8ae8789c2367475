package logging

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
)

func newTestOutput() *BuildOutput {
	return NewBuildOutput(NewLoggerWithWriter(io.Discard, "text", "debug"))
}

func TestBuildOutput_SplitsLines(t *testing.T) {
	o := newTestOutput()

	// Lines may arrive split across writes.
	fmt.Fprint(o, "# example.com/app\n./main.go:5:2: undef")
	fmt.Fprint(o, "ined: foo\r\n./main.go:9:1: missing return\ntrailing")

	if got := o.Lines(); got != 3 {
		t.Fatalf("Lines() = %d, want 3", got)
	}
	o.Flush()

	want := []string{
		"# example.com/app",
		"./main.go:5:2: undefined: foo",
		"./main.go:9:1: missing return",
		"trailing",
	}
	got := o.RecentLines(10)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("RecentLines() = %q, want %q", got, want)
	}
}

func TestBuildOutput_ErrorCount(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want int
	}{
		{"with column", "./main.go:5:2: undefined: foo", 1},
		{"without column", "internal/x/y.go:12: syntax error", 1},
		{"package header", "# github.com/example/app", 0},
		{"note", "note: module requires Go 1.25", 0},
		{"too many errors", "./main.go:20:1: too many errors", 1},
		{"not go file", "Makefile:3: *** missing separator", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOutput()
			fmt.Fprintln(o, tc.line)
			if got := o.ErrorCount(); got != tc.want {
				t.Errorf("ErrorCount() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBuildOutput_CountErrors(t *testing.T) {
	o := newTestOutput()
	fmt.Fprintln(o, "./a.go:1:1: undefined: x")
	fmt.Fprintln(o, "./a.go:2:1: undefined: y")
	fmt.Fprintln(o, `./b.go:3:2: "os" imported and not used`)

	counts := o.CountErrors()
	if counts["undefined:"] != 2 {
		t.Errorf("undefined: = %d, want 2", counts["undefined:"])
	}
	if counts["imported and not used"] != 1 {
		t.Errorf("imported and not used = %d, want 1", counts["imported and not used"])
	}
	if _, ok := counts["syntax error"]; ok {
		t.Error("syntax error counted without occurrences")
	}
}

func TestBuildOutput_Truncation(t *testing.T) {
	o := newTestOutput()
	fmt.Fprintln(o, strings.Repeat("x", MaxLineLength+100))

	lines := o.RecentLines(1)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "...(truncated)") {
		t.Error("truncated line should end with '...(truncated)'")
	}
}

func TestBuildOutput_RingBuffer(t *testing.T) {
	o := newTestOutput()
	for i := 0; i < MaxBufferedLines+50; i++ {
		fmt.Fprintf(o, "line%d\n", i)
	}

	lines := o.RecentLines(MaxBufferedLines + 10)
	if len(lines) != MaxBufferedLines {
		t.Fatalf("got %d lines, want %d", len(lines), MaxBufferedLines)
	}
	if lines[len(lines)-1] != fmt.Sprintf("line%d", MaxBufferedLines+49) {
		t.Errorf("last line = %q", lines[len(lines)-1])
	}
	if o.Lines() != MaxBufferedLines+50 {
		t.Errorf("Lines() = %d, want %d", o.Lines(), MaxBufferedLines+50)
	}
}

func TestBuildOutput_Reset(t *testing.T) {
	o := newTestOutput()
	fmt.Fprint(o, "./main.go:1:1: undefined: x\npartial")
	o.Reset()

	if o.Lines() != 0 || o.ErrorCount() != 0 {
		t.Errorf("after Reset: Lines()=%d ErrorCount()=%d, want 0", o.Lines(), o.ErrorCount())
	}
	if len(o.RecentLines(10)) != 0 {
		t.Error("RecentLines() not empty after Reset")
	}
	o.Flush()
	if o.Lines() != 0 {
		t.Error("partial line survived Reset")
	}
}

func TestBuildOutput_LogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	o := NewBuildOutput(NewLoggerWithWriter(&buf, "text", "debug"))
	fmt.Fprintln(o, "./main.go:1:1: undefined: x")

	if !strings.Contains(buf.String(), "build_stderr") {
		t.Errorf("expected build_stderr record, got %q", buf.String())
	}
}
