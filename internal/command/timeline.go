package command

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// LineError reports a command file line that failed to parse.
type LineError struct {
	Line int    // 1-based line number
	Text string // raw line text
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Timeline is the immutable, time-ordered sequence of command lines of one song,
// plus a single forward-only cursor.
type Timeline struct {
	lines []CommandLine
	index int
}

// NewTimeline sorts lines by timestamp; lines with equal timestamps keep their order.
func NewTimeline(lines []CommandLine) *Timeline {
	sorted := make([]CommandLine, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimeMs < sorted[j].TimeMs
	})
	return &Timeline{lines: sorted}
}

// Parse reads a whole command file. Loading is all-or-nothing: the first bad line
// fails the file with a *LineError.
func Parse(r io.Reader) (*Timeline, error) {
	var lines []CommandLine
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		text := scanner.Text()
		line, ok, err := ParseLine(text)
		if err != nil {
			return nil, &LineError{Line: n, Text: text, Err: err}
		}
		if ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read command file: %w", err)
	}
	return NewTimeline(lines), nil
}

// LoadFile parses the command file at path.
func LoadFile(path string) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open command file: %w", err)
	}
	defer f.Close()

	tl, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tl, nil
}

// Peek returns the line under the cursor; ok is false past the end.
func (t *Timeline) Peek() (CommandLine, bool) {
	if t.index >= len(t.lines) {
		return CommandLine{}, false
	}
	return t.lines[t.index], true
}

// Advance moves the cursor forward. It is a no-op past the end.
func (t *Timeline) Advance() {
	if t.index < len(t.lines) {
		t.index++
	}
}

// Rewind moves the cursor back to the first line. Only used before a run starts.
func (t *Timeline) Rewind() {
	t.index = 0
}

// Index returns the cursor position.
func (t *Timeline) Index() int {
	return t.index
}

// Len returns the number of lines.
func (t *Timeline) Len() int {
	return len(t.lines)
}

// Lines returns a copy of all lines in execution order.
func (t *Timeline) Lines() []CommandLine {
	out := make([]CommandLine, len(t.lines))
	copy(out, t.lines)
	return out
}

// End returns the timestamp of the last line.
func (t *Timeline) End() time.Duration {
	if len(t.lines) == 0 {
		return 0
	}
	return t.lines[len(t.lines)-1].Time()
}

// CommandCount returns the total number of commands across all lines.
func (t *Timeline) CommandCount() int {
	n := 0
	for _, l := range t.lines {
		n += len(l.Commands)
	}
	return n
}
