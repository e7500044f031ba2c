package command

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		text    string
		want    uint32
		wantErr bool
	}{
		{text: "00:00.0", want: 0},
		{text: "00:00.5", want: 500},
		{text: "01:02.3", want: 62300},
		{text: "00:01.25", want: 1250},
		{text: "00:01.2345", want: 1234},
		{text: "00:07", want: 7000},
		{text: "01:00:00.0", want: 3600000},
		{text: "1:02:03.4", want: 3723400},
		{text: "00:60.0", wantErr: true},
		{text: "12.5", wantErr: true},
		{text: "aa:00.0", wantErr: true},
		{text: "00:00.x", wantErr: true},
		{text: "1:2:3:4", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.text)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTime(%q) = %d, want error", tt.text, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTime(%q) error: %v", tt.text, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTime(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestFormatTimeRoundTrip(t *testing.T) {
	for _, ms := range []uint32{0, 500, 62300, 1250, 3723400, 59999} {
		got, err := ParseTime(FormatTime(ms))
		if err != nil {
			t.Fatalf("ParseTime(FormatTime(%d)): %v", ms, err)
		}
		if got != ms {
			t.Errorf("FormatTime(%d) = %q parsed back as %d", ms, FormatTime(ms), got)
		}
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantTime uint32
		wantCmds []string
		wantErr  bool
	}{
		{name: "single", text: "00:00.0 017-001", wantOK: true, wantCmds: []string{"017-001"}},
		{name: "batch", text: "00:01.5 017-001 018-250 045-FF0000", wantOK: true, wantTime: 1500,
			wantCmds: []string{"017-001", "018-250", "045-FF0000"}},
		{name: "hour_prefix", text: "01:00:00.0 017-000", wantOK: true, wantTime: 3600000, wantCmds: []string{"017-000"}},
		{name: "comment_stripped", text: "00:02.0 017-001 (intro swell) 018-002", wantOK: true, wantTime: 2000,
			wantCmds: []string{"017-001", "018-002"}},
		{name: "comment_only_is_noop", text: "00:03.0 (hold)", wantOK: true, wantTime: 3000},
		{name: "timestamp_only_is_noop", text: "00:04.0", wantOK: true, wantTime: 4000},
		{name: "banner_skipped", text: "SHOW FILE v2", wantOK: false},
		{name: "blank_skipped", text: "   ", wantOK: false},
		{name: "leading_comment_skipped", text: "(whole line comment)", wantOK: false},
		{name: "single_token_with_space", text: "00:05.0 17- 001", wantOK: true, wantTime: 5000, wantCmds: []string{"017-001"}},
		{name: "tabs", text: "00:06.0\t017-001\t018-001", wantOK: true, wantTime: 6000, wantCmds: []string{"017-001", "018-001"}},
		{name: "bad_token", text: "00:07.0 017-001 zz-1", wantErr: true},
		{name: "bad_time", text: "0x:07.0 017-001", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok, err := ParseLine(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseLine(%q) want error", tt.text)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLine(%q) error: %v", tt.text, err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ParseLine(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if line.TimeMs != tt.wantTime {
				t.Errorf("TimeMs = %d, want %d", line.TimeMs, tt.wantTime)
			}
			if len(line.Commands) != len(tt.wantCmds) {
				t.Fatalf("got %d commands, want %d", len(line.Commands), len(tt.wantCmds))
			}
			for i, c := range line.Commands {
				if c.String() != tt.wantCmds[i] {
					t.Errorf("command %d = %s, want %s", i, c, tt.wantCmds[i])
				}
			}
		})
	}
}

func TestParseSortsStably(t *testing.T) {
	src := strings.Join([]string{
		"FOUNTAIN SHOW",
		"00:02.0 002-001",
		"00:01.0 001-001",
		"00:02.0 002-002",
		"00:00.5 000-001",
		"00:01.0 001-002",
	}, "\n")

	tl, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	lines := tl.Lines()
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5", len(lines))
	}
	for i := 1; i < len(lines); i++ {
		if lines[i].TimeMs < lines[i-1].TimeMs {
			t.Fatalf("lines not ordered at %d: %v", i, lines)
		}
	}
	want := []string{"000-001", "001-001", "001-002", "002-001", "002-002"}
	for i, l := range lines {
		if l.Commands[0].String() != want[i] {
			t.Errorf("line %d = %s, want %s", i, l.Commands[0], want[i])
		}
	}
}

func TestParseReportsOffendingLine(t *testing.T) {
	src := "00:00.0 001-001\n00:01.0 001-xyz\n00:02.0 001-002\n"
	_, err := Parse(strings.NewReader(src))
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected *LineError, got %v", err)
	}
	if lineErr.Line != 2 || lineErr.Text != "00:01.0 001-xyz" {
		t.Errorf("LineError = %+v", lineErr)
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error should wrap ErrInvalidToken: %v", err)
	}
}

func TestTimelineCursor(t *testing.T) {
	tl := NewTimeline([]CommandLine{
		{TimeMs: 100, Commands: []Command{{Address: 1, Data: 1}}},
		{TimeMs: 200},
	})

	line, ok := tl.Peek()
	if !ok || line.TimeMs != 100 {
		t.Fatalf("Peek() = %v, %v", line, ok)
	}
	tl.Advance()
	line, ok = tl.Peek()
	if !ok || line.TimeMs != 200 {
		t.Fatalf("Peek() after advance = %v, %v", line, ok)
	}
	tl.Advance()
	if _, ok := tl.Peek(); ok {
		t.Fatal("Peek() past end should report false")
	}
	tl.Advance()
	if tl.Index() != 2 {
		t.Errorf("Advance past end moved cursor to %d", tl.Index())
	}
	if tl.End().Milliseconds() != 200 {
		t.Errorf("End() = %v", tl.End())
	}
	tl.Rewind()
	if tl.Index() != 0 {
		t.Errorf("Rewind() left cursor at %d", tl.Index())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.txt")
	if err := os.WriteFile(path, []byte("00:00.0 017-001\n00:00.5 017-000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tl, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if tl.Len() != 2 || tl.CommandCount() != 2 {
		t.Errorf("Len() = %d, CommandCount() = %d", tl.Len(), tl.CommandCount())
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("LoadFile on a missing file should fail")
	}
}
