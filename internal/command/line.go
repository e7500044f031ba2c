package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrInvalidTime is returned for malformed timestamps.
var ErrInvalidTime = errors.New("invalid timestamp")

// singleTokenWidth is the longest command section still read as one token with
// stray spaces removed ("017- 01" style hand edits).
const singleTokenWidth = 7

// CommandLine is one show-relative timestamp with its same-instant batch of commands.
// An empty Commands slice is a timestamped no-op.
type CommandLine struct {
	TimeMs   uint32
	Commands []Command
}

// Time returns the timestamp as a duration.
func (l CommandLine) Time() time.Duration {
	return time.Duration(l.TimeMs) * time.Millisecond
}

// String formats the line in file syntax.
func (l CommandLine) String() string {
	var b strings.Builder
	b.WriteString(FormatTime(l.TimeMs))
	for _, c := range l.Commands {
		b.WriteByte(' ')
		b.WriteString(c.String())
	}
	return b.String()
}

// ParseLine parses one line of a command file. ok is false for lines that carry no
// timestamp (blank, banner or comment-only lines).
func ParseLine(text string) (line CommandLine, ok bool, err error) {
	clean := strings.TrimSpace(stripComments(text))
	if clean == "" || clean[0] < '0' || clean[0] > '9' {
		return CommandLine{}, false, nil
	}

	timeText, rest := clean, ""
	if i := strings.IndexFunc(clean, unicode.IsSpace); i >= 0 {
		timeText, rest = clean[:i], strings.TrimSpace(clean[i:])
	}

	ms, err := ParseTime(timeText)
	if err != nil {
		return CommandLine{}, false, err
	}
	line.TimeMs = ms

	if rest == "" {
		return line, true, nil
	}

	var tokens []string
	if len(rest) <= singleTokenWidth {
		tokens = []string{strings.Join(strings.Fields(rest), "")}
	} else {
		tokens = strings.Fields(rest)
	}

	line.Commands = make([]Command, 0, len(tokens))
	for _, tok := range tokens {
		c, err := ParseCommand(tok)
		if err != nil {
			return CommandLine{}, false, err
		}
		line.Commands = append(line.Commands, c)
	}
	return line, true, nil
}

// ParseTime parses [HH:]MM:SS[.f] into milliseconds. The hour field is present when
// the timestamp has two colons; the fraction is a decimal fraction of a second.
func ParseTime(text string) (uint32, error) {
	parts := strings.Split(text, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, text)
	}

	var hours, minutes uint64
	var err error
	if len(parts) == 3 {
		if hours, err = parseField(parts[0]); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, text)
		}
		parts = parts[1:]
	}
	if minutes, err = parseField(parts[0]); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, text)
	}

	secText, fracText, _ := strings.Cut(parts[1], ".")
	seconds, err := parseField(secText)
	if err != nil || seconds >= 60 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, text)
	}

	var fracMs uint64
	if fracText != "" {
		if !allDigits(fracText) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, text)
		}
		// Keep millisecond precision; longer fractions are truncated.
		digits := (fracText + "000")[:3]
		fracMs, _ = strconv.ParseUint(digits, 10, 32)
	}

	total := ((hours*60+minutes)*60+seconds)*1000 + fracMs
	if total > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTime, text)
	}
	return uint32(total), nil
}

// FormatTime renders milliseconds as MM:SS.T, or HH:MM:SS.T past the first hour.
// Times that are not whole tenths keep all three fraction digits.
func FormatTime(ms uint32) string {
	frac := ms % 1000
	secs := ms / 1000
	h, m, s := secs/3600, (secs/60)%60, secs%60

	fracText := fmt.Sprintf("%d", frac/100)
	if frac%100 != 0 {
		fracText = fmt.Sprintf("%03d", frac)
	}
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%s", h, m, s, fracText)
	}
	return fmt.Sprintf("%02d:%02d.%s", m, s, fracText)
}

func parseField(s string) (uint64, error) {
	if !allDigits(s) {
		return 0, ErrInvalidTime
	}
	return strconv.ParseUint(s, 10, 32)
}

// stripComments removes parenthesised authoring comments. An unclosed parenthesis
// comments out the rest of the line.
func stripComments(s string) string {
	if !strings.ContainsRune(s, '(') {
		return s
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
