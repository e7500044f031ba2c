// Package palette loads the indexed colour table that light commands refer to.
package palette

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/lighting"
)

// Entry is one palette row.
type Entry struct {
	Index       uint32
	Color       lighting.Color
	Description string
}

// Palette maps colour indices to RGB values.
type Palette struct {
	entries map[uint32]Entry
	curtain map[uint32]lighting.Color
	voice   *lighting.Color
}

// New builds a palette from entries, locating the curtain and voice colours
// from their descriptions.
func New(entries ...Entry) *Palette {
	p := &Palette{
		entries: make(map[uint32]Entry, len(entries)),
		curtain: make(map[uint32]lighting.Color),
	}
	for _, e := range entries {
		p.entries[e.Index] = e
		desc := strings.ToUpper(e.Description)
		switch {
		case strings.Contains(desc, "CURTAIN"):
			for _, code := range []uint32{16, 32, 48} {
				if strings.Contains(desc, strconv.Itoa(int(code))) {
					p.curtain[code] = e.Color
				}
			}
		case strings.Contains(desc, "VOICE"):
			c := e.Color
			p.voice = &c
		}
	}
	return p
}

// Lookup resolves a colour index. Index 0 is black unless the table says otherwise.
func (p *Palette) Lookup(index uint32) (lighting.Color, bool) {
	if p != nil {
		if e, ok := p.entries[index]; ok {
			return e.Color, true
		}
	}
	if index == 0 {
		return lighting.Black, true
	}
	return lighting.Color{}, false
}

// Curtain returns the curtain colour for a curtain code (16, 32 or 48).
func (p *Palette) Curtain(code uint32) (lighting.Color, bool) {
	if p == nil {
		return lighting.Color{}, false
	}
	c, ok := p.curtain[code]
	return c, ok
}

// Voice returns the colour used for voice announcements.
func (p *Palette) Voice() (lighting.Color, bool) {
	if p == nil || p.voice == nil {
		return lighting.Color{}, false
	}
	return *p.voice, true
}

// Len returns the number of entries.
func (p *Palette) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// LoadCSV reads a palette table from path.
func LoadCSV(path string) (*Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open palette: %w", err)
	}
	defer f.Close()

	p, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().Str("path", path).Int("colors", p.Len()).Msg("Palette loaded")
	return p, nil
}

// Read parses "index, hex, description" rows. Rows whose first cell is not a
// number (headers, blanks) are ignored.
func Read(r io.Reader) (*Palette, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entries []Entry
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read palette: %w", err)
		}
		line++
		if len(rec) < 2 {
			continue
		}
		idx, err := strconv.ParseUint(strings.TrimSpace(rec[0]), 10, 32)
		if err != nil {
			continue
		}
		c, err := lighting.ParseHex(rec[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		e := Entry{Index: uint32(idx), Color: c}
		if len(rec) > 2 {
			e.Description = strings.TrimSpace(rec[2])
		}
		entries = append(entries, e)
	}
	return New(entries...), nil
}
