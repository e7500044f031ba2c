package fcw

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoHeader is returned when no row of the table names an address column.
	ErrNoHeader = errors.New("fcw table has no header row")
	// ErrReservedAddress is returned when an alias targets a reserved control address.
	ErrReservedAddress = errors.New("address is reserved")
)

// Registry is a sparse address → FCW table. Missing entries are legal.
type Registry struct {
	entries  map[uint32]FCW
	reserved map[uint32]bool
}

// NewRegistry creates a registry from explicit entries, mostly for tests.
func NewRegistry(entries ...FCW) *Registry {
	r := &Registry{entries: make(map[uint32]FCW, len(entries))}
	for _, e := range entries {
		r.entries[e.Address] = e
	}
	return r
}

// Lookup returns the entry for address. Callers treat a miss as a water-only
// passthrough, never as fatal.
func (r *Registry) Lookup(address uint32) (FCW, bool) {
	if r == nil {
		return FCW{}, false
	}
	e, ok := r.entries[address]
	return e, ok
}

// Len returns the number of defined addresses.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Addresses returns all defined addresses in ascending order.
func (r *Registry) Addresses() []uint32 {
	out := make([]uint32, 0, len(r.entries))
	for a := range r.entries {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetReserved force-writes reserved control addresses, replacing any user
// definition at the same address. Reserved addresses cannot be aliased later.
func (r *Registry) SetReserved(reserved map[uint32]Special) {
	if r.reserved == nil {
		r.reserved = make(map[uint32]bool, len(reserved))
	}
	for addr, action := range reserved {
		r.putSpecial(addr, action, "Reserved address overrides table definition")
		r.reserved[addr] = true
	}
}

// Reserved reports whether address is a reserved control address.
func (r *Registry) Reserved(address uint32) bool {
	return r.reserved[address]
}

// Alias turns addresses into special commands on top of the table. Nothing is
// written if any address is reserved.
func (r *Registry) Alias(aliases map[uint32]Special) error {
	addrs := make([]uint32, 0, len(aliases))
	for addr := range aliases {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, addr := range addrs {
		if r.reserved[addr] {
			return fmt.Errorf("alias %03d to %q: %w as %q", addr, aliases[addr], ErrReservedAddress, r.entries[addr].Special)
		}
	}
	for _, addr := range addrs {
		r.putSpecial(addr, aliases[addr], "Special alias overrides table definition")
	}
	return nil
}

func (r *Registry) putSpecial(addr uint32, action Special, overrideMsg string) {
	if prev, ok := r.entries[addr]; ok && !prev.Kind.Has(KindSpecial) {
		log.Warn().
			Uint32("address", addr).
			Str("special", string(action)).
			Msg(overrideMsg)
	}
	r.entries[addr] = FCW{Address: addr, Kind: KindSpecial, Special: action}
}

type tableLayout struct {
	headerRow  int
	addressCol int
	waterCol   int
	lightCols  map[int]uint32 // column -> light number
}

// Build creates a registry from tabular rows. The header row is the first row with
// an ADDRESS (or FCW) cell; numeric headers such as "5", "L5" or "LIGHT 5" name
// light columns and a WATER header names the water column. Reserved addresses are
// written after all rows and always win.
func Build(rows [][]string, reserved map[uint32]Special) (*Registry, error) {
	layout, err := findLayout(rows)
	if err != nil {
		return nil, err
	}

	r := &Registry{entries: make(map[uint32]FCW)}
	for i := layout.headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		addrText := cell(row, layout.addressCol)
		if addrText == "" {
			continue
		}
		addr, err := strconv.ParseUint(addrText, 10, 32)
		if err != nil {
			log.Warn().Int("row", i+1).Str("address", addrText).Msg("Skipping FCW row with invalid address")
			continue
		}

		entry := FCW{Address: uint32(addr)}
		if layout.waterCol >= 0 && cell(row, layout.waterCol) != "" {
			entry.Kind |= KindWater
		}

		var firstLightCell string
		for _, col := range sortedCols(layout.lightCols) {
			text := cell(row, col)
			if text == "" {
				continue
			}
			if len(entry.Lights) == 0 {
				firstLightCell = text
			}
			entry.Lights = append(entry.Lights, layout.lightCols[col])
			entry.Kind |= KindLight
		}
		if len(entry.Lights) > 0 {
			entry.Role = roleFromCell(firstLightCell)
		}

		if _, dup := r.entries[entry.Address]; dup {
			log.Warn().Uint32("address", entry.Address).Int("row", i+1).Msg("Duplicate FCW address, later row wins")
		}
		r.entries[entry.Address] = entry
	}

	r.SetReserved(reserved)
	return r, nil
}

// LoadCSV reads an FCW table from a CSV file.
func LoadCSV(path string, reserved map[uint32]Special) (*Registry, error) {
	rows, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	reg, err := Build(rows, reserved)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().Str("path", path).Int("addresses", reg.Len()).Msg("Loaded FCW table")
	return reg, nil
}

// ReadTable reads all rows of a CSV file, tolerating ragged rows.
func ReadTable(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()
	return readRows(f)
}

func readRows(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	return rows, nil
}

func findLayout(rows [][]string) (tableLayout, error) {
	for i, row := range rows {
		layout := tableLayout{headerRow: i, addressCol: -1, waterCol: -1, lightCols: map[int]uint32{}}
		for col, raw := range row {
			text := strings.ToUpper(strings.TrimSpace(raw))
			switch {
			case text == "ADDRESS" || text == "FCW" || text == "ADDR":
				if layout.addressCol < 0 {
					layout.addressCol = col
				}
			case text == "WATER":
				layout.waterCol = col
			default:
				if n, ok := lightHeader(text); ok {
					layout.lightCols[col] = n
				}
			}
		}
		if layout.addressCol >= 0 {
			return layout, nil
		}
	}
	return tableLayout{}, ErrNoHeader
}

// lightHeader recognises "5", "L5", "L 5" and "LIGHT 5".
func lightHeader(text string) (uint32, bool) {
	text = strings.TrimPrefix(text, "LIGHT")
	text = strings.TrimPrefix(text, "L")
	text = strings.TrimSpace(text)
	n, err := strconv.ParseUint(text, 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint32(n), true
}

func roleFromCell(text string) Role {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "F"):
		return RoleFade
	case strings.Contains(upper, "D"):
		return RoleSpecialDMX
	default:
		return RoleTurnOnOff
	}
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func sortedCols(m map[int]uint32) []int {
	cols := make([]int, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}
