package lighting

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is an RGB colour as authored in the palette.
type Color struct {
	R, G, B uint8
}

// Black is the release colour for locked overrides.
var Black = Color{}

// IsBlack reports whether all components are zero.
func (c Color) IsBlack() bool {
	return c == Black
}

// Hex returns the colour as RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("%02X%02X%02X", c.R, c.G, c.B)
}

func (c Color) String() string {
	return "#" + c.Hex()
}

// ParseHex parses up to six hex digits, left-padding short values ("FF" is blue).
func ParseHex(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" || len(s) > 6 {
		return Color{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// channelValue maps the colour onto one fixture channel. White and amber are
// derived from the shared component of the RGB value.
func (c Color) channelValue(t ChannelType) uint8 {
	switch t {
	case ChannelRed:
		return c.R
	case ChannelGreen:
		return c.G
	case ChannelBlue:
		return c.B
	case ChannelWhite:
		return min(c.R, c.G, c.B)
	case ChannelAmber:
		return min(c.R, c.G)
	default:
		return 0
	}
}
