package lighting

import (
	"fmt"
	"strings"
)

// ChannelType identifies what a fixture channel controls.
type ChannelType int

const (
	ChannelUndefined ChannelType = iota
	ChannelRed
	ChannelGreen
	ChannelBlue
	ChannelAmber
	ChannelWhite
	ChannelRaw
	ChannelDMX
)

var channelTypeNames = map[ChannelType]string{
	ChannelUndefined: "undefined",
	ChannelRed:       "red",
	ChannelGreen:     "green",
	ChannelBlue:      "blue",
	ChannelAmber:     "amber",
	ChannelWhite:     "white",
	ChannelRaw:       "raw",
	ChannelDMX:       "dmx",
}

func (t ChannelType) String() string {
	if s, ok := channelTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ChannelType(%d)", int(t))
}

// IsRaw reports whether the channel bypasses colour, correction and intensity.
func (t ChannelType) IsRaw() bool {
	return t == ChannelRaw || t == ChannelDMX
}

// ParseChannelType accepts the names above and their first letter (r, g, b, a, w).
func ParseChannelType(s string) (ChannelType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range channelTypeNames {
		if s == name {
			return t, nil
		}
	}
	switch s {
	case "r":
		return ChannelRed, nil
	case "g":
		return ChannelGreen, nil
	case "b":
		return ChannelBlue, nil
	case "a":
		return ChannelAmber, nil
	case "w":
		return ChannelWhite, nil
	}
	return ChannelUndefined, fmt.Errorf("unknown channel type %q", s)
}

// Channel is one bus slot owned by a light.
type Channel struct {
	Index      uint32
	Type       ChannelType
	Correction float64
	Value      FadeableValue[uint8]
}

func newChannel(index uint32, t ChannelType, correction float64) Channel {
	if correction <= 0 {
		correction = 1
	}
	return Channel{
		Index:      index,
		Type:       t,
		Correction: correction,
		Value:      NewFadeableValue[uint8](0, 255),
	}
}

// corrected applies the per-channel correction factor, clamped to a byte range.
func (c *Channel) corrected() float64 {
	v := float64(c.Value.Current()) * c.Correction
	if v > 255 {
		return 255
	}
	return v
}

// busValue is the byte written to the lighting bus. Colour channels are
// linearised by the square of the intensity; raw channels pass through.
func (c *Channel) busValue(intensity float64) uint8 {
	if c.Type.IsRaw() {
		return c.Value.Current()
	}
	return roundToByte(c.corrected() * intensity * intensity)
}
