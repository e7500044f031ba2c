package playback

import (
	"fmt"

	"github.com/dokzlo13/fountaind/internal/command"
	"github.com/dokzlo13/fountaind/internal/fcw"
	"github.com/dokzlo13/fountaind/internal/lighting"
)

type firmAction int

const (
	firmKeep firmAction = iota
	firmSet
	firmClear
)

type target struct {
	color     lighting.Color
	intensity float64
	lock      bool
	firm      firmAction
}

// Intensity decodes the intensity digits of a colour command: the hundreds
// and above, in tenths. Zero means full intensity; off is colour index 0.
func Intensity(data uint32) float64 {
	k := float64(data/100) / 10
	if k == 0 || k > 1 {
		return 1
	}
	return k
}

// ColorIndex decodes the palette index of a colour command.
func ColorIndex(data uint32) uint32 {
	return data % 100
}

// resolve turns a light command into colour, intensity and lock. Commands
// addressing a single light always lock, so they take precedence over group
// commands covering the same light.
func (e *Executor) resolve(c command.Command, entry fcw.FCW) (target, error) {
	lock := len(entry.Lights) == 1

	if mode, ok := e.overrides[c.Address]; ok {
		return e.resolveOverride(mode, c)
	}

	if c.IsHexColor {
		r, g, b := c.RGB()
		return target{color: lighting.Color{R: r, G: g, B: b}, intensity: 1, lock: lock}, nil
	}

	idx := ColorIndex(c.Data)
	col, ok := e.palette.Lookup(idx)
	if !ok {
		return target{}, fmt.Errorf("colour index %d not in palette", idx)
	}
	return target{color: col, intensity: Intensity(c.Data), lock: lock}, nil
}

func (e *Executor) resolveOverride(mode OverrideMode, c command.Command) (target, error) {
	switch mode {
	case OverrideVoice:
		if c.Data == 0 {
			return target{color: lighting.Black, intensity: 1, lock: true, firm: firmClear}, nil
		}
		col, ok := e.palette.Voice()
		if !ok {
			return target{}, fmt.Errorf("palette has no voice colour")
		}
		return target{color: col, intensity: 1, lock: true, firm: firmSet}, nil

	case OverrideCurtain:
		if c.Data == 0 {
			return target{color: lighting.Black, intensity: 1, lock: true}, nil
		}
		col, ok := e.palette.Curtain(c.Data)
		if !ok {
			return target{}, fmt.Errorf("no curtain colour for code %d", c.Data)
		}
		return target{color: col, intensity: 1, lock: true}, nil

	default:
		return target{}, fmt.Errorf("unknown colour override %q", mode)
	}
}
