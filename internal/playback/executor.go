package playback

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/command"
	"github.com/dokzlo13/fountaind/internal/fcw"
	"github.com/dokzlo13/fountaind/internal/lighting"
	"github.com/dokzlo13/fountaind/internal/palette"
	"github.com/dokzlo13/fountaind/internal/telemetry"
)

// FadeUnit is the time step of a fade command's data field.
const FadeUnit = 100 * time.Millisecond

// Water receives water commands. *control.Client implements it.
type Water interface {
	Enqueue(tokens ...string)
	Kick()
}

// OverrideMode selects a fixed colour mapping for an address.
type OverrideMode string

const (
	// OverrideVoice turns the voice colour on (any non-zero data) or off, under a firm lock.
	OverrideVoice OverrideMode = "voice"
	// OverrideCurtain maps curtain codes 16, 32 and 48 to their palette entries.
	OverrideCurtain OverrideMode = "curtain"
)

// Warning is a non-fatal problem found while executing a command.
type Warning struct {
	Command string
	Message string
}

func (w Warning) Error() string {
	if w.Command == "" {
		return w.Message
	}
	return w.Command + ": " + w.Message
}

// SpecialFunc handles a special address.
type SpecialFunc func(e *lighting.Engine, c command.Command) error

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Registry  *fcw.Registry
	Palette   *palette.Palette
	Engine    *lighting.Engine
	Water     Water
	Overrides map[uint32]OverrideMode
	Metrics   *telemetry.Metrics
	OnWarning func(Warning)
}

// Executor applies command batches to the lighting engine and the water queue.
type Executor struct {
	registry  *fcw.Registry
	palette   *palette.Palette
	engine    *lighting.Engine
	water     Water
	overrides map[uint32]OverrideMode
	specials  map[fcw.Special]SpecialFunc
	metrics   *telemetry.Metrics
	onWarning func(Warning)
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		registry:  cfg.Registry,
		palette:   cfg.Palette,
		engine:    cfg.Engine,
		water:     cfg.Water,
		overrides: cfg.Overrides,
		metrics:   cfg.Metrics,
		onWarning: cfg.OnWarning,
		specials: map[fcw.Special]SpecialFunc{
			fcw.SpecialModuleSwap: moduleSwap,
			fcw.SpecialShift:      shift,
			fcw.SpecialShiftTimer: shiftTimer,
			fcw.SpecialReset:      reset,
			SpecialUnlockAll:      unlockAll,
		},
	}
	return e
}

// RegisterSpecial adds or replaces the handler for a special tag.
func (e *Executor) RegisterSpecial(tag fcw.Special, fn SpecialFunc) {
	e.specials[tag] = fn
}

// HasSpecial reports whether a handler exists for tag.
func (e *Executor) HasSpecial(tag fcw.Special) bool {
	_, ok := e.specials[tag]
	return ok
}

// SetWarningHandler replaces the warning callback. Call it before playback starts.
func (e *Executor) SetWarningHandler(fn func(Warning)) { e.onWarning = fn }

// Execute runs one batch in order. A failing command is reported as a warning
// and does not stop the rest of the batch. It returns the number of commands
// consumed and warnings raised.
func (e *Executor) Execute(cmds []command.Command) (executed, warnings int) {
	for i := 0; i < len(cmds); i++ {
		extra, err := e.safeExecute(cmds, i)
		if err != nil {
			warnings++
			e.warn(cmds[i], err)
		}
		executed += 1 + extra
		i += extra
	}
	if e.water != nil {
		e.water.Kick()
	}
	return executed, warnings
}

func (e *Executor) safeExecute(cmds []command.Command, i int) (extra int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.execute(cmds, i)
}

func (e *Executor) execute(cmds []command.Command, i int) (int, error) {
	c := cmds[i]
	entry, ok := e.registry.Lookup(c.Address)
	if !ok {
		e.metrics.Command("unknown")
		e.enqueueWater(c)
		return 0, fmt.Errorf("unknown address %03d, passed through as water", c.Address)
	}

	if entry.Kind.Has(fcw.KindSpecial) {
		e.metrics.Command("special")
		return 0, e.special(entry, c)
	}
	if entry.Kind.Has(fcw.KindWater) {
		e.metrics.Command("water")
		e.enqueueWater(c)
	}
	if !entry.Kind.Has(fcw.KindLight) {
		return 0, nil
	}

	e.metrics.Command("light")
	switch entry.Role {
	case fcw.RoleFade:
		return e.fade(cmds, i, entry)
	case fcw.RoleSpecialDMX:
		if c.Data > 255 {
			return 0, fmt.Errorf("dmx value %d out of range 0-255", c.Data)
		}
		return 0, e.eachLight(entry, func(n uint32) error {
			return e.engine.SetRaw(n, uint8(c.Data))
		})
	case fcw.RoleTurnOnOff, fcw.RoleNone:
		t, err := e.resolve(c, entry)
		if err != nil {
			return 0, err
		}
		return 0, e.turnOnOff(entry, t)
	default:
		return 0, fmt.Errorf("unsupported light role %q", entry.Role)
	}
}

// fade pairs a fade command with the command that follows it, which names the
// target colour. The pair is skipped when the follower is missing or drives a
// different set of lights.
func (e *Executor) fade(cmds []command.Command, i int, entry fcw.FCW) (int, error) {
	if i+1 >= len(cmds) {
		return 0, fmt.Errorf("fade without a target colour command")
	}
	next := cmds[i+1]
	target, ok := e.registry.Lookup(next.Address)
	if !ok || !entry.SameLights(target) {
		return 1, fmt.Errorf("fade target %s does not drive the same lights", next)
	}

	t, err := e.resolve(next, target)
	if err != nil {
		return 1, err
	}
	if target.Kind.Has(fcw.KindWater) {
		e.enqueueWater(next)
	}

	d := time.Duration(cmds[i].Data) * FadeUnit
	return 1, e.eachLight(target, func(n uint32) error {
		return e.engine.Fade(n, t.intensity, t.color, t.lock, d)
	})
}

func (e *Executor) turnOnOff(entry fcw.FCW, t target) error {
	raw := uint8(0)
	if !t.color.IsBlack() {
		raw = uint8(t.intensity*255 + 0.5)
	}
	return e.eachLight(entry, func(n uint32) error {
		if t.firm == firmSet {
			if err := e.engine.SetFirmLock(n, true); err != nil {
				return err
			}
		}
		if err := e.engine.SetColor(n, t.intensity, t.color, t.lock); err != nil {
			return err
		}
		if err := e.engine.SetRaw(n, raw); err != nil {
			return err
		}
		if t.firm == firmClear {
			return e.engine.SetFirmLock(n, false)
		}
		return nil
	})
}

func (e *Executor) eachLight(entry fcw.FCW, fn func(n uint32) error) error {
	for _, n := range entry.Lights {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) enqueueWater(c command.Command) {
	if e.water != nil {
		e.water.Enqueue(c.String())
	}
}

func (e *Executor) special(entry fcw.FCW, c command.Command) error {
	fn, ok := e.specials[entry.Special]
	if !ok {
		return fmt.Errorf("no handler for special %q", entry.Special)
	}
	log.Debug().
		Str("command", c.String()).
		Str("special", string(entry.Special)).
		Msg("Special command")
	return fn(e.engine, c)
}

func (e *Executor) warn(c command.Command, err error) {
	w := Warning{Command: c.String(), Message: err.Error()}
	log.Warn().Err(err).Str("command", w.Command).Msg("Command skipped")
	e.metrics.Warning()
	if e.onWarning != nil {
		e.onWarning(w)
	}
}
