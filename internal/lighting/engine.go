package lighting

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/clock"
)

// UniverseSize is the number of addressable bus channels (1..512).
const UniverseSize = 512

var (
	ErrChannelOverlap = errors.New("channel assigned to more than one light")
	ErrChannelRange   = errors.New("channel index out of range")
	ErrModuleOverlap  = errors.New("light assigned to more than one module")
	ErrUnknownLight   = errors.New("unknown light")
)

// ChannelConfig describes one channel of a light.
type ChannelConfig struct {
	Index      uint32
	Type       ChannelType
	Correction float64
}

// LightConfig describes a fixture.
type LightConfig struct {
	Number   uint32
	Name     string
	Channels []ChannelConfig
}

// ModuleKind selects how a module takes part in shifting and swapping.
type ModuleKind string

const (
	ModuleNumbered ModuleKind = "numbered"
	ModuleGroupA   ModuleKind = "a"
	ModuleGroupB   ModuleKind = "b"
	ModuleGroup    ModuleKind = "group"
)

// ModuleConfig is a named group of lights.
type ModuleConfig struct {
	Name   string
	Kind   ModuleKind
	Lights []uint32
}

// UniverseConfig is the full lighting installation.
type UniverseConfig struct {
	Lights  []LightConfig
	Modules []ModuleConfig
}

// Module is a named ordered group of lights.
type Module struct {
	Name   string
	Kind   ModuleKind
	Lights []*Light
}

// ChannelWriter receives bus values, e.g. a dmx.Session.
type ChannelWriter interface {
	SetChannel(index uint32, value uint8)
}

// Engine owns the lights, modules and shift/swap state of one universe. All
// methods are safe for concurrent use.
type Engine struct {
	mu    sync.Mutex
	clock clock.Clock

	lights   map[uint32]*Light
	order    []*Light
	owned    []uint32
	modules  []*Module
	numbered []*Module
	groupA   *Module
	groupB   *Module

	shift shiftState
	swap  swapState

	mapping      [UniverseSize + 1]int32
	identity     bool
	mappingDirty bool
	src          [UniverseSize + 1]uint8
}

// NewEngine validates cfg and builds the universe. Configuration errors are fatal.
func NewEngine(cfg UniverseConfig, clk clock.Clock) (*Engine, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{
		clock:        clk,
		lights:       make(map[uint32]*Light, len(cfg.Lights)),
		identity:     true,
		mappingDirty: true,
	}

	owner := make(map[uint32]uint32)
	for _, lc := range cfg.Lights {
		if lc.Number == 0 {
			return nil, fmt.Errorf("light number must be positive")
		}
		if _, dup := e.lights[lc.Number]; dup {
			return nil, fmt.Errorf("light %d defined twice", lc.Number)
		}
		channels := make([]Channel, 0, len(lc.Channels))
		for _, cc := range lc.Channels {
			if cc.Index < 1 || cc.Index > UniverseSize {
				return nil, fmt.Errorf("light %d channel %d: %w", lc.Number, cc.Index, ErrChannelRange)
			}
			if prev, taken := owner[cc.Index]; taken {
				return nil, fmt.Errorf("channel %d (lights %d and %d): %w", cc.Index, prev, lc.Number, ErrChannelOverlap)
			}
			owner[cc.Index] = lc.Number
			channels = append(channels, newChannel(cc.Index, cc.Type, cc.Correction))
			e.owned = append(e.owned, cc.Index)
		}
		l := newLight(lc.Number, lc.Name, channels)
		l.regenerate()
		e.lights[lc.Number] = l
		e.order = append(e.order, l)
	}
	sort.Slice(e.order, func(i, j int) bool { return e.order[i].Number < e.order[j].Number })
	sort.Slice(e.owned, func(i, j int) bool { return e.owned[i] < e.owned[j] })

	numberedOwner := make(map[uint32]string)
	groupOwner := make(map[uint32]string)
	for _, mc := range cfg.Modules {
		kind := mc.Kind
		if kind == "" {
			kind = ModuleNumbered
		}
		m := &Module{Name: mc.Name, Kind: kind}
		for _, n := range mc.Lights {
			l, ok := e.lights[n]
			if !ok {
				return nil, fmt.Errorf("module %q light %d: %w", mc.Name, n, ErrUnknownLight)
			}
			switch kind {
			case ModuleNumbered:
				if prev, taken := numberedOwner[n]; taken {
					return nil, fmt.Errorf("light %d in modules %q and %q: %w", n, prev, mc.Name, ErrModuleOverlap)
				}
				numberedOwner[n] = mc.Name
			case ModuleGroupA, ModuleGroupB:
				if prev, taken := groupOwner[n]; taken {
					return nil, fmt.Errorf("light %d in groups %q and %q: %w", n, prev, mc.Name, ErrModuleOverlap)
				}
				groupOwner[n] = mc.Name
			}
			m.Lights = append(m.Lights, l)
		}

		switch kind {
		case ModuleNumbered:
			e.numbered = append(e.numbered, m)
		case ModuleGroupA:
			if e.groupA != nil {
				return nil, fmt.Errorf("module group A defined twice")
			}
			e.groupA = m
		case ModuleGroupB:
			if e.groupB != nil {
				return nil, fmt.Errorf("module group B defined twice")
			}
			e.groupB = m
		case ModuleGroup:
		default:
			return nil, fmt.Errorf("module %q: unknown kind %q", mc.Name, kind)
		}
		e.modules = append(e.modules, m)
	}

	log.Debug().
		Int("lights", len(e.order)).
		Int("channels", len(e.owned)).
		Int("modules", len(e.numbered)).
		Msg("Lighting universe built")
	return e, nil
}

// Lights returns every light ordered by number.
func (e *Engine) Lights() []*Light {
	return e.order
}

// Modules returns every configured module in configuration order.
func (e *Engine) Modules() []*Module {
	return e.modules
}

func (e *Engine) light(n uint32) (*Light, error) {
	l, ok := e.lights[n]
	if !ok {
		return nil, fmt.Errorf("light %d: %w", n, ErrUnknownLight)
	}
	return l, nil
}

// SetColor writes colour and intensity to a light. With lock the locked state
// is written and becomes active; a locked write of black releases the lock.
func (e *Engine) SetColor(n uint32, intensity float64, c Color, lock bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, err := e.light(n)
	if err != nil {
		return err
	}
	st := &l.states[stateUnlocked]
	if lock {
		l.locked = true
		st = &l.states[stateLocked]
	}
	st.setColor(c, intensity)
	if lock && c.IsBlack() {
		l.locked = false
	}
	l.regenerate()
	return nil
}

// Fade eases a light to colour and intensity over d. A locked fade to black
// releases the lock when the fade completes.
func (e *Engine) Fade(n uint32, intensity float64, c Color, lock bool, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, err := e.light(n)
	if err != nil {
		return err
	}
	st := &l.states[stateUnlocked]
	if lock {
		l.locked = true
		st = &l.states[stateLocked]
	}
	st.fade(c, intensity, d, e.clock.Now())
	st.unlockOnDone = lock && c.IsBlack()
	l.regenerate()
	return nil
}

// SetRaw writes v to the Raw/DMX channels of the light's active state.
func (e *Engine) SetRaw(n uint32, v uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, err := e.light(n)
	if err != nil {
		return err
	}
	l.active().setRaw(v)
	l.regenerate()
	return nil
}

// Unlock releases a (non-firm) lock.
func (e *Engine) Unlock(n uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, err := e.light(n)
	if err != nil {
		return err
	}
	l.locked = false
	l.regenerate()
	return nil
}

// SetFirmLock sets or clears the firm lock. A firm lock keeps the locked
// state active regardless of the ordinary lock flag.
func (e *Engine) SetFirmLock(n uint32, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, err := e.light(n)
	if err != nil {
		return err
	}
	l.firmlyLocked = on
	l.regenerate()
	return nil
}

// Refresh advances every fade in both states of every light and the shift timer.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	for _, l := range e.order {
		l.refresh(now)
	}
	e.tickShift(now)
}

// Reset blacks out every light, clears locks and cancels shift and swap.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, l := range e.order {
		l.states[stateUnlocked].clear()
		l.states[stateLocked].clear()
		l.locked = false
		l.firmlyLocked = false
		l.regenerate()
	}
	e.shift = shiftState{}
	e.swap = swapState{}
	e.mappingDirty = true
}

// WriteFrame computes every owned bus channel and hands it to w, applying the
// current shift and swap redirection.
func (e *Engine) WriteFrame(w ChannelWriter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, l := range e.order {
		st := l.active()
		k := st.intensity.Current()
		for i := range st.channels {
			ch := &st.channels[i]
			e.src[ch.Index] = ch.busValue(k)
		}
	}

	if e.mappingDirty {
		e.rebuildMapping()
	}
	for _, c := range e.owned {
		if e.identity {
			w.SetChannel(c, e.src[c])
			continue
		}
		m := e.mapping[c]
		if m < 0 {
			w.SetChannel(c, 0)
			continue
		}
		w.SetChannel(c, e.src[m])
	}
}

// LightSnapshot is the monitoring view of one light.
type LightSnapshot struct {
	Number       uint32  `json:"number"`
	Name         string  `json:"name,omitempty"`
	Color        string  `json:"color"`
	Intensity    float64 `json:"intensity"`
	Locked       bool    `json:"locked"`
	FirmlyLocked bool    `json:"firmly_locked"`
}

// Snapshot captures the displayed state of every light.
type Snapshot struct {
	Lights   []LightSnapshot `json:"lights"`
	Shifting bool            `json:"shifting"`
	Shifts   int             `json:"shifts"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Lights:   make([]LightSnapshot, 0, len(e.order)),
		Shifting: e.shift.active,
		Shifts:   e.shift.shifts,
	}
	for _, l := range e.order {
		s.Lights = append(s.Lights, LightSnapshot{
			Number:       l.Number,
			Name:         l.Name,
			Color:        l.color.Hex(),
			Intensity:    l.Intensity(),
			Locked:       l.locked,
			FirmlyLocked: l.firmlyLocked,
		})
	}
	return s
}
