package lighting

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNoModuleGroups = errors.New("module groups A and B are not configured")

type shiftState struct {
	active   bool
	rotate   bool
	right    bool
	shifts   int
	interval time.Duration
	last     time.Time
}

func (s *shiftState) step(n int) {
	if n == 0 {
		return
	}
	if s.right {
		s.shifts++
	} else {
		s.shifts--
	}
	s.shifts = ((s.shifts % n) + n) % n
}

// source returns the module whose lights target module t displays, and false
// when the target has nothing to show because its source fell off the end.
func (s *shiftState) source(t, n int) (int, bool) {
	src := ((t-s.shifts)%n + n) % n
	if s.rotate || s.shifts == 0 {
		return src, true
	}
	if s.right {
		return src, t >= s.shifts
	}
	return src, t < s.shifts
}

type swapState struct {
	aToB bool
	bToA bool
}

// BeginShift moves every numbered module one step in the given direction.
// Without rotate, modules shifted past the end go dark instead of wrapping.
func (e *Engine) BeginShift(right, rotate bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.shift.active = true
	e.shift.right = right
	e.shift.rotate = rotate
	e.shift.step(len(e.numbered))
	e.shift.last = e.clock.Now()
	e.mappingDirty = true

	log.Debug().
		Bool("right", right).
		Bool("rotate", rotate).
		Int("shifts", e.shift.shifts).
		Msg("Module shift")
}

// EndShift returns every module to its home position.
func (e *Engine) EndShift() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.shift.active = false
	e.shift.shifts = 0
	e.mappingDirty = true
}

// SetShiftInterval repeats the last shift every d while shifting; zero disables it.
func (e *Engine) SetShiftInterval(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d < 0 {
		d = 0
	}
	e.shift.interval = d
	e.shift.last = e.clock.Now()
}

// Shifts returns the current wrapped shift count.
func (e *Engine) Shifts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shift.shifts
}

func (e *Engine) tickShift(now time.Time) {
	s := &e.shift
	if !s.active || s.interval <= 0 || now.Sub(s.last) < s.interval {
		return
	}
	s.step(len(e.numbered))
	s.last = now
	e.mappingDirty = true
}

// SwapModuleGroups mirrors group A onto B, B onto A, both (a swap) or neither.
func (e *Engine) SwapModuleGroups(aToB, bToA bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if (aToB || bToA) && (e.groupA == nil || e.groupB == nil) {
		return ErrNoModuleGroups
	}
	e.swap = swapState{aToB: aToB, bToA: bToA}
	e.mappingDirty = true
	return nil
}

// ShiftSource reports which bus channel currently feeds channel c and whether
// it is lit at all.
func (e *Engine) ShiftSource(c uint32) (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c > UniverseSize {
		return c, false
	}
	if e.mappingDirty {
		e.rebuildMapping()
	}
	m := e.mapping[c]
	if m < 0 {
		return 0, false
	}
	return uint32(m), true
}

type channelMap [UniverseSize + 1]int32

func identityMap() channelMap {
	var m channelMap
	for i := range m {
		m[i] = int32(i)
	}
	return m
}

// pull points every channel of dst at the matching channel of src. Extra
// target lights repeat the middle source light; extra target channels go dark.
func (m *channelMap) pull(src, dst *Module) {
	for p, dl := range dst.Lights {
		dch := dl.states[stateUnlocked].channels
		if len(src.Lights) == 0 {
			for k := range dch {
				m[dch[k].Index] = -1
			}
			continue
		}
		sl := src.Lights[len(src.Lights)/2]
		if p < len(src.Lights) {
			sl = src.Lights[p]
		}
		sch := sl.states[stateUnlocked].channels
		for k := range dch {
			if k < len(sch) {
				m[dch[k].Index] = int32(sch[k].Index)
			} else {
				m[dch[k].Index] = -1
			}
		}
	}
}

func (m *channelMap) dark(mod *Module) {
	for _, l := range mod.Lights {
		for _, ch := range l.states[stateUnlocked].channels {
			m[ch.Index] = -1
		}
	}
}

func (e *Engine) rebuildMapping() {
	shifted := identityMap()
	if n := len(e.numbered); n > 0 && e.shift.shifts != 0 {
		for t := 0; t < n; t++ {
			s, ok := e.shift.source(t, n)
			if !ok {
				shifted.dark(e.numbered[t])
				continue
			}
			shifted.pull(e.numbered[s], e.numbered[t])
		}
	}

	swapped := identityMap()
	if e.groupA != nil && e.groupB != nil {
		if e.swap.aToB {
			swapped.pull(e.groupA, e.groupB)
		}
		if e.swap.bToA {
			swapped.pull(e.groupB, e.groupA)
		}
	}

	e.identity = true
	for c := range e.mapping {
		v := swapped[c]
		if v >= 0 {
			v = shifted[v]
		}
		e.mapping[c] = v
		if v != int32(c) {
			e.identity = false
		}
	}
	e.mappingDirty = false
}
