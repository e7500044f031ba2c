package lighting

import "time"

const (
	stateUnlocked = iota
	stateLocked
)

type lightState struct {
	channels  []Channel
	intensity FadeableValue[float64]
	// unlockOnDone releases the lock once a fade to black completes.
	unlockOnDone bool
}

func newLightState(channels []Channel) lightState {
	st := lightState{
		channels:  make([]Channel, len(channels)),
		intensity: NewFadeableValue[float64](0, 1),
	}
	copy(st.channels, channels)
	st.intensity.Set(1)
	return st
}

func (s *lightState) setColor(c Color, intensity float64) {
	for i := range s.channels {
		ch := &s.channels[i]
		if ch.Type.IsRaw() {
			continue
		}
		ch.Value.Set(c.channelValue(ch.Type))
	}
	s.intensity.Set(intensity)
	s.unlockOnDone = false
}

func (s *lightState) fade(c Color, intensity float64, d time.Duration, now time.Time) {
	for i := range s.channels {
		ch := &s.channels[i]
		if ch.Type.IsRaw() {
			continue
		}
		ch.Value.Fade(c.channelValue(ch.Type), d, now)
	}
	s.intensity.Fade(intensity, d, now)
}

func (s *lightState) setRaw(v uint8) {
	for i := range s.channels {
		if s.channels[i].Type.IsRaw() {
			s.channels[i].Value.Set(v)
		}
	}
}

func (s *lightState) clear() {
	for i := range s.channels {
		s.channels[i].Value.Set(0)
	}
	s.intensity.Set(1)
	s.unlockOnDone = false
}

func (s *lightState) fading() bool {
	if s.intensity.Fading() {
		return true
	}
	for i := range s.channels {
		if s.channels[i].Value.Fading() {
			return true
		}
	}
	return false
}

// refresh advances every fade in the state and reports any boundary event.
func (s *lightState) refresh(now time.Time) bool {
	boundary := s.intensity.Refresh(now, Linear)
	for i := range s.channels {
		if s.channels[i].Value.Refresh(now, EaseInQuad) {
			boundary = true
		}
	}
	return boundary
}

// displayColor is the colour a monitor should show for this state.
func (s *lightState) displayColor() Color {
	var r, g, b, w float64
	var hasRGB bool
	for i := range s.channels {
		ch := &s.channels[i]
		v := float64(ch.Value.Current())
		switch ch.Type {
		case ChannelRed:
			r, hasRGB = v, true
		case ChannelGreen:
			g, hasRGB = v, true
		case ChannelBlue:
			b, hasRGB = v, true
		case ChannelWhite:
			w = v
		}
	}
	if !hasRGB {
		r, g, b = w, w, w
	}
	k := s.intensity.Current()
	return Color{R: roundToByte(r * k), G: roundToByte(g * k), B: roundToByte(b * k)}
}

// Light is a fixture with an unlocked (choreography) state and a locked
// (override) state. The active state is the locked one while locked or
// firmly locked; both are refreshed every tick.
type Light struct {
	Number uint32
	Name   string

	states       [2]lightState
	locked       bool
	firmlyLocked bool
	color        Color
}

func newLight(number uint32, name string, channels []Channel) *Light {
	return &Light{
		Number: number,
		Name:   name,
		states: [2]lightState{newLightState(channels), newLightState(channels)},
	}
}

func (l *Light) active() *lightState {
	if l.locked || l.firmlyLocked {
		return &l.states[stateLocked]
	}
	return &l.states[stateUnlocked]
}

func (l *Light) Locked() bool       { return l.locked }
func (l *Light) FirmlyLocked() bool { return l.firmlyLocked }

// Color returns the cached display colour.
func (l *Light) Color() Color { return l.color }

// Intensity returns the active state's current intensity.
func (l *Light) Intensity() float64 { return l.active().intensity.Current() }

// Channels returns the active state's channels.
func (l *Light) Channels() []Channel { return l.active().channels }

func (l *Light) regenerate() {
	l.color = l.active().displayColor()
}

func (l *Light) refresh(now time.Time) {
	boundary := l.states[stateUnlocked].refresh(now)
	lockedBoundary := l.states[stateLocked].refresh(now)

	ls := &l.states[stateLocked]
	if l.locked && ls.unlockOnDone && !ls.fading() {
		ls.unlockOnDone = false
		l.locked = false
		lockedBoundary = true
	}
	if boundary || lockedBoundary {
		l.regenerate()
	}
}
