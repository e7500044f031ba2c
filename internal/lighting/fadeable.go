package lighting

import (
	"math"
	"time"
)

// Number is the set of value types a FadeableValue can hold.
type Number interface {
	uint8 | float64
}

// Easing maps linear fade progress t in [0,1] to curve progress.
type Easing func(t float64) float64

// Linear is used for intensity fades.
func Linear(t float64) float64 { return t }

// EaseInQuad is used for channel byte fades.
func EaseInQuad(t float64) float64 { return t * t }

type fade[T Number] struct {
	initial  T
	final    T
	duration time.Duration
	start    time.Time
	started  bool
}

// FadeableValue is a bounded value that can ease towards a target over time.
// Current always stays within [Min, Max]; Set cancels any fade in flight.
type FadeableValue[T Number] struct {
	min     T
	max     T
	current T
	fade    *fade[T]
}

// NewFadeableValue creates a value bounded by [lo, hi], starting at lo.
func NewFadeableValue[T Number](lo, hi T) FadeableValue[T] {
	if lo > hi {
		lo, hi = hi, lo
	}
	return FadeableValue[T]{min: lo, max: hi, current: lo}
}

func (v *FadeableValue[T]) Min() T     { return v.min }
func (v *FadeableValue[T]) Max() T     { return v.max }
func (v *FadeableValue[T]) Current() T { return v.current }

// Fading reports whether a fade is in flight.
func (v *FadeableValue[T]) Fading() bool {
	return v.fade != nil
}

// Target returns where the value is heading: the fade target, or Current.
func (v *FadeableValue[T]) Target() T {
	if v.fade != nil {
		return v.fade.final
	}
	return v.current
}

// SetRange changes the bounds and re-clamps the current value and fade target.
func (v *FadeableValue[T]) SetRange(lo, hi T) {
	if lo > hi {
		lo, hi = hi, lo
	}
	v.min, v.max = lo, hi
	v.current = v.clamp(v.current)
	if v.fade != nil {
		v.fade.initial = v.clamp(v.fade.initial)
		v.fade.final = v.clamp(v.fade.final)
	}
}

// Set writes the value directly, cancelling any fade.
func (v *FadeableValue[T]) Set(x T) {
	v.fade = nil
	v.current = v.clamp(x)
}

// Fade starts easing from the current value to final over d, measured from now.
func (v *FadeableValue[T]) Fade(final T, d time.Duration, now time.Time) {
	v.fade = &fade[T]{
		initial:  v.current,
		final:    v.clamp(final),
		duration: d,
		start:    now,
	}
}

// Refresh recomputes Current from the elapsed fade time. It returns true on a
// boundary event: the first refresh of a new fade, and the refresh that completes it.
func (v *FadeableValue[T]) Refresh(now time.Time, ease Easing) bool {
	f := v.fade
	if f == nil {
		return false
	}

	boundary := false
	if !f.started {
		f.started = true
		boundary = true
	}

	t := 1.0
	if f.duration > 0 {
		t = float64(now.Sub(f.start)) / float64(f.duration)
	}
	if t >= 1 {
		v.current = f.final
		v.fade = nil
		return true
	}
	if t < 0 {
		t = 0
	}

	x := float64(f.initial) + ease(t)*(float64(f.final)-float64(f.initial))
	v.current = v.clamp(fromFloat[T](x))
	return boundary
}

func (v *FadeableValue[T]) clamp(x T) T {
	if x < v.min {
		return v.min
	}
	if x > v.max {
		return v.max
	}
	return x
}

func fromFloat[T Number](x float64) T {
	var zero T
	if _, ok := any(zero).(uint8); ok {
		return T(roundToByte(x))
	}
	return T(x)
}

func roundToByte(x float64) uint8 {
	switch {
	case math.IsNaN(x) || x <= 0:
		return 0
	case x >= 255:
		return 255
	default:
		return uint8(math.Round(x))
	}
}
