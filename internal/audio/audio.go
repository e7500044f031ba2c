// Package audio defines the playback-position oracle the show loop follows.
// Decoding and mixing live in an external engine; this package only models
// its clock.
package audio

import (
	"sync"
	"time"

	"github.com/dokzlo13/fountaind/internal/clock"
)

// State is the transport state of an oracle.
type State int

const (
	Stopped State = iota
	Paused
	Playing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// Oracle reports the authoritative playback position of a song.
type Oracle interface {
	Position() time.Duration
	State() State
	Play()
	Pause()
	Stop()
	Seek(d time.Duration)
}

// Silence is a silent bed of fixed length driven by a clock. It stops itself
// at the end, which is how the leader and externally rendered songs end.
type Silence struct {
	clock  clock.Clock
	length time.Duration

	mu      sync.Mutex
	state   State
	offset  time.Duration // position when last started or paused
	started time.Time
}

// NewSilence creates a stopped silent bed of the given length.
func NewSilence(clk clock.Clock, length time.Duration) *Silence {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Silence{clock: clk, length: length}
}

// Length returns the total length.
func (s *Silence) Length() time.Duration { return s.length }

func (s *Silence) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update()
	return s.position()
}

func (s *Silence) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update()
	return s.state
}

func (s *Silence) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update()
	if s.state == Playing {
		return
	}
	if s.state == Stopped {
		s.offset = 0
	}
	s.started = s.clock.Now()
	s.state = Playing
}

func (s *Silence) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update()
	if s.state != Playing {
		return
	}
	s.offset = s.position()
	s.state = Paused
}

func (s *Silence) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Stopped
	s.offset = 0
}

func (s *Silence) Seek(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d = max(0, min(d, s.length))
	s.offset = d
	s.started = s.clock.Now()
}

func (s *Silence) position() time.Duration {
	p := s.offset
	if s.state == Playing {
		p += s.clock.Now().Sub(s.started)
	}
	return min(p, s.length)
}

// update stops a playing bed that has reached its end.
func (s *Silence) update() {
	if s.state == Playing && s.position() >= s.length {
		s.state = Stopped
		s.offset = s.length
	}
}
