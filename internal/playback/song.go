package playback

import (
	"time"

	"github.com/dokzlo13/fountaind/internal/audio"
	"github.com/dokzlo13/fountaind/internal/command"
)

// DefaultTail is how long a song without an explicit duration keeps running
// after its last command.
const DefaultTail = time.Second

// Lengther is implemented by oracles that know how long their audio runs.
// *audio.Silence implements it.
type Lengther interface {
	Length() time.Duration
}

// Song is one show: a command timeline synchronised to an audio oracle.
type Song struct {
	Name     string
	Timeline *command.Timeline
	// Duration bounds the run. Zero means the oracle's own length when it
	// reports one, otherwise the last command plus DefaultTail.
	Duration time.Duration
	// Oracle reports the audio position; nil means a silent bed of Duration.
	Oracle audio.Oracle
}

func (s Song) length() time.Duration {
	if s.Duration > 0 {
		return s.Duration
	}
	if l, ok := s.Oracle.(Lengther); ok && l.Length() > 0 {
		return l.Length()
	}
	if s.Timeline == nil {
		return DefaultTail
	}
	return s.Timeline.End() + DefaultTail
}
