package dmx

import "sync"

// Session holds the universe shared between the lighting engine (writer) and
// the output task (reader).
type Session struct {
	mu       sync.Mutex
	universe [UniverseLength]byte
}

func NewSession() *Session {
	return &Session{}
}

// SetChannel writes one channel. Index 0 (the start code) and indices past
// the universe are ignored.
func (s *Session) SetChannel(index uint32, value uint8) {
	if index == 0 || index >= UniverseLength {
		return
	}
	s.mu.Lock()
	s.universe[index] = value
	s.mu.Unlock()
}

// Channel reads one channel.
func (s *Session) Channel(index uint32) uint8 {
	if index >= UniverseLength {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.universe[index]
}

// Universe returns a copy of the buffer.
func (s *Session) Universe() [UniverseLength]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.universe
}

// Frame returns the encoded widget frame for the current buffer.
func (s *Session) Frame() []byte {
	return EncodeFrame(s.Universe())
}

// Clear blacks out every channel.
func (s *Session) Clear() {
	s.mu.Lock()
	s.universe = [UniverseLength]byte{}
	s.mu.Unlock()
}
