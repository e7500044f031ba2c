package dmx

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Opener opens the link to the widget.
type Opener interface {
	Open() (io.WriteCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func() (io.WriteCloser, error)

func (f OpenerFunc) Open() (io.WriteCloser, error) { return f() }

// SerialOpener opens a USB-serial DMX widget.
type SerialOpener struct {
	Port     string
	BaudRate int
}

func (s SerialOpener) Open() (io.WriteCloser, error) {
	baud := s.BaudRate
	if baud == 0 {
		baud = 250000
	}
	p, err := serial.Open(s.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Port, err)
	}
	return p, nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Close() error                { return nil }

// Discard is an opener for running without hardware.
var Discard Opener = OpenerFunc(func() (io.WriteCloser, error) { return discard{}, nil })
