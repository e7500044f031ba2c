package dmx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected          = errors.New("dmx widget not connected")
	ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")
)

// OutputConfig controls the frame cadence and the reconnect loop.
type OutputConfig struct {
	FrameInterval  time.Duration // Time between frames while connected
	ReconnectPause time.Duration // Pause between close and reopen
	MaxReconnects  int           // Attempts per outage, 0 = infinite
}

// DefaultOutputConfig returns the usual DMX refresh settings.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		FrameInterval:  20 * time.Millisecond,
		ReconnectPause: time.Second,
		MaxReconnects:  0,
	}
}

// Output continuously sends the session's universe to the widget.
type Output struct {
	session *Session
	opener  Opener
	config  OutputConfig

	mu   sync.Mutex
	port io.WriteCloser

	connected    atomic.Bool
	reconnecting atomic.Bool
	frames       atomic.Uint64
	lost         chan struct{}
	flush        chan struct{}

	onChange func(connected bool)
}

func NewOutput(session *Session, opener Opener, config OutputConfig) *Output {
	if config.FrameInterval <= 0 {
		config.FrameInterval = DefaultOutputConfig().FrameInterval
	}
	return &Output{
		session: session,
		opener:  opener,
		config:  config,
		lost:    make(chan struct{}, 1),
		flush:   make(chan struct{}, 1),
	}
}

// OnConnectivity registers a callback invoked on every connect/disconnect
// transition. It must be set before Run.
func (o *Output) OnConnectivity(fn func(connected bool)) {
	o.onChange = fn
}

func (o *Output) Connected() bool { return o.connected.Load() }

// Frames returns the number of frames written so far.
func (o *Output) Frames() uint64 { return o.frames.Load() }

// Connect opens the link once.
func (o *Output) Connect() error {
	port, err := o.opener.Open()
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.port = port
	o.mu.Unlock()
	o.setConnected(true)
	return nil
}

// Flush asks the output task to write the current universe ahead of the next
// tick. It never blocks; requests made while a write is pending coalesce.
func (o *Output) Flush() {
	select {
	case o.flush <- struct{}{}:
	default:
	}
}

// send writes the current universe. Only Run calls it. A write failure marks
// the link down and wakes the reconnect loop.
func (o *Output) send() error {
	if !o.connected.Load() {
		return ErrNotConnected
	}

	frame := o.session.Frame()

	o.mu.Lock()
	port := o.port
	var err error
	if port == nil {
		err = ErrNotConnected
	} else {
		_, err = port.Write(frame)
	}
	o.mu.Unlock()

	if err != nil {
		o.markLost(err)
		return fmt.Errorf("failed to write frame: %w", err)
	}
	o.frames.Add(1)
	return nil
}

// Run writes a frame every FrameInterval until ctx is cancelled, reconnecting
// whenever the link drops.
func (o *Output) Run(ctx context.Context) error {
	if !o.connected.Load() {
		if err := o.Connect(); err != nil {
			log.Warn().Err(err).Msg("DMX widget unavailable, retrying")
			o.signalLost()
		}
	}

	ticker := time.NewTicker(o.config.FrameInterval)
	defer ticker.Stop()
	defer func() {
		o.close()
		o.setConnected(false)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.lost:
			if err := o.reconnect(ctx); err != nil {
				return err
			}
		case <-ticker.C:
			if o.connected.Load() {
				_ = o.send()
			}
		case <-o.flush:
			if o.connected.Load() {
				_ = o.send()
			}
		}
	}
}

func (o *Output) markLost(err error) {
	if o.connected.CompareAndSwap(true, false) {
		log.Warn().Err(err).Msg("DMX widget disconnected")
		o.notify(false)
	}
	o.signalLost()
}

func (o *Output) signalLost() {
	select {
	case o.lost <- struct{}{}:
	default:
	}
}

// reconnect closes and reopens the link until it succeeds, ctx is cancelled
// or MaxReconnects is exceeded. Only one reconnect runs at a time.
func (o *Output) reconnect(ctx context.Context) error {
	if !o.reconnecting.CompareAndSwap(false, true) {
		return nil
	}
	defer o.reconnecting.Store(false)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if o.config.MaxReconnects > 0 && attempt > o.config.MaxReconnects {
			log.Error().
				Int("max_reconnects", o.config.MaxReconnects).
				Msg("DMX widget: max reconnects exceeded, giving up")
			return ErrMaxReconnectsExceeded
		}

		o.close()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.config.ReconnectPause):
		}

		if err := o.Connect(); err != nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("DMX widget reconnect failed")
			continue
		}
		log.Info().Int("attempt", attempt).Msg("DMX widget reconnected")
		return nil
	}
}

func (o *Output) close() {
	o.mu.Lock()
	port := o.port
	o.port = nil
	o.mu.Unlock()
	if port != nil {
		if err := port.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close DMX widget")
		}
	}
}

func (o *Output) setConnected(v bool) {
	if o.connected.Swap(v) != v {
		if v {
			log.Info().Msg("DMX widget connected")
		}
		o.notify(v)
	}
}

func (o *Output) notify(v bool) {
	if o.onChange != nil {
		o.onChange(v)
	}
}
